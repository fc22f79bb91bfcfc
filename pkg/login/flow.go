// Package login drives the bridge login flow: eligibility, identity
// resolution, identity mapping upkeep, group reconciliation and session
// issuance. The HTTP surface lives in handlers.go; the orchestration in
// this file is transport-agnostic.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/groupsync"
	"github.com/oidcbridge/oidcbridge/pkg/identity"
	"github.com/oidcbridge/oidcbridge/pkg/observability"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

// ErrNotEligible denies a login whose account eligibility window has
// lapsed at the identity provider.
var ErrNotEligible = errors.New("account is no longer eligible")

// ConfigLoader yields the current bridge configuration. It is consulted
// once per login so configuration changes take effect immediately.
type ConfigLoader interface {
	Load() (*settings.OpenIDConfig, error)
}

// EligibilityGate decides whether the subject may log in at all.
type EligibilityGate interface {
	Check(userInfo claims.Claims, cfg *settings.OpenIDConfig) bool
}

// AccountResolver resolves verified claims to a local account.
type AccountResolver interface {
	Lookup(ctx context.Context, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*directory.Account, error)
}

// GroupReconciler reconciles the account's group memberships against
// the claims.
type GroupReconciler interface {
	Enabled(cfg *settings.OpenIDConfig) bool
	Sync(ctx context.Context, account *directory.Account, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*groupsync.Decision, error)
}

// IdentityRecorder keeps the legacy identity mapping table current.
type IdentityRecorder interface {
	LocalAccountID(ctx context.Context, externalID string) (string, bool)
	Add(ctx context.Context, externalID, localAccountID, nickname string, lastSeen time.Time) error
	Touch(ctx context.Context, externalID string, at time.Time) error
}

// Flow runs the post-authentication login pipeline.
type Flow struct {
	loader     ConfigLoader
	gate       EligibilityGate
	resolver   AccountResolver
	reconciler GroupReconciler
	identities IdentityRecorder
	metrics    *observability.Metrics
	log        *logrus.Logger
	now        func() time.Time
}

// NewFlow creates a login flow.
func NewFlow(loader ConfigLoader, gate EligibilityGate, resolver AccountResolver,
	reconciler GroupReconciler, identities IdentityRecorder,
	metrics *observability.Metrics, log *logrus.Logger) *Flow {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Flow{
		loader:     loader,
		gate:       gate,
		resolver:   resolver,
		reconciler: reconciler,
		identities: identities,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
	}
}

// Complete runs the pipeline for a subject whose token has already been
// verified. It returns the resolved local account on success. A group
// sync failure denies the login outright rather than leaving the
// account with stale memberships.
func (f *Flow) Complete(ctx context.Context, userInfo claims.Claims) (*directory.Account, error) {
	cfg, err := f.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg == nil {
		return nil, identity.ErrNoConfiguration
	}

	if !f.gate.Check(userInfo, cfg) {
		f.metrics.EligibilityDenials.Inc()
		return nil, ErrNotEligible
	}

	account, err := f.resolver.Lookup(ctx, userInfo, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.SearchMode() == settings.ModeUserID {
		f.recordIdentity(ctx, account, userInfo, cfg)
	}

	if f.reconciler.Enabled(cfg) {
		decision, err := f.reconciler.Sync(ctx, account, userInfo, cfg)
		if err != nil {
			return nil, fmt.Errorf("group sync failed for account %s: %w", account.ID, err)
		}
		f.metrics.GroupMembershipsAdded.Add(float64(len(decision.Add)))
		f.metrics.GroupMembershipsRemoved.Add(float64(len(decision.Remove)))
		for reason, count := range decision.Skipped {
			f.metrics.GroupURNsSkipped.WithLabelValues(reason).Add(float64(count))
		}
	}

	f.log.WithFields(logrus.Fields{
		"account":  account.ID,
		"username": account.Username,
		"mode":     cfg.SearchMode(),
	}).Info("login completed")

	return account, nil
}

// recordIdentity touches the mapping for a returning identity or
// records a fresh one. Failures here never block the login.
func (f *Flow) recordIdentity(ctx context.Context, account *directory.Account, userInfo claims.Claims, cfg *settings.OpenIDConfig) {
	externalID, err := userInfo.String(cfg.IdentityClaim())
	if err != nil || externalID == "" {
		return
	}

	now := f.now()
	if _, ok := f.identities.LocalAccountID(ctx, externalID); ok {
		if err := f.identities.Touch(ctx, externalID, now); err != nil {
			f.log.WithError(err).WithField("external_id", externalID).
				Warn("failed to update identity mapping last-seen timestamp")
		}
		return
	}

	nickname := account.DisplayName
	if claim := cfg.AutoProvision.DisplayNameClaim; claim != "" {
		if v, err := userInfo.String(claim); err == nil && v != "" {
			nickname = v
		}
	}
	if err := f.identities.Add(ctx, externalID, account.ID, nickname, now); err != nil {
		f.log.WithError(err).WithField("external_id", externalID).
			Warn("failed to record identity mapping")
	}
}
