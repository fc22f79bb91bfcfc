// Package provision creates local accounts from verified OIDC claims
// when no existing account matches and policy allows it.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/identity"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

// Provisioning failures. They abort the login flow before any account
// state is written.
var (
	ErrDisabled      = errors.New("auto provisioning is disabled")
	ErrNotAuthorized = errors.New("required provisioning attribute is not found")
)

// AccountCreationError wraps a rejection from the account store, e.g. a
// username collision.
type AccountCreationError struct {
	Username string
	Err      error
}

func (e *AccountCreationError) Error() string {
	return fmt.Sprintf("unable to create user %s: %v", e.Username, e.Err)
}

func (e *AccountCreationError) Unwrap() error { return e.Err }

// Fetcher downloads a remote resource. Used only for the avatar step.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Service implements auto-provisioning.
type Service struct {
	accounts directory.Accounts
	groups   directory.Groups
	fetcher  Fetcher
	log      *logrus.Logger

	provisioned *prometheus.CounterVec
}

// NewService creates an auto-provisioning service.
func NewService(accounts directory.Accounts, groups directory.Groups, fetcher Fetcher, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		accounts: accounts,
		groups:   groups,
		fetcher:  fetcher,
		log:      log,
	}
}

// WithProvisionedCounter wires a counter incremented per created
// account, labelled by search mode.
func (s *Service) WithProvisionedCounter(counter *prometheus.CounterVec) *Service {
	s.provisioned = counter
	return s
}

// Enabled reports whether auto-provisioning is switched on.
func (s *Service) Enabled(cfg *settings.OpenIDConfig) bool {
	return cfg != nil && cfg.AutoProvision.Enabled
}

// CreateAccount provisions a new local account from the claims. Account
// creation is all-or-nothing up to the avatar step; avatar failures are
// logged and never abort the provisioned account.
func (s *Service) CreateAccount(ctx context.Context, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*directory.Account, error) {
	if !s.Enabled(cfg) {
		return nil, ErrDisabled
	}

	attribute := cfg.IdentityClaim()
	identityValue, err := userInfo.String(attribute)
	if err != nil {
		return nil, fmt.Errorf("configured attribute %s is not known: %w", attribute, err)
	}

	if err := s.checkProvisioningGate(userInfo, cfg); err != nil {
		return nil, err
	}

	var username, email string
	if cfg.SearchMode() == settings.ModeEmail {
		// The identity claim is an email address; the username is an
		// opaque generated identifier.
		username = generateUserID()
		email = identityValue
	} else {
		username = identityValue
		if cfg.AutoProvision.StripUserIDDomain {
			username = identity.StripDomain(username)
		}
	}

	account, err := s.accounts.Create(ctx, username, generateSecret())
	if err != nil {
		return nil, &AccountCreationError{Username: username, Err: err}
	}
	if err := s.accounts.SetEnabled(ctx, account.ID, true); err != nil {
		return nil, fmt.Errorf("failed to enable account %s: %w", username, err)
	}
	account.Enabled = true

	s.log.WithFields(logrus.Fields{
		"account": username,
		"mode":    cfg.SearchMode(),
	}).Info("auto-provisioned account")
	if s.provisioned != nil {
		s.provisioned.WithLabelValues(cfg.SearchMode()).Inc()
	}

	if email == "" {
		if emailClaim := cfg.AutoProvision.EmailClaim; emailClaim != "" {
			if v, err := userInfo.String(emailClaim); err == nil {
				email = v
			}
		}
	}
	if email != "" {
		if err := s.accounts.SetEmail(ctx, account.ID, email); err != nil {
			return nil, fmt.Errorf("failed to set email on %s: %w", username, err)
		}
		account.Email = email
	}

	if displayNameClaim := cfg.AutoProvision.DisplayNameClaim; displayNameClaim != "" {
		if displayName, err := userInfo.String(displayNameClaim); err == nil {
			if err := s.accounts.SetDisplayName(ctx, account.ID, displayName); err != nil {
				return nil, fmt.Errorf("failed to set display name on %s: %w", username, err)
			}
			account.DisplayName = displayName
		}
	}

	// Initial groups are best effort; a missing group is skipped.
	for _, groupID := range cfg.AutoProvision.Groups {
		group, err := s.groups.Get(ctx, groupID)
		if err != nil || group == nil {
			continue
		}
		if err := s.groups.AddMember(ctx, group.ID, account.ID); err != nil {
			s.log.WithError(err).WithField("group", groupID).Warn("failed to add provisioned account to initial group")
		}
	}

	s.applyAvatar(ctx, account, userInfo, cfg)

	return account, nil
}

// checkProvisioningGate enforces the optional cohort membership gate:
// the configured provisioning claim must be a list containing the
// configured provisioning attribute.
func (s *Service) checkProvisioningGate(userInfo claims.Claims, cfg *settings.OpenIDConfig) error {
	provisioningClaim := cfg.AutoProvision.ProvisioningClaim
	if provisioningClaim == "" {
		return nil
	}

	s.log.WithField("claim", provisioningClaim).Debug("provisioning claim is configured for auto-provision")

	values, err := userInfo.StringList(provisioningClaim)
	if err != nil {
		return ErrNotAuthorized
	}
	for _, v := range values {
		if v == cfg.AutoProvision.ProvisioningAttribute {
			return nil
		}
	}
	return ErrNotAuthorized
}

// applyAvatar downloads the picture claim URL and stores it as the
// account avatar. Failures are logged and swallowed.
func (s *Service) applyAvatar(ctx context.Context, account *directory.Account, userInfo claims.Claims, cfg *settings.OpenIDConfig) {
	pictureClaim := cfg.AutoProvision.PictureClaim
	if pictureClaim == "" || s.fetcher == nil {
		return
	}
	pictureURL, err := userInfo.String(pictureClaim)
	if err != nil || pictureURL == "" {
		return
	}

	image, err := s.fetcher.Get(ctx, pictureURL)
	if err == nil {
		err = s.accounts.SetAvatar(ctx, account.ID, image)
	}
	if err != nil {
		s.log.WithError(err).WithField("url", pictureURL).Error("error setting profile picture")
	}
}

// generateUserID returns an opaque username for accounts provisioned in
// email mode.
func generateUserID() string {
	return "oidc-user-" + uuid.NewString()
}

// generateSecret returns a random secret for the provisioned account.
// The account authenticates externally; the secret is never surfaced.
func generateSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
