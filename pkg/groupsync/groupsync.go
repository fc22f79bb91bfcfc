// Package groupsync reconciles local group memberships against the
// group entitlement URNs carried by a verified identity's claims.
//
// Reconciliation is split into two phases: Decide computes the add and
// remove sets without mutating anything, and Apply performs the
// membership changes. Sync composes both. Per-URN problems (malformed
// URN, unmapped group, missing local group, protected group) are logged
// and skipped; only a disabled feature or a missing groups claim aborts
// the operation, and both are detected before any mutation.
package groupsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/groupurn"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

// groupAttribute introduces the external group UUID inside the
// namespace-specific string, after the realm segment.
const groupAttribute = "group:"

// Top-level reconciliation failures. Both abort before any membership
// mutation.
var (
	ErrSyncDisabled       = errors.New("group sync is disabled")
	ErrGroupsClaimMissing = errors.New("groups claim must be configured for group sync")
)

// MappingResolver resolves an external group UUID to a local group ID.
type MappingResolver interface {
	LocalGroupID(ctx context.Context, externalUUID string) (string, bool)
}

// Skip reasons recorded per URN during the decision phase.
const (
	SkipMalformed    = "malformed"
	SkipForeign      = "foreign"
	SkipUnmapped     = "unmapped"
	SkipProtected    = "protected"
	SkipMissingGroup = "missing-group"
)

// Decision is the outcome of the pure reconciliation phase. Add and
// Remove preserve the order in which groups were encountered.
type Decision struct {
	// Add lists local group IDs the account should be added to.
	Add []string
	// Remove lists local group IDs the account should be removed from.
	Remove []string
	// Seen lists every resolved, existing external group, including
	// those the account is already a member of.
	Seen []string
	// Skipped counts the URNs skipped during the decision, by reason.
	Skipped map[string]int
}

func (d *Decision) skip(reason string) {
	if d.Skipped == nil {
		d.Skipped = make(map[string]int)
	}
	d.Skipped[reason]++
}

// Engine reconciles group memberships.
type Engine struct {
	groups   directory.Groups
	mappings MappingResolver
	log      *logrus.Logger
}

// NewEngine creates a group reconciliation engine.
func NewEngine(groups directory.Groups, mappings MappingResolver, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{groups: groups, mappings: mappings, log: log}
}

// Enabled reports whether group sync is switched on.
func (e *Engine) Enabled(cfg *settings.OpenIDConfig) bool {
	return cfg != nil && cfg.GroupSync.Enabled
}

// GroupURNs extracts the raw entitlement URN strings from the claims.
// An absent or malformed groups claim is a configuration error: group
// sync cannot silently proceed with no group data.
func GroupURNs(userInfo claims.Claims, cfg *settings.OpenIDConfig) ([]string, error) {
	groupsClaim := cfg.GroupsClaim()
	if groupsClaim == "" {
		return nil, ErrGroupsClaimMissing
	}
	urns, err := userInfo.StringList(groupsClaim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGroupsClaimMissing, err)
	}
	return urns, nil
}

// Decide computes the membership changes for an account with the given
// current group memberships. It reads the mapping table and the group
// store but performs no mutation.
func (e *Engine) Decide(ctx context.Context, userInfo claims.Claims, currentGroupIDs []string, cfg *settings.OpenIDConfig) (*Decision, error) {
	urns, err := GroupURNs(userInfo, cfg)
	if err != nil {
		return nil, err
	}

	current := make(map[string]bool, len(currentGroupIDs))
	for _, id := range currentGroupIDs {
		current[id] = true
	}

	decision := &Decision{}
	seen := make(map[string]bool)

	for _, raw := range urns {
		parsed, err := groupurn.ParseClaim(raw)
		if err != nil {
			e.log.Warn(err.Error())
			decision.skip(SkipMalformed)
			continue
		}

		realmPrefix := cfg.GroupsRealm() + ":"
		if parsed.Namespace != cfg.GroupsNamespace() || !strings.HasPrefix(parsed.NSS, realmPrefix) {
			e.log.WithField("urn", parsed.String()).Debug("skipping group outside configured namespace or realm")
			decision.skip(SkipForeign)
			continue
		}

		rest := strings.TrimPrefix(parsed.NSS, realmPrefix)
		if !strings.HasPrefix(rest, groupAttribute) {
			decision.skip(SkipForeign)
			continue
		}
		externalUUID := strings.TrimPrefix(rest, groupAttribute)
		e.log.WithFields(logrus.Fields{
			"namespace": parsed.Namespace,
			"group":     externalUUID,
		}).Debug("parsed group data")

		localGroupID, ok := e.mappings.LocalGroupID(ctx, externalUUID)
		if !ok {
			decision.skip(SkipUnmapped)
			continue
		}
		if cfg.IsProtectedGroup(localGroupID) {
			e.log.WithField("group", localGroupID).Warn("group is protected, not adding")
			decision.skip(SkipProtected)
			continue
		}

		group, err := e.groups.Get(ctx, localGroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s: %w", localGroupID, err)
		}
		if group == nil {
			e.log.WithFields(logrus.Fields{
				"group": externalUUID,
				"urn":   raw,
			}).Warn("mapped group does not exist, skipping")
			decision.skip(SkipMissingGroup)
			continue
		}

		if !seen[group.ID] {
			seen[group.ID] = true
			decision.Seen = append(decision.Seen, group.ID)
			if !current[group.ID] {
				decision.Add = append(decision.Add, group.ID)
			}
		}
	}

	// Remove memberships no longer asserted by the external claim set.
	for _, groupID := range currentGroupIDs {
		if seen[groupID] {
			continue
		}
		if cfg.IsProtectedGroup(groupID) {
			e.log.WithField("group", groupID).Warn("group is protected, not removing")
			continue
		}
		decision.Remove = append(decision.Remove, groupID)
	}

	return decision, nil
}

// Apply performs the membership changes of a decision.
func (e *Engine) Apply(ctx context.Context, account *directory.Account, decision *Decision) error {
	for _, groupID := range decision.Add {
		e.log.WithFields(logrus.Fields{
			"account": account.Username,
			"group":   groupID,
		}).Info("adding account to group")
		if err := e.groups.AddMember(ctx, groupID, account.ID); err != nil {
			return fmt.Errorf("failed to add %s to %s: %w", account.Username, groupID, err)
		}
	}
	for _, groupID := range decision.Remove {
		e.log.WithFields(logrus.Fields{
			"account": account.Username,
			"group":   groupID,
		}).Info("removing account from group")
		if err := e.groups.RemoveMember(ctx, groupID, account.ID); err != nil {
			return fmt.Errorf("failed to remove %s from %s: %w", account.Username, groupID, err)
		}
	}
	return nil
}

// Sync reconciles the account's group memberships against the claims.
func (e *Engine) Sync(ctx context.Context, account *directory.Account, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*Decision, error) {
	if !e.Enabled(cfg) {
		return nil, ErrSyncDisabled
	}
	if account == nil {
		return nil, errors.New("account is missing")
	}

	currentGroupIDs, err := e.groups.MemberGroupIDs(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current memberships: %w", err)
	}

	decision, err := e.Decide(ctx, userInfo, currentGroupIDs, cfg)
	if err != nil {
		return nil, err
	}
	if err := e.Apply(ctx, account, decision); err != nil {
		return nil, err
	}
	return decision, nil
}
