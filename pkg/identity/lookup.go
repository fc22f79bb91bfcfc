// Package identity resolves a verified external identity to exactly one
// local account.
//
// Resolution order depends on the configured search mode. Email mode
// matches on the email address carried by the identity claim and
// requires the match to be unique. Userid mode matches on username,
// falls back to the persisted legacy identity mapping, and finally to
// auto-provisioning when policy allows.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

// Provisioner is the auto-provisioning capability the lookup service
// falls back to when no existing account matches.
type Provisioner interface {
	Enabled(cfg *settings.OpenIDConfig) bool
	CreateAccount(ctx context.Context, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*directory.Account, error)
}

// IdentityMappingStore is the legacy external-to-local identity mapping
// lookup used as a fallback in userid mode.
type IdentityMappingStore interface {
	LocalAccountID(ctx context.Context, externalID string) (string, bool)
}

// LookupService resolves claims to local accounts.
type LookupService struct {
	accounts    directory.Accounts
	idMappings  IdentityMappingStore
	provisioner Provisioner
	log         *logrus.Logger
}

// NewLookupService creates an identity lookup service.
func NewLookupService(accounts directory.Accounts, idMappings IdentityMappingStore, provisioner Provisioner, log *logrus.Logger) *LookupService {
	if log == nil {
		log = logrus.New()
	}
	return &LookupService{
		accounts:    accounts,
		idMappings:  idMappings,
		provisioner: provisioner,
		log:         log,
	}
}

// Lookup resolves the claims to exactly one local account, invoking
// auto-provisioning when no account matches and policy allows it.
func (s *LookupService) Lookup(ctx context.Context, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*directory.Account, error) {
	if cfg == nil {
		return nil, ErrNoConfiguration
	}

	attribute := cfg.IdentityClaim()
	identityValue, err := userInfo.String(attribute)
	if err != nil {
		return nil, fmt.Errorf("configured attribute %s is not known: %w", attribute, err)
	}

	if cfg.SearchMode() == settings.ModeEmail {
		return s.lookupByEmail(ctx, identityValue, userInfo, cfg)
	}
	return s.lookupByUserID(ctx, identityValue, userInfo, cfg)
}

func (s *LookupService) lookupByEmail(ctx context.Context, email string, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*directory.Account, error) {
	matches, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to search accounts by email: %w", err)
	}

	switch len(matches) {
	case 0:
		if s.provisioner.Enabled(cfg) {
			return s.provisioner.CreateAccount(ctx, userInfo, cfg)
		}
		return nil, fmt.Errorf("user with %s: %w", email, ErrUserNotFound)
	case 1:
		account := &matches[0]
		if err := s.validateBackend(account, cfg); err != nil {
			return nil, err
		}
		return account, nil
	default:
		return nil, fmt.Errorf("%s: %w", email, ErrAmbiguousUser)
	}
}

func (s *LookupService) lookupByUserID(ctx context.Context, externalID string, userInfo claims.Claims, cfg *settings.OpenIDConfig) (*directory.Account, error) {
	username := externalID
	if cfg.AutoProvision.StripUserIDDomain {
		username = StripDomain(username)
	}

	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to search accounts by username: %w", err)
	}

	if account == nil {
		s.log.WithField("external_id", externalID).Debug("looking up legacy identity mapping")
		if accountID, ok := s.idMappings.LocalAccountID(ctx, externalID); ok {
			account, err = s.accounts.FindByID(ctx, accountID)
			if err != nil {
				return nil, fmt.Errorf("failed to load mapped account: %w", err)
			}
			if account != nil {
				s.log.WithFields(logrus.Fields{
					"external_id":   externalID,
					"local_account": account.Username,
				}).Info("resolved user through legacy identity mapping")
			}
		}
		if account == nil {
			if s.provisioner.Enabled(cfg) {
				return s.provisioner.CreateAccount(ctx, userInfo, cfg)
			}
			return nil, fmt.Errorf("user %s: %w", externalID, ErrUserNotFound)
		}
	}

	if err := s.validateBackend(account, cfg); err != nil {
		return nil, err
	}
	return account, nil
}

// validateBackend enforces the allowed-user-backends restriction. A nil
// list accepts any backend.
func (s *LookupService) validateBackend(account *directory.Account, cfg *settings.OpenIDConfig) error {
	if cfg.AllowedUserBackends == nil {
		return nil
	}
	for _, backend := range cfg.AllowedUserBackends {
		if account.Backend == backend {
			return nil
		}
	}
	return fmt.Errorf("backend %q: %w", account.Backend, ErrForbiddenBackend)
}

// StripDomain cuts everything from the first '@' onward. A value
// without '@' is returned unchanged.
func StripDomain(value string) string {
	if local, _, found := strings.Cut(value, "@"); found {
		return local
	}
	return value
}
