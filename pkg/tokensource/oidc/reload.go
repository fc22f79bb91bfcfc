package oidc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
	"github.com/oidcbridge/oidcbridge/pkg/tokensource"
)

// ConfigLoader yields the current bridge configuration.
type ConfigLoader interface {
	Load() (*settings.OpenIDConfig, error)
}

// Reloading is a tokensource.TokenSource that rebuilds its inner token
// source whenever the provider settings change, so configuration edits
// take effect without a restart. Provider discovery runs once per
// distinct configuration, not per request.
type Reloading struct {
	loader ConfigLoader
	log    *logrus.Logger

	mu          sync.Mutex
	current     *TokenSource
	fingerprint string
}

// NewReloading creates a reloading token source.
func NewReloading(loader ConfigLoader, log *logrus.Logger) *Reloading {
	if log == nil {
		log = logrus.New()
	}
	return &Reloading{loader: loader, log: log}
}

// source returns the token source for the current configuration,
// rebuilding it when the provider settings have changed.
func (r *Reloading) source(ctx context.Context) (*TokenSource, error) {
	cfg, err := r.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("openid-connect configuration is missing")
	}

	fp := fingerprint(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.fingerprint == fp {
		return r.current, nil
	}

	ts, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if r.current != nil {
		r.log.WithField("provider", cfg.ProviderURL).Info("provider configuration changed, rebuilt token source")
	}
	r.current = ts
	r.fingerprint = fp
	return ts, nil
}

// AuthCodeURL returns the provider authorization URL for the state, or
// an empty string when the provider cannot be reached.
func (r *Reloading) AuthCodeURL(state string) string {
	ts, err := r.source(context.Background())
	if err != nil {
		r.log.WithError(err).Error("cannot build authorization URL")
		return ""
	}
	return ts.AuthCodeURL(state)
}

// Exchange redeems an authorization code for a token.
func (r *Reloading) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ts, err := r.source(ctx)
	if err != nil {
		return nil, err
	}
	return ts.Exchange(ctx, code)
}

// Claims verifies the token and returns the subject's claims.
func (r *Reloading) Claims(ctx context.Context, token *oauth2.Token) (claims.Claims, string, error) {
	ts, err := r.source(ctx)
	if err != nil {
		return claims.Claims{}, "", err
	}
	return ts.Claims(ctx, token)
}

// WellKnownConfig returns the provider discovery document.
func (r *Reloading) WellKnownConfig(ctx context.Context) (*tokensource.WellKnown, error) {
	ts, err := r.source(ctx)
	if err != nil {
		return nil, err
	}
	return ts.WellKnownConfig(ctx)
}

// fingerprint captures the configuration fields the token source is
// built from.
func fingerprint(cfg *settings.OpenIDConfig) string {
	return strings.Join([]string{
		cfg.ProviderURL,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.RedirectURL,
		strings.Join(cfg.Scopes, " "),
		fmt.Sprintf("%t", cfg.UseAccessTokenPayload),
	}, "\x00")
}
