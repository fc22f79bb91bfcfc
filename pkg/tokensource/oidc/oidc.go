// Package oidc implements tokensource.TokenSource over the coreos
// go-oidc client library.
package oidc

import (
	"context"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
	"github.com/oidcbridge/oidcbridge/pkg/tokensource"
)

// defaultScopes is requested when the configuration names none.
var defaultScopes = []string{gooidc.ScopeOpenID, "profile", "email"}

// TokenSource wraps a discovered OIDC provider.
type TokenSource struct {
	provider     *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
	oauth2Config *oauth2.Config

	// useAccessTokenPayload reads claims from the access token payload
	// instead of calling the userinfo endpoint.
	useAccessTokenPayload bool
}

// New discovers the provider named by the configuration and builds a
// token source for it.
func New(ctx context.Context, cfg *settings.OpenIDConfig) (*TokenSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("openid-connect configuration is required")
	}
	if cfg.ProviderURL == "" {
		return nil, fmt.Errorf("provider-url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client-id is required")
	}

	provider, err := gooidc.NewProvider(ctx, cfg.ProviderURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID})

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &TokenSource{
		provider: provider,
		verifier: verifier,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		useAccessTokenPayload: cfg.UseAccessTokenPayload,
	}, nil
}

// AuthCodeURL returns the provider authorization URL for the state.
func (ts *TokenSource) AuthCodeURL(state string) string {
	return ts.oauth2Config.AuthCodeURL(state)
}

// Exchange redeems an authorization code for a token.
func (ts *TokenSource) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := ts.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// Claims verifies the ID token carried by the OAuth2 token and returns
// the subject's claims. Unless the configuration opts into the access
// token payload, the ID token claims are merged with the userinfo
// response, userinfo taking precedence for claims present in both.
func (ts *TokenSource) Claims(ctx context.Context, token *oauth2.Token) (claims.Claims, string, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return claims.Claims{}, "", fmt.Errorf("missing id_token in token response")
	}

	idToken, err := ts.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return claims.Claims{}, "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	merged := map[string]any{}
	if err := idToken.Claims(&merged); err != nil {
		return claims.Claims{}, "", fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if !ts.useAccessTokenPayload {
		userInfo, err := ts.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err == nil {
			var extra map[string]any
			if err := userInfo.Claims(&extra); err == nil {
				for k, v := range extra {
					merged[k] = v
				}
			}
		}
	}

	return claims.FromMap(merged), idToken.Subject, nil
}

// WellKnownConfig returns the provider discovery document.
func (ts *TokenSource) WellKnownConfig(_ context.Context) (*tokensource.WellKnown, error) {
	var wk tokensource.WellKnown
	if err := ts.provider.Claims(&wk); err != nil {
		return nil, fmt.Errorf("failed to read provider discovery document: %w", err)
	}
	return &wk, nil
}
