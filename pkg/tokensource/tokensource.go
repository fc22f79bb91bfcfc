// Package tokensource defines the narrow capability the login flow
// requires from the external OIDC protocol client. The bridge core
// never talks OAuth2 directly; it consumes this interface, implemented
// by the oidc subpackage through composition over a standard client
// library.
package tokensource

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
)

// WellKnown is the subset of the provider discovery document the bridge
// surfaces.
type WellKnown struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// TokenSource authenticates against the external provider and yields
// verified claims.
type TokenSource interface {
	// AuthCodeURL returns the provider authorization URL for the state.
	AuthCodeURL(state string) string

	// Exchange redeems an authorization code for a token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// Claims verifies the token and returns the subject's claims along
	// with the subject identifier.
	Claims(ctx context.Context, token *oauth2.Token) (claims.Claims, string, error)

	// WellKnownConfig returns the provider discovery document.
	WellKnownConfig(ctx context.Context) (*WellKnown, error)
}
