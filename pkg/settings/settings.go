// Package settings holds the OpenID Connect bridge configuration and the
// loader that reads it from the host configuration store.
//
// The configuration has no lifecycle of its own: the loader is consulted
// once per login flow or administrative operation and the resulting value
// is passed into the core services explicitly. Nothing below the loader
// caches it.
package settings

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ConfigKey is the slot name under which the bridge configuration is
// stored in both the app and system configuration slots.
const ConfigKey = "openid-connect"

// Search modes for resolving an external identity to a local account.
const (
	ModeEmail  = "email"
	ModeUserID = "userid"
)

// Defaults applied for absent configuration keys.
const (
	DefaultSearchAttribute = "email"
	DefaultGroupsClaim     = "eduperson_entitlement_extended"
	DefaultGroupsNamespace = "geant"
	DefaultGroupsRealm     = "cesnet.cz"
	DefaultEligibleExpiry  = "-1 year"
)

// AutoProvisionConfig controls just-in-time account creation.
type AutoProvisionConfig struct {
	Enabled               bool     `json:"enabled"`
	EmailClaim            string   `json:"email-claim"`
	DisplayNameClaim      string   `json:"display-name-claim"`
	PictureClaim          string   `json:"picture-claim"`
	Groups                []string `json:"groups"`
	StripUserIDDomain     bool     `json:"strip-userid-domain"`
	ProvisioningClaim     string   `json:"provisioning-claim"`
	ProvisioningAttribute string   `json:"provisioning-attribute"`
}

// GroupSyncConfig controls group membership reconciliation.
type GroupSyncConfig struct {
	Enabled         bool     `json:"enabled"`
	GroupsClaim     string   `json:"groups-claim"`
	GroupsNamespace string   `json:"groups-namespace"`
	GroupsRealm     string   `json:"groups-realm"`
	ProtectedGroups []string `json:"protected-groups"`
}

// OpenIDConfig is the per-installation bridge configuration. A nil
// *OpenIDConfig means the bridge is not configured at all, which the
// core services treat as a hard error.
type OpenIDConfig struct {
	ProviderURL  string   `json:"provider-url"`
	ClientID     string   `json:"client-id"`
	ClientSecret string   `json:"client-secret"`
	Scopes       []string `json:"scopes"`
	RedirectURL  string   `json:"redirect-url"`

	Mode            string `json:"mode"`
	SearchAttribute string `json:"search-attribute"`

	// AllowedUserBackends restricts which account backends may log in
	// through the bridge. nil means unrestricted; an empty list rejects
	// every backend.
	AllowedUserBackends []string `json:"allowed-user-backends"`

	UseAccessTokenPayload bool `json:"use-access-token-payload-for-user-info"`

	AutoProvision AutoProvisionConfig `json:"auto-provision"`
	GroupSync     GroupSyncConfig     `json:"group-sync"`

	EligibleTimestampClaim string `json:"eligible-timestamp-claim"`
	EligibleExpiry         string `json:"eligible-expiry"`
	EligibleExceptionURN   string `json:"eligible-exception-urn"`
}

// SearchMode returns the effective identity search mode.
func (c *OpenIDConfig) SearchMode() string {
	if c.Mode == ModeEmail {
		return ModeEmail
	}
	return ModeUserID
}

// IdentityClaim returns the claim used as the identity key.
func (c *OpenIDConfig) IdentityClaim() string {
	if c.SearchAttribute == "" {
		return DefaultSearchAttribute
	}
	return c.SearchAttribute
}

// GroupsClaim returns the claim carrying group entitlement URNs.
func (c *OpenIDConfig) GroupsClaim() string {
	if c.GroupSync.GroupsClaim == "" {
		return DefaultGroupsClaim
	}
	return c.GroupSync.GroupsClaim
}

// GroupsNamespace returns the URN namespace accepted for group sync.
func (c *OpenIDConfig) GroupsNamespace() string {
	if c.GroupSync.GroupsNamespace == "" {
		return DefaultGroupsNamespace
	}
	return c.GroupSync.GroupsNamespace
}

// GroupsRealm returns the realm prefix accepted for group sync.
func (c *OpenIDConfig) GroupsRealm() string {
	if c.GroupSync.GroupsRealm == "" {
		return DefaultGroupsRealm
	}
	return c.GroupSync.GroupsRealm
}

// ProtectedGroups returns the local groups exempt from automatic
// membership changes.
func (c *OpenIDConfig) ProtectedGroups() []string {
	if c.GroupSync.ProtectedGroups == nil {
		return []string{"admin"}
	}
	return c.GroupSync.ProtectedGroups
}

// IsProtectedGroup reports whether the local group ID is protected.
func (c *OpenIDConfig) IsProtectedGroup(groupID string) bool {
	for _, g := range c.ProtectedGroups() {
		if g == groupID {
			return true
		}
	}
	return false
}

// EligibleExpiryExpr returns the relative expiry expression for the
// eligibility gate.
func (c *OpenIDConfig) EligibleExpiryExpr() string {
	if c.EligibleExpiry == "" {
		return DefaultEligibleExpiry
	}
	return c.EligibleExpiry
}

// ConfigStore is the host key/value configuration capability. The app
// slot is deployment-specific and takes precedence; the system slot is
// installation-wide.
type ConfigStore interface {
	GetAppValue(key string) (string, bool)
	GetSystemValue(key string) (string, bool)
}

// Loader reads the bridge configuration from a ConfigStore. Loaders are
// cheap; services hold one and call Load per operation to keep the
// configuration fresh.
type Loader struct {
	store ConfigStore
	log   *logrus.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(store ConfigStore, log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}
	return &Loader{store: store, log: log}
}

// Load returns the current configuration, or nil when neither slot is
// set. An app slot holding malformed JSON is logged and the system slot
// used instead; a malformed system slot is an error.
func (l *Loader) Load() (*OpenIDConfig, error) {
	if raw, ok := l.store.GetAppValue(ConfigKey); ok && raw != "" {
		cfg, err := parse(raw)
		if err == nil {
			return cfg, nil
		}
		l.log.WithError(err).Error("app configuration slot holds malformed JSON, falling back to system slot")
	}

	raw, ok := l.store.GetSystemValue(ConfigKey)
	if !ok || raw == "" {
		return nil, nil
	}
	return parse(raw)
}

func parse(raw string) (*OpenIDConfig, error) {
	var cfg OpenIDConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse openid-connect configuration: %w", err)
	}
	return &cfg, nil
}
