package identity

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

type fakeAccounts struct {
	byEmail    map[string][]directory.Account
	byUsername map[string]directory.Account
	byID       map[string]directory.Account
	calls      int
}

func (f *fakeAccounts) FindByEmail(_ context.Context, email string) ([]directory.Account, error) {
	f.calls++
	return f.byEmail[email], nil
}

func (f *fakeAccounts) FindByUsername(_ context.Context, username string) (*directory.Account, error) {
	f.calls++
	if a, ok := f.byUsername[username]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f *fakeAccounts) FindByID(_ context.Context, id string) (*directory.Account, error) {
	f.calls++
	if a, ok := f.byID[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f *fakeAccounts) Create(_ context.Context, username, _ string) (*directory.Account, error) {
	return &directory.Account{ID: "new", Username: username}, nil
}

func (f *fakeAccounts) SetEmail(context.Context, string, string) error       { return nil }
func (f *fakeAccounts) SetDisplayName(context.Context, string, string) error { return nil }
func (f *fakeAccounts) SetEnabled(context.Context, string, bool) error      { return nil }
func (f *fakeAccounts) SetAvatar(context.Context, string, []byte) error     { return nil }

type fakeIDMappings struct {
	mappings map[string]string
}

func (f *fakeIDMappings) LocalAccountID(_ context.Context, externalID string) (string, bool) {
	id, ok := f.mappings[externalID]
	return id, ok
}

type fakeProvisioner struct {
	enabled bool
	created *directory.Account
	err     error
	invoked bool
}

func (f *fakeProvisioner) Enabled(*settings.OpenIDConfig) bool { return f.enabled }

func (f *fakeProvisioner) CreateAccount(context.Context, claims.Claims, *settings.OpenIDConfig) (*directory.Account, error) {
	f.invoked = true
	return f.created, f.err
}

func newService(accounts *fakeAccounts, idMappings *fakeIDMappings, provisioner *fakeProvisioner) *LookupService {
	if accounts == nil {
		accounts = &fakeAccounts{}
	}
	if idMappings == nil {
		idMappings = &fakeIDMappings{}
	}
	if provisioner == nil {
		provisioner = &fakeProvisioner{}
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewLookupService(accounts, idMappings, provisioner, log)
}

func emailConfig() *settings.OpenIDConfig {
	return &settings.OpenIDConfig{Mode: settings.ModeEmail}
}

func TestLookup_NilConfig(t *testing.T) {
	svc := newService(nil, nil, nil)

	_, err := svc.Lookup(context.Background(), claims.FromMap(nil), nil)
	assert.ErrorIs(t, err, ErrNoConfiguration)
}

func TestLookup_MissingIdentityClaim_NeverCallsAccountStore(t *testing.T) {
	accounts := &fakeAccounts{}
	svc := newService(accounts, nil, nil)

	userInfo := claims.FromMap(map[string]any{"unrelated": "x"})
	_, err := svc.Lookup(context.Background(), userInfo, emailConfig())

	assert.ErrorIs(t, err, claims.ErrClaimMissing)
	assert.Zero(t, accounts.calls)
}

func TestLookup_EmailMode_SingleMatch(t *testing.T) {
	accounts := &fakeAccounts{byEmail: map[string][]directory.Account{
		"alice@example.org": {{ID: "id-1", Username: "alice", Backend: "oidc"}},
	}}
	svc := newService(accounts, nil, nil)

	userInfo := claims.FromMap(map[string]any{"email": "alice@example.org"})
	account, err := svc.Lookup(context.Background(), userInfo, emailConfig())

	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
}

func TestLookup_EmailMode_NoMatchProvisioningDisabled(t *testing.T) {
	svc := newService(nil, nil, nil)

	userInfo := claims.FromMap(map[string]any{"email": "ghost@example.org"})
	_, err := svc.Lookup(context.Background(), userInfo, emailConfig())

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLookup_EmailMode_NoMatchProvisioningEnabled(t *testing.T) {
	provisioner := &fakeProvisioner{
		enabled: true,
		created: &directory.Account{ID: "new", Username: "oidc-user-1"},
	}
	svc := newService(nil, nil, provisioner)

	userInfo := claims.FromMap(map[string]any{"email": "fresh@example.org"})
	account, err := svc.Lookup(context.Background(), userInfo, emailConfig())

	require.NoError(t, err)
	assert.True(t, provisioner.invoked)
	assert.Equal(t, "new", account.ID)
}

func TestLookup_EmailMode_AmbiguousMatch(t *testing.T) {
	accounts := &fakeAccounts{byEmail: map[string][]directory.Account{
		"shared@example.org": {
			{ID: "id-1", Username: "alice"},
			{ID: "id-2", Username: "bob"},
		},
	}}
	svc := newService(accounts, nil, nil)

	userInfo := claims.FromMap(map[string]any{"email": "shared@example.org"})
	_, err := svc.Lookup(context.Background(), userInfo, emailConfig())

	assert.ErrorIs(t, err, ErrAmbiguousUser)
}

func TestLookup_UserIDMode_DirectMatch(t *testing.T) {
	accounts := &fakeAccounts{byUsername: map[string]directory.Account{
		"alice": {ID: "id-1", Username: "alice", Backend: "oidc"},
	}}
	svc := newService(accounts, nil, nil)

	cfg := &settings.OpenIDConfig{
		SearchAttribute: "preferred_username",
		AutoProvision:   settings.AutoProvisionConfig{StripUserIDDomain: true},
	}
	userInfo := claims.FromMap(map[string]any{"preferred_username": "alice@example.org"})
	account, err := svc.Lookup(context.Background(), userInfo, cfg)

	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
}

func TestLookup_UserIDMode_LegacyMappingFallback(t *testing.T) {
	accounts := &fakeAccounts{byID: map[string]directory.Account{
		"acct-9": {ID: "acct-9", Username: "renamed", Backend: "oidc"},
	}}
	idMappings := &fakeIDMappings{mappings: map[string]string{
		"ext-alice": "acct-9",
	}}
	svc := newService(accounts, idMappings, nil)

	cfg := &settings.OpenIDConfig{SearchAttribute: "sub"}
	userInfo := claims.FromMap(map[string]any{"sub": "ext-alice"})
	account, err := svc.Lookup(context.Background(), userInfo, cfg)

	require.NoError(t, err)
	assert.Equal(t, "renamed", account.Username)
}

func TestLookup_UserIDMode_NoMatchProvisioningDisabled(t *testing.T) {
	svc := newService(nil, nil, nil)

	cfg := &settings.OpenIDConfig{SearchAttribute: "sub"}
	userInfo := claims.FromMap(map[string]any{"sub": "ghost"})
	_, err := svc.Lookup(context.Background(), userInfo, cfg)

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLookup_ForbiddenBackend(t *testing.T) {
	accounts := &fakeAccounts{byUsername: map[string]directory.Account{
		"alice": {ID: "id-1", Username: "alice", Backend: "ldap"},
	}}
	svc := newService(accounts, nil, nil)

	cfg := &settings.OpenIDConfig{
		SearchAttribute:     "sub",
		AllowedUserBackends: []string{"oidc"},
	}
	userInfo := claims.FromMap(map[string]any{"sub": "alice"})
	_, err := svc.Lookup(context.Background(), userInfo, cfg)

	assert.ErrorIs(t, err, ErrForbiddenBackend)
}

func TestLookup_NilAllowedBackendsAcceptsAny(t *testing.T) {
	accounts := &fakeAccounts{byUsername: map[string]directory.Account{
		"alice": {ID: "id-1", Username: "alice", Backend: "anything"},
	}}
	svc := newService(accounts, nil, nil)

	cfg := &settings.OpenIDConfig{SearchAttribute: "sub"}
	userInfo := claims.FromMap(map[string]any{"sub": "alice"})
	_, err := svc.Lookup(context.Background(), userInfo, cfg)

	assert.NoError(t, err)
}

func TestLookup_ProvisionerErrorPropagates(t *testing.T) {
	provisioner := &fakeProvisioner{enabled: true, err: errors.New("creation rejected")}
	svc := newService(nil, nil, provisioner)

	userInfo := claims.FromMap(map[string]any{"email": "fresh@example.org"})
	_, err := svc.Lookup(context.Background(), userInfo, emailConfig())

	assert.EqualError(t, err, "creation rejected")
}

func TestStripDomain(t *testing.T) {
	assert.Equal(t, "alice", StripDomain("alice@example.org"))
	assert.Equal(t, "alice", StripDomain("alice"))
	assert.Equal(t, "", StripDomain("@example.org"))
}
