package oidc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

type staticLoader struct {
	cfg *settings.OpenIDConfig
	err error
}

func (l *staticLoader) Load() (*settings.OpenIDConfig, error) { return l.cfg, l.err }

func TestReloading_CachesSourcePerConfiguration(t *testing.T) {
	server := newFakeProvider(t)
	loader := &staticLoader{cfg: &settings.OpenIDConfig{
		ProviderURL: server.URL,
		ClientID:    "client",
	}}

	r := NewReloading(loader, nil)

	first, err := r.source(context.Background())
	require.NoError(t, err)
	second, err := r.source(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestReloading_RebuildsOnConfigurationChange(t *testing.T) {
	server := newFakeProvider(t)
	loader := &staticLoader{cfg: &settings.OpenIDConfig{
		ProviderURL: server.URL,
		ClientID:    "client",
	}}

	r := NewReloading(loader, nil)

	first, err := r.source(context.Background())
	require.NoError(t, err)

	loader.cfg = &settings.OpenIDConfig{
		ProviderURL: server.URL,
		ClientID:    "other-client",
	}

	second, err := r.source(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Contains(t, second.AuthCodeURL("s"), "client_id=other-client")
}

func TestReloading_MissingConfiguration(t *testing.T) {
	r := NewReloading(&staticLoader{}, nil)

	_, err := r.source(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is missing")

	assert.Empty(t, r.AuthCodeURL("state"))
}
