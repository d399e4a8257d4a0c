package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
auth:
  enabled: true
  bearerKey: top-secret
`)
	writeFile(t, filepath.Join(dir, UpstreamsDir, "shared.yaml"), `
kind: sse
url: https://shared.example.com/sse
oauth:
  enabled: true
  clientSecret: oauth-secret
`)
	writeFile(t, filepath.Join(dir, UpstreamsDir, "alices.yaml"), `
kind: stdio
command: npx
owner: alice
`)
	writeFile(t, filepath.Join(dir, GroupsDir, "ops.yaml"), `
servers: [shared]
`)

	store, err := NewStore(dir)
	require.NoError(t, err)
	return store
}

func TestStore_RawSettings(t *testing.T) {
	store := newTestStore(t)

	raw := store.RawSettings()
	assert.Equal(t, "top-secret", raw.Hub.Auth.BearerKey)
	require.Len(t, raw.Upstreams, 2)
	assert.Equal(t, "oauth-secret", findUpstream(t, raw.Upstreams, "shared").OAuth.ClientSecret)
}

func TestStore_Settings_FiltersOwnerAndSecrets(t *testing.T) {
	store := newTestStore(t)

	anon := store.Settings("")
	assert.Empty(t, anon.Hub.Auth.BearerKey)
	require.Len(t, anon.Upstreams, 1)
	assert.Equal(t, "shared", anon.Upstreams[0].Name)
	assert.Empty(t, anon.Upstreams[0].OAuth.ClientSecret)

	alice := store.Settings("alice")
	require.Len(t, alice.Upstreams, 2)

	bob := store.Settings("bob")
	require.Len(t, bob.Upstreams, 1)
}

func TestStore_Settings_DoesNotMutateRaw(t *testing.T) {
	store := newTestStore(t)

	_ = store.Settings("")
	raw := store.RawSettings()
	assert.Equal(t, "top-secret", raw.Hub.Auth.BearerKey)
	assert.Equal(t, "oauth-secret", findUpstream(t, raw.Upstreams, "shared").OAuth.ClientSecret)
}

func TestStore_Lookups(t *testing.T) {
	store := newTestStore(t)

	def, ok := store.Upstream("shared")
	require.True(t, ok)
	assert.Equal(t, UpstreamKindSSE, def.Kind)

	_, ok = store.Upstream("missing")
	assert.False(t, ok)

	grp, ok := store.Group("ops")
	require.True(t, ok)
	require.Len(t, grp.Servers, 1)
	assert.Equal(t, "shared", grp.Servers[0].Name)

	_, ok = store.Group("missing")
	assert.False(t, ok)
}

func TestStore_ReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	assert.Empty(t, store.Upstreams())

	writeFile(t, filepath.Join(dir, UpstreamsDir, "late.yaml"), "kind: stdio\ncommand: echo\n")
	require.NoError(t, store.Reload())

	defs := store.Upstreams()
	require.Len(t, defs, 1)
	assert.Equal(t, "late", defs[0].Name)
}

func findUpstream(t *testing.T, defs []UpstreamDefinition, name string) UpstreamDefinition {
	t.Helper()
	for _, d := range defs {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("upstream %q not found", name)
	return UpstreamDefinition{}
}
