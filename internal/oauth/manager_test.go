package oauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/config"
	pkgoauth "mcphub/pkg/oauth"
)

func testUpstreamDef(oauthCfg *config.UpstreamOAuth) *config.UpstreamDefinition {
	return &config.UpstreamDefinition{
		Name:  "github",
		Kind:  config.UpstreamKindStreamableHTTP,
		URL:   "https://mcp.example.com/mcp",
		OAuth: oauthCfg,
	}
}

func TestManager_ProviderForCaches(t *testing.T) {
	m := NewManager(t.TempDir(), "")
	defer m.Stop()

	def := testUpstreamDef(&config.UpstreamOAuth{Enabled: true})
	first := m.ProviderFor(def)
	second := m.ProviderFor(def)
	assert.Same(t, first, second)

	m.Evict("github")
	third := m.ProviderFor(def)
	assert.NotSame(t, first, third)
}

func TestManager_TokenStoreFor(t *testing.T) {
	m := NewManager(t.TempDir(), "")
	defer m.Stop()

	assert.Nil(t, m.TokenStoreFor(nil))
	assert.Nil(t, m.TokenStoreFor(testUpstreamDef(nil)))
	assert.Nil(t, m.TokenStoreFor(testUpstreamDef(&config.UpstreamOAuth{Enabled: false})))
	assert.NotNil(t, m.TokenStoreFor(testUpstreamDef(&config.UpstreamOAuth{Enabled: true})))
}

func TestManager_CompleteAuthorization(t *testing.T) {
	as := newFakeAuthServer(t)
	rs := newFakeResourceServer(t, as.URL(), nil)

	m := NewManager(t.TempDir(), "")
	defer m.Stop()
	sink := &recordingSink{}
	m.SetStatusSink(sink)

	def := testUpstreamDef(&config.UpstreamOAuth{Enabled: true})
	provider := m.ProviderFor(def)

	err := provider.BeginAuthorization(context.Background(), challengeFor(rs))
	require.ErrorIs(t, err, ErrAuthorizationPending)
	require.NotNil(t, sink.last())

	pending := provider.Pending()
	require.NotNil(t, pending)

	serverName, err := m.CompleteAuthorization(context.Background(), "good-code", pending.State)
	require.NoError(t, err)
	assert.Equal(t, "github", serverName)
	require.NotNil(t, provider.Tokens())
	assert.Equal(t, "access-1", provider.Tokens().AccessToken)
}

func TestManager_CompleteAuthorizationInvalidState(t *testing.T) {
	m := NewManager(t.TempDir(), "")
	defer m.Stop()

	_, err := m.CompleteAuthorization(context.Background(), "code", "bogus-state")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state")
}

func TestManager_Forget(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "")
	defer m.Stop()

	def := testUpstreamDef(&config.UpstreamOAuth{Enabled: true})
	provider := m.ProviderFor(def)
	require.NoError(t, provider.SaveTokens(&pkgoauth.Token{AccessToken: "access"}))

	require.NoError(t, m.Forget("github"))
	assert.False(t, NewStoreWithPath(dir).Get("github").HasTokens())

	// Forgetting an upstream without state is not an error.
	assert.NoError(t, m.Forget("never-seen"))
}
