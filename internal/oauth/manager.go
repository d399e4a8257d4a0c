package oauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client/transport"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
	pkgoauth "mcphub/pkg/oauth"
)

// Manager owns the OAuth machinery shared across upstreams: one provider per
// upstream, the persisted state store and the CSRF state store. The upstream
// registry holds a single Manager for the lifetime of the process.
type Manager struct {
	mu        sync.Mutex
	providers map[string]*Provider
	sink      StatusSink

	client        *pkgoauth.Client
	store         *Store
	states        *StateStore
	publicBaseURL string
}

// NewManager creates a manager persisting state under configDir, or the
// default configuration directory when configDir is empty. publicBaseURL is
// the hub's externally reachable base URL used for redirect URLs.
func NewManager(configDir, publicBaseURL string) *Manager {
	store := NewStore()
	if configDir != "" {
		store = NewStoreWithPath(configDir)
	}
	return &Manager{
		providers:     make(map[string]*Provider),
		client:        pkgoauth.NewClient(),
		store:         store,
		states:        NewStateStore(),
		publicBaseURL: publicBaseURL,
	}
}

// SetStatusSink wires the sink receiving oauth_required transitions. It must
// be called before the first ProviderFor; later providers inherit it.
func (m *Manager) SetStatusSink(sink StatusSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// ProviderFor returns the provider for the given upstream, creating it on
// first use.
func (m *Manager) ProviderFor(def *config.UpstreamDefinition) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.providers[def.Name]; ok {
		return p
	}
	p := NewProvider(ProviderConfig{
		ServerName:    def.Name,
		ServerURL:     def.URL,
		OAuth:         def.OAuth,
		PublicBaseURL: m.publicBaseURL,
		Client:        m.client,
		Store:         m.store,
		States:        m.states,
		Sink:          m.sink,
	})
	m.providers[def.Name] = p
	return p
}

// TokenStoreFor returns a transport token store for the upstream, or nil
// when the upstream has no OAuth configured.
func (m *Manager) TokenStoreFor(def *config.UpstreamDefinition) transport.TokenStore {
	if def == nil || def.OAuth == nil || !def.OAuth.Enabled {
		return nil
	}
	return NewTokenStore(m.ProviderFor(def))
}

// CompleteAuthorization validates the state parameter from an OAuth callback
// and routes the authorization code to the upstream that started the flow.
// It returns the upstream name for the callback response.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, encodedState string) (string, error) {
	state, ok := m.states.ValidateState(encodedState)
	if !ok {
		return "", fmt.Errorf("unknown or expired state parameter")
	}

	m.mu.Lock()
	provider := m.providers[state.ServerName]
	m.mu.Unlock()
	if provider == nil {
		return state.ServerName, fmt.Errorf("no oauth provider for upstream %s", state.ServerName)
	}

	if err := provider.CompleteAuthorization(ctx, code); err != nil {
		return state.ServerName, err
	}
	return state.ServerName, nil
}

// Evict drops the cached provider for an upstream so the next ProviderFor
// sees fresh configuration. Persisted tokens survive.
func (m *Manager) Evict(serverName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, serverName)
}

// Forget drops the cached provider and deletes all persisted OAuth state for
// an upstream. Used when the upstream itself is deleted.
func (m *Manager) Forget(serverName string) error {
	m.Evict(serverName)
	if err := m.store.Delete(serverName); err != nil {
		return err
	}
	logging.Info("OAuthManager", "Forgot oauth state for %s", serverName)
	return nil
}

// Stop terminates background work.
func (m *Manager) Stop() {
	m.states.Stop()
}
