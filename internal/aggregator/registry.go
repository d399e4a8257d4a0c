package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"mcphub/internal/config"
	"mcphub/internal/mcpserver"
	"mcphub/internal/oauth"
	"mcphub/pkg/logging"
)

// keepAlivePingTimeout bounds a single keep-alive ping round trip.
const keepAlivePingTimeout = 10 * time.Second

// registerConcurrency caps how many upstreams connect in parallel during a
// full RegisterAll sweep.
const registerConcurrency = 8

// UpstreamRegistry manages the set of registered upstream servers and their
// discovered catalogs.
//
// The registry owns the connection lifecycle: it creates transport clients
// from upstream definitions, runs the initialize handshake, discovers tools
// and prompts (prefixing their names with "<upstream><separator>"), and keeps
// SSE connections alive with periodic pings. Connection failures never fail
// registration; they are recorded in the upstream's status and surfaced
// through health reporting.
//
// Registration, deregistration and reconnects signal the buffered update
// channel so the downstream session layer can re-project catalogs and emit
// list-changed notifications.
//
// The registry also implements oauth.StatusSink: when an upstream's tokens
// are invalidated or a new authorization flow starts, the provider flips the
// upstream into the oauth_required status through this interface.
type UpstreamRegistry struct {
	mu        sync.RWMutex
	upstreams map[string]*Upstream

	store *config.Store
	auth  *oauth.Manager

	// updateChan signals catalog changes. Buffered so notifications never
	// block registration; coalescing repeated signals is fine because the
	// consumer re-reads the full state.
	updateChan chan struct{}
}

// NewUpstreamRegistry creates a registry reading upstream definitions from
// store. auth may be nil, in which case upstreams never enter oauth_required
// and no tokens are attached to transports.
func NewUpstreamRegistry(store *config.Store, auth *oauth.Manager) *UpstreamRegistry {
	r := &UpstreamRegistry{
		upstreams:  make(map[string]*Upstream),
		store:      store,
		auth:       auth,
		updateChan: make(chan struct{}, 1),
	}
	if auth != nil {
		auth.SetStatusSink(r)
	}
	return r
}

// Register registers an upstream from its definition, replacing any existing
// registration under the same name. The connection attempt runs within this
// call; its outcome lands in the upstream's status rather than the return
// value, so a failing upstream still registers and shows up in status
// output.
//
// Args:
//   - ctx: bounds the connection attempt
//   - def: the upstream definition to register
//
// Returns an error only when the definition cannot be registered at all.
func (r *UpstreamRegistry) Register(ctx context.Context, def config.UpstreamDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("upstream name cannot be empty")
	}

	r.mu.Lock()
	old := r.upstreams[def.Name]
	up := newUpstream(def)
	r.upstreams[def.Name] = up
	r.mu.Unlock()

	if old != nil {
		logging.Debug("Aggregator", "Replacing registration for upstream %s", def.Name)
		r.teardown(old)
	}

	r.connect(ctx, up)
	r.notifyUpdate()
	return nil
}

// RegisterAll refreshes registrations from configuration.
//
// With a non-empty name it re-registers that single upstream even when it is
// currently connected; this is the recovery path after completing an OAuth
// flow or editing a definition. With an empty name it registers every
// configured upstream in parallel, leaves already-connected ones untouched,
// and deregisters upstreams whose definition has been removed.
func (r *UpstreamRegistry) RegisterAll(ctx context.Context, name string) error {
	if name != "" {
		def, ok := r.store.Upstream(name)
		if !ok {
			return fmt.Errorf("upstream %s is not configured", name)
		}
		return r.Register(ctx, def)
	}

	defs := r.store.Upstreams()
	known := make(map[string]bool, len(defs))

	var g errgroup.Group
	g.SetLimit(registerConcurrency)
	for _, def := range defs {
		def := def
		known[def.Name] = true

		r.mu.RLock()
		existing := r.upstreams[def.Name]
		r.mu.RUnlock()
		if existing != nil && existing.IsConnected() {
			continue
		}

		g.Go(func() error {
			return r.Register(ctx, def)
		})
	}
	err := g.Wait()

	for _, up := range r.Snapshot() {
		if !known[up.Name()] {
			if derr := r.Deregister(up.Name()); derr != nil {
				logging.Warn("Aggregator", "Failed to deregister removed upstream %s: %v", up.Name(), derr)
			}
		}
	}
	return err
}

// Deregister removes an upstream, closing its connection and cancelling its
// keep-alive ticker.
func (r *UpstreamRegistry) Deregister(name string) error {
	r.mu.Lock()
	up, ok := r.upstreams[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("upstream %s not found", name)
	}
	delete(r.upstreams, name)
	r.mu.Unlock()

	r.teardown(up)
	r.notifyUpdate()
	logging.Info("Aggregator", "Deregistered upstream %s", name)
	return nil
}

// Reconnect tears the upstream's connection down and runs the connect
// sequence again, including catalog discovery. The dispatcher uses this
// after a transient transport failure before retrying a call.
func (r *UpstreamRegistry) Reconnect(ctx context.Context, name string) error {
	r.mu.RLock()
	up, ok := r.upstreams[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("upstream %s not found", name)
	}

	logging.Info("Aggregator", "Reconnecting upstream %s", name)
	r.teardown(up)
	r.connect(ctx, up)
	r.notifyUpdate()

	if !up.IsConnected() && !up.IsOnDemand() {
		return fmt.Errorf("reconnect to %s failed: %s", name, up.LastError())
	}
	return nil
}

// Get returns the upstream record for name.
func (r *UpstreamRegistry) Get(name string) (*Upstream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	up, ok := r.upstreams[name]
	return up, ok
}

// Snapshot returns all registered upstreams sorted by name.
func (r *UpstreamRegistry) Snapshot() []*Upstream {
	r.mu.RLock()
	out := make([]*Upstream, 0, len(r.upstreams))
	for _, up := range r.upstreams {
		out = append(out, up)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// StatusViews returns serializable status snapshots for every registered
// upstream, sorted by name.
func (r *UpstreamRegistry) StatusViews() []UpstreamStatus {
	ups := r.Snapshot()
	views := make([]UpstreamStatus, 0, len(ups))
	for _, up := range ups {
		views = append(views, up.StatusView())
	}
	return views
}

// ResolveName maps a prefixed tool or prompt name back to its upstream and
// the bare name. Upstream names may themselves contain the separator, so
// when several registered names prefix-match the longest one wins.
func (r *UpstreamRegistry) ResolveName(name string) (*Upstream, string, bool) {
	sep := r.separator()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *Upstream
	var bare string
	for upName, up := range r.upstreams {
		prefix := upName + sep
		if strings.HasPrefix(name, prefix) {
			if match == nil || len(upName) > len(match.name) {
				match = up
				bare = strings.TrimPrefix(name, prefix)
			}
		}
	}
	if match == nil {
		return nil, "", false
	}
	return match, bare, true
}

// GetUpdateChannel returns the channel signalling catalog changes.
//
// The channel is buffered with capacity 1 and written to non-blockingly, so
// consumers observe at least one signal after any burst of changes and must
// re-read the registry state on each signal.
func (r *UpstreamRegistry) GetUpdateChannel() <-chan struct{} {
	return r.updateChan
}

// Close deregisters every upstream and closes all connections.
func (r *UpstreamRegistry) Close() {
	r.mu.Lock()
	ups := make([]*Upstream, 0, len(r.upstreams))
	for _, up := range r.upstreams {
		ups = append(ups, up)
	}
	r.upstreams = make(map[string]*Upstream)
	r.mu.Unlock()

	for _, up := range ups {
		r.teardown(up)
	}
	logging.Debug("Aggregator", "Registry closed, %d upstreams disconnected", len(ups))
}

// SetOAuthRequired implements oauth.StatusSink. The OAuth provider calls it
// when an authorization flow starts or credentials are invalidated; any live
// connection is unusable at that point and gets closed.
func (r *UpstreamRegistry) SetOAuthRequired(serverName string, pending *oauth.PendingAuthorization) {
	r.mu.RLock()
	up, ok := r.upstreams[serverName]
	r.mu.RUnlock()
	if !ok {
		return
	}

	r.teardown(up)
	up.setOAuthRequired(pending)
	r.notifyUpdate()

	if pending != nil {
		logging.Warn("Aggregator", "Upstream %s requires authorization: %s", serverName, pending.AuthorizationURL)
	} else {
		logging.Warn("Aggregator", "Upstream %s requires authorization", serverName)
	}
}

// notifyUpdate signals a catalog change without blocking. A full channel
// means a signal is already pending, which is enough.
func (r *UpstreamRegistry) notifyUpdate() {
	select {
	case r.updateChan <- struct{}{}:
	default:
	}
}

// connect runs the connection sequence for an upstream record:
//
//  1. Disabled upstreams stay disconnected without an error.
//  2. A transport client is built from the definition, with the OAuth token
//     store attached when the upstream opts into OAuth.
//  3. The initialize handshake runs under the hub's init timeout.
//  4. Tools and prompts are listed in parallel under the upstream's call
//     timeout, prefixed, and their schemas scrubbed.
//  5. On-demand upstreams keep only the catalog; the probe connection is
//     closed and the status stays disconnected.
//  6. SSE upstreams get a keep-alive ping ticker. Ping failures are logged
//     but never trigger a reconnect.
//
// Auth failures move the upstream to oauth_required with a stored
// authorization hint; every other failure records the error text in the
// disconnected status.
func (r *UpstreamRegistry) connect(ctx context.Context, up *Upstream) {
	def := up.Definition()

	if !def.IsEnabled() {
		up.setDisconnected("")
		logging.Debug("Aggregator", "Upstream %s is disabled, skipping connection", def.Name)
		return
	}

	up.setConnecting()
	hub := r.store.Hub()

	client, err := mcpserver.NewClient(def.Kind, r.clientConfigFor(&def))
	if err != nil {
		up.setDisconnected(err.Error())
		logging.Error("Aggregator", err, "Failed to create client for upstream %s", def.Name)
		return
	}

	initCtx, cancel := context.WithTimeout(ctx, hub.GetInitTimeout())
	defer cancel()
	if err := client.Initialize(initCtx); err != nil {
		_ = client.Close()
		r.handleConnectError(ctx, up, &def, err)
		return
	}

	tools, prompts, err := r.discover(ctx, &def, client, hub.NameSeparator)
	if err != nil {
		_ = client.Close()
		r.handleConnectError(ctx, up, &def, err)
		return
	}

	if def.IsOnDemand() && def.Kind != config.UpstreamKindOpenAPI {
		if err := client.Close(); err != nil {
			logging.Warn("Aggregator", "Error closing probe connection to %s: %v", def.Name, err)
		}
		up.setCatalog(tools, prompts)
		logging.Info("Aggregator", "Cached catalog of on-demand upstream %s (%d tools, %d prompts)",
			def.Name, len(tools), len(prompts))
		return
	}

	up.setConnected(client, tools, prompts)
	if def.Kind == config.UpstreamKindSSE {
		r.startKeepAlive(up, &def)
	}
	logging.Info("Aggregator", "Connected to upstream %s (%d tools, %d prompts)",
		def.Name, len(tools), len(prompts))
}

// discover lists tools and prompts in parallel and returns them with
// prefixed names. A prompt listing failure is tolerated because many servers
// do not implement prompts; a tool listing failure fails discovery.
func (r *UpstreamRegistry) discover(ctx context.Context, def *config.UpstreamDefinition, client mcpserver.MCPClient, sep string) ([]mcp.Tool, []mcp.Prompt, error) {
	listCtx, cancel := context.WithTimeout(ctx, def.GetTimeout())
	defer cancel()

	var tools []mcp.Tool
	var prompts []mcp.Prompt

	g, gctx := errgroup.WithContext(listCtx)
	g.Go(func() error {
		listed, err := client.ListTools(gctx)
		if err != nil {
			return fmt.Errorf("failed to list tools: %w", err)
		}
		tools = listed
		return nil
	})
	g.Go(func() error {
		listed, err := client.ListPrompts(gctx)
		if err != nil {
			logging.Debug("Aggregator", "Upstream %s does not serve prompts: %v", def.Name, err)
			return nil
		}
		prompts = listed
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	tools = filterDeniedTools(def.Name, tools, r.store.Hub().Routing.DenyTools)
	prefixedTools, prefixedPrompts := prefixCatalog(def.Name, sep, tools, prompts)
	return prefixedTools, prefixedPrompts, nil
}

// handleConnectError classifies a connection failure. Upstreams that opt
// into OAuth get an authorization flow started on auth-shaped errors and
// move to oauth_required while the flow is pending; everything else records
// the error in the disconnected status.
func (r *UpstreamRegistry) handleConnectError(ctx context.Context, up *Upstream, def *config.UpstreamDefinition, err error) {
	if r.auth != nil && def.OAuth != nil && def.OAuth.Enabled {
		if authErr := mcpserver.CheckForAuthRequiredError(err, def.URL); authErr != nil {
			provider := r.auth.ProviderFor(def)
			beginErr := provider.BeginAuthorization(ctx, authErr.Challenge)
			if errors.Is(beginErr, oauth.ErrAuthorizationPending) {
				up.setOAuthRequired(provider.Pending())
				return
			}
			up.setDisconnected(fmt.Sprintf("authorization flow failed: %v", beginErr))
			logging.Error("Aggregator", beginErr, "Authorization flow for upstream %s failed", def.Name)
			return
		}
	}

	up.setDisconnected(err.Error())
	logging.Error("Aggregator", err, "Failed to connect to upstream %s", def.Name)
}

// startKeepAlive starts the ping ticker holding an SSE connection open.
func (r *UpstreamRegistry) startKeepAlive(up *Upstream, def *config.UpstreamDefinition) {
	interval := def.GetKeepAliveInterval()
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	up.setKeepAliveCancel(cancel)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				client := up.Client()
				if client == nil {
					return
				}
				pingCtx, pingCancel := context.WithTimeout(ctx, keepAlivePingTimeout)
				if err := client.Ping(pingCtx); err != nil {
					logging.Warn("Aggregator", "Keep-alive ping to upstream %s failed: %v", up.Name(), err)
				}
				pingCancel()
			}
		}
	}()
	logging.Debug("Aggregator", "Keep-alive ticker for upstream %s started (%s)", def.Name, interval)
}

// teardown stops the keep-alive ticker and closes the live client, if any.
func (r *UpstreamRegistry) teardown(up *Upstream) {
	up.stopKeepAlive()
	if client := up.takeClient(); client != nil {
		if err := client.Close(); err != nil {
			logging.Warn("Aggregator", "Error closing client for upstream %s: %v", up.Name(), err)
		}
	}
}

// clientConfigFor builds the transport configuration for an upstream,
// attaching the token store and requested scopes when OAuth is managed.
func (r *UpstreamRegistry) clientConfigFor(def *config.UpstreamDefinition) mcpserver.ClientConfig {
	hub := r.store.Hub()
	cfg := mcpserver.ConfigFromDefinition(def, hub.GetDataRoot(r.store.ConfigPath()))
	if r.auth != nil {
		cfg.TokenStore = r.auth.TokenStoreFor(def)
		if def.OAuth != nil {
			cfg.OAuthScopes = strings.Fields(def.OAuth.Scopes)
		}
	}
	return cfg
}

// separator returns the configured catalog name separator. It is read at
// prefix time; changing it requires re-registering upstreams.
func (r *UpstreamRegistry) separator() string {
	sep := r.store.Hub().NameSeparator
	if sep == "" {
		sep = config.DefaultNameSeparator
	}
	return sep
}

// prefixCatalog returns the discovered catalogs with every name prefixed by
// "<upstream><sep>" and tool schemas scrubbed.
func prefixCatalog(upstream, sep string, tools []mcp.Tool, prompts []mcp.Prompt) ([]mcp.Tool, []mcp.Prompt) {
	if sep == "" {
		sep = config.DefaultNameSeparator
	}

	prefixedTools := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		t.Name = upstream + sep + t.Name
		sanitizeToolSchema(&t)
		prefixedTools = append(prefixedTools, t)
	}

	prefixedPrompts := make([]mcp.Prompt, 0, len(prompts))
	for _, p := range prompts {
		p.Name = upstream + sep + p.Name
		prefixedPrompts = append(prefixedPrompts, p)
	}
	return prefixedTools, prefixedPrompts
}

// sanitizeToolSchema drops the "$schema" key some servers emit at the input
// schema root; several MCP clients reject schemas carrying it. Schemas
// parsed into the structured form cannot hold the key, so only raw schemas
// need scrubbing.
func sanitizeToolSchema(t *mcp.Tool) {
	if len(t.RawInputSchema) == 0 {
		return
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(t.RawInputSchema, &schema); err != nil {
		return
	}
	if _, ok := schema["$schema"]; !ok {
		return
	}
	delete(schema, "$schema")
	if raw, err := json.Marshal(schema); err == nil {
		t.RawInputSchema = raw
	}
}
