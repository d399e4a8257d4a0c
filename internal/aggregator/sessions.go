package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mcphub/internal/cluster"
	"mcphub/internal/config"
	"mcphub/internal/mcpserver"
	"mcphub/pkg/logging"
)

// DownstreamSession is one client's logical connection. Each session owns a
// dedicated MCP server instance whose catalog is the dispatcher's projection
// for the session's scope, so catalog changes notify exactly the sessions
// they affect.
type DownstreamSession struct {
	id        string
	scope     Scope
	transport string
	createdAt time.Time

	srv        *server.MCPServer
	sse        *server.SSEServer
	streamable *server.StreamableHTTPServer

	mu      sync.Mutex
	tools   map[string]string
	prompts map[string]string
}

// ID returns the session id. Empty until the transport registered the
// session.
func (s *DownstreamSession) ID() string {
	return s.id
}

// Scope returns the routing scope the session is bound to.
func (s *DownstreamSession) Scope() Scope {
	return s.scope
}

// Transport returns the session's transport kind.
func (s *DownstreamSession) Transport() string {
	return s.transport
}

// CreatedAt returns when the session was opened.
func (s *DownstreamSession) CreatedAt() time.Time {
	return s.createdAt
}

// ServeHTTP hands a request to the session's transport handler.
func (s *DownstreamSession) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch s.transport {
	case config.TransportSSE:
		s.sse.ServeHTTP(w, r)
	default:
		s.streamable.ServeHTTP(w, r)
	}
}

// SessionTable owns every downstream session on this node. It creates
// sessions for incoming connections, routes follow-up requests to them by
// session id, and re-projects their catalogs when the registry changes.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*DownstreamSession

	dispatcher  *Dispatcher
	store       *config.Store
	coordinator cluster.Coordinator

	serverName    string
	serverVersion string
}

// NewSessionTable creates an empty session table. The coordinator may be nil
// in tests; session records are then not published.
func NewSessionTable(dispatcher *Dispatcher, store *config.Store, coordinator cluster.Coordinator, serverName, serverVersion string) *SessionTable {
	return &SessionTable{
		sessions:      make(map[string]*DownstreamSession),
		dispatcher:    dispatcher,
		store:         store,
		coordinator:   coordinator,
		serverName:    serverName,
		serverVersion: serverVersion,
	}
}

// newSession builds a session shell with its own MCP server. The register
// and unregister hooks tie the mcp-go session lifecycle to the table and the
// cluster record.
func (t *SessionTable) newSession(scope Scope, transportKind string) *DownstreamSession {
	sess := &DownstreamSession{
		scope:     scope,
		transport: transportKind,
		createdAt: time.Now(),
		tools:     make(map[string]string),
		prompts:   make(map[string]string),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		t.bind(cs.SessionID(), sess)
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, cs server.ClientSession) {
		t.unbind(cs.SessionID())
	})

	sess.srv = server.NewMCPServer(
		t.serverName,
		t.serverVersion,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithHooks(hooks),
	)

	t.project(sess)
	return sess
}

// bind records the session under its transport-assigned id and publishes the
// ownership to the cluster.
func (t *SessionTable) bind(id string, sess *DownstreamSession) {
	if id == "" {
		return
	}

	t.mu.Lock()
	if sess.id == "" {
		sess.id = id
	}
	t.sessions[id] = sess
	t.mu.Unlock()

	if t.coordinator != nil {
		meta := cluster.SessionMeta{Group: sess.scope.Group, User: sess.scope.User}
		if err := t.coordinator.RecordSession(context.Background(), id, meta); err != nil {
			logging.Warn("Aggregator", "Failed to record session %s in cluster: %v", id, err)
		}
	}
	logging.Debug("Aggregator", "Session %s opened (transport=%s, group=%q, user=%q)",
		id, sess.transport, sess.scope.Group, sess.scope.User)
}

// unbind drops the session from the table and clears its cluster record.
// Unbinding an unknown id is a no-op.
func (t *SessionTable) unbind(id string) {
	t.mu.Lock()
	sess, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if !ok {
		return
	}

	if t.coordinator != nil {
		if err := t.coordinator.ClearSession(context.Background(), id); err != nil {
			logging.Warn("Aggregator", "Failed to clear session %s from cluster: %v", id, err)
		}
	}
	logging.Debug("Aggregator", "Session %s closed (transport=%s)", id, sess.transport)
}

// Lookup finds a local session by id.
func (t *SessionTable) Lookup(id string) (*DownstreamSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[id]
	return sess, ok
}

// Sessions returns a snapshot of all local sessions.
func (t *SessionTable) Sessions() []*DownstreamSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*DownstreamSession, 0, len(t.sessions))
	for _, sess := range t.sessions {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of local sessions.
func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// ServeSSE opens a new SSE session bound to scope and serves its event
// stream until the client disconnects. The companion message endpoint is
// announced relative to the hub's public base URL.
func (t *SessionTable) ServeSSE(w http.ResponseWriter, r *http.Request, scope Scope) {
	sess := t.newSession(scope, config.TransportSSE)
	hub := t.store.Hub()

	sess.sse = server.NewSSEServer(
		sess.srv,
		server.WithBaseURL(hub.GetPublicBaseURL()),
		server.WithSSEEndpoint(r.URL.Path),
		server.WithMessageEndpoint(messagePath(hub.GetBasePath(), scope)),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(config.DefaultDownstreamKeepAlive),
		server.WithSSEContextFunc(captureHeaders),
	)
	sess.sse.ServeHTTP(w, r)
}

// ServeStreamable serves a streamable HTTP request that carries no session
// id yet. The body must be an initialize call; a session id is minted ahead
// of serving so the response announces it in the mcp-session-id header.
// Non-initialize bodies are rejected by the transport.
func (t *SessionTable) ServeStreamable(w http.ResponseWriter, r *http.Request, scope Scope) {
	sess := t.newSession(scope, config.TransportStreamableHTTP)
	sess.id = uuid.NewString()

	sess.streamable = server.NewStreamableHTTPServer(
		sess.srv,
		server.WithEndpointPath(r.URL.Path),
		server.WithSessionIdManager(&boundSessionID{sess: sess, table: t}),
		server.WithHTTPContextFunc(captureHeaders),
	)
	sess.streamable.ServeHTTP(w, r)
}

// SyncAll re-projects every session's catalog. Called when the registry
// reports a change; affected sessions receive list_changed notifications
// from their own MCP server.
func (t *SessionTable) SyncAll() {
	for _, sess := range t.Sessions() {
		t.project(sess)
	}
}

// CloseAll drops every session and clears their cluster records. Used on
// shutdown.
func (t *SessionTable) CloseAll() {
	t.mu.Lock()
	sessions := t.sessions
	t.sessions = make(map[string]*DownstreamSession)
	t.mu.Unlock()

	for id := range sessions {
		if t.coordinator != nil {
			if err := t.coordinator.ClearSession(context.Background(), id); err != nil {
				logging.Debug("Aggregator", "Failed to clear session %s from cluster: %v", id, err)
			}
		}
	}
}

// project reconciles the session's MCP server with the catalog its scope
// currently sees. Additions, description changes, and removals are applied
// as batches; mcp-go notifies the session's client about the change.
func (t *SessionTable) project(sess *DownstreamSession) {
	tools := t.dispatcher.ListTools(sess.scope)
	prompts := t.dispatcher.ListPrompts(sess.scope)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	desiredTools := make(map[string]string, len(tools))
	var addTools []server.ServerTool
	for _, tool := range tools {
		desiredTools[tool.Name] = tool.Description
		if have, ok := sess.tools[tool.Name]; ok && have == tool.Description {
			continue
		}
		addTools = append(addTools, server.ServerTool{Tool: tool, Handler: t.toolHandler(sess)})
	}
	var removeTools []string
	for name := range sess.tools {
		if _, ok := desiredTools[name]; !ok {
			removeTools = append(removeTools, name)
		}
	}
	if len(removeTools) > 0 {
		sess.srv.DeleteTools(removeTools...)
	}
	if len(addTools) > 0 {
		sess.srv.AddTools(addTools...)
	}
	sess.tools = desiredTools

	desiredPrompts := make(map[string]string, len(prompts))
	var addPrompts []server.ServerPrompt
	for _, prompt := range prompts {
		desiredPrompts[prompt.Name] = prompt.Description
		if have, ok := sess.prompts[prompt.Name]; ok && have == prompt.Description {
			continue
		}
		addPrompts = append(addPrompts, server.ServerPrompt{Prompt: prompt, Handler: t.promptHandler(sess)})
	}
	var removePrompts []string
	for name := range sess.prompts {
		if _, ok := desiredPrompts[name]; !ok {
			removePrompts = append(removePrompts, name)
		}
	}
	if len(removePrompts) > 0 {
		sess.srv.DeletePrompts(removePrompts...)
	}
	if len(addPrompts) > 0 {
		sess.srv.AddPrompts(addPrompts...)
	}
	sess.prompts = desiredPrompts
}

// toolHandler routes every tool call of a session through the dispatcher
// with the session's scope.
func (t *SessionTable) toolHandler(sess *DownstreamSession) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return t.dispatcher.CallTool(ctx, sess.scope, req.Params.Name, req.GetArguments())
	}
}

func (t *SessionTable) promptHandler(sess *DownstreamSession) func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		args := make(map[string]interface{}, len(req.Params.Arguments))
		for k, v := range req.Params.Arguments {
			args[k] = v
		}
		return t.dispatcher.GetPrompt(ctx, sess.scope, req.Params.Name, args)
	}
}

// boundSessionID pins a streamable HTTP server to its one pre-minted
// session id. Termination via DELETE is remembered so later requests on the
// same id answer 404.
type boundSessionID struct {
	sess  *DownstreamSession
	table *SessionTable

	mu         sync.Mutex
	terminated bool
}

func (b *boundSessionID) Generate() string {
	return b.sess.id
}

func (b *boundSessionID) Validate(sessionID string) (bool, error) {
	if sessionID != b.sess.id {
		return false, fmt.Errorf("unknown session %s", sessionID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated, nil
}

func (b *boundSessionID) Terminate(sessionID string) (bool, error) {
	if sessionID != b.sess.id {
		return false, fmt.Errorf("unknown session %s", sessionID)
	}
	b.mu.Lock()
	b.terminated = true
	b.mu.Unlock()
	// The transport unregisters the MCP session itself; dropping the table
	// entry here keeps routing and the cluster record in step with it.
	b.table.unbind(sessionID)
	return false, nil
}

// captureHeaders stashes the downstream request headers in the call context
// so OpenAPI passthrough reads them during dispatch.
func captureHeaders(ctx context.Context, r *http.Request) context.Context {
	return mcpserver.WithRequestHeaders(ctx, r.Header)
}

// messagePath is the client-to-server frame endpoint announced to SSE
// clients. It is user-scoped but not group-scoped; the session id carries
// the rest.
func messagePath(basePath string, scope Scope) string {
	if scope.User != "" {
		return basePath + "/" + scope.User + "/messages"
	}
	return basePath + "/messages"
}
