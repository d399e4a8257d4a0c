package aggregator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/config"
	"mcphub/internal/mcpserver"
	"mcphub/internal/oauth"
)

// Connection status values reported for an upstream server.
const (
	StatusDisconnected  = "disconnected"
	StatusConnecting    = "connecting"
	StatusConnected     = "connected"
	StatusOAuthRequired = "oauth_required"
)

// SmartGroup is the reserved group name that exposes the compact routing
// surface instead of the full catalog. A subgroup may follow a slash, as in
// "$smart/ops", to narrow the searched scope.
const SmartGroup = "$smart"

// Names of the two synthetic tools published under the $smart scope.
const (
	SmartToolSearch = "search_tools"
	SmartToolCall   = "call_tool"
)

// Upstream is the runtime record for one registered upstream server. It
// holds the definition snapshot taken at registration time, the live client
// (nil unless a persistent connection is up), and the discovered catalog
// with tool and prompt names already prefixed.
type Upstream struct {
	mu sync.RWMutex

	name string
	def  config.UpstreamDefinition

	status    string
	lastError string

	client  mcpserver.MCPClient
	tools   []mcp.Tool
	prompts []mcp.Prompt

	// pending holds the in-flight authorization hint while the upstream is
	// in oauth_required.
	pending *oauth.PendingAuthorization

	keepAliveCancel context.CancelFunc

	registeredAt time.Time
}

// newUpstream creates a record in the disconnected state.
func newUpstream(def config.UpstreamDefinition) *Upstream {
	return &Upstream{
		name:         def.Name,
		def:          def,
		status:       StatusDisconnected,
		registeredAt: time.Now(),
	}
}

// Name returns the upstream's configured name.
func (u *Upstream) Name() string {
	return u.name
}

// Definition returns the definition snapshot taken at registration time.
func (u *Upstream) Definition() config.UpstreamDefinition {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.def
}

// Status returns the current connection status.
func (u *Upstream) Status() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status
}

// LastError returns the most recent connection error, or "".
func (u *Upstream) LastError() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastError
}

// IsConnected reports whether a persistent connection is established.
func (u *Upstream) IsConnected() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status == StatusConnected
}

// IsEnabled reports whether the upstream is enabled in configuration.
func (u *Upstream) IsEnabled() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.def.IsEnabled()
}

// IsOnDemand reports whether the upstream connects per call instead of
// holding a persistent connection.
func (u *Upstream) IsOnDemand() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.def.IsOnDemand()
}

// Client returns the live client, or nil when not connected.
func (u *Upstream) Client() mcpserver.MCPClient {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.client
}

// Tools returns a copy of the discovered tool catalog. Names carry the
// upstream prefix; per-tool visibility is applied later, at publish time.
func (u *Upstream) Tools() []mcp.Tool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]mcp.Tool, len(u.tools))
	copy(out, u.tools)
	return out
}

// Prompts returns a copy of the discovered prompt catalog.
func (u *Upstream) Prompts() []mcp.Prompt {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]mcp.Prompt, len(u.prompts))
	copy(out, u.prompts)
	return out
}

// HasTool reports whether the prefixed tool name is in the catalog.
func (u *Upstream) HasTool(name string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for i := range u.tools {
		if u.tools[i].Name == name {
			return true
		}
	}
	return false
}

// Pending returns the stored authorization hint while the upstream waits
// for the user to complete an OAuth flow, or nil.
func (u *Upstream) Pending() *oauth.PendingAuthorization {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.pending == nil {
		return nil
	}
	p := *u.pending
	return &p
}

// StatusView returns a serializable snapshot for status and health output.
func (u *Upstream) StatusView() UpstreamStatus {
	u.mu.RLock()
	defer u.mu.RUnlock()
	view := UpstreamStatus{
		Name:        u.name,
		Status:      u.status,
		Enabled:     u.def.IsEnabled(),
		OnDemand:    u.def.IsOnDemand(),
		ToolCount:   len(u.tools),
		PromptCount: len(u.prompts),
		LastError:   u.lastError,
	}
	if u.pending != nil {
		view.AuthorizationURL = u.pending.AuthorizationURL
	}
	return view
}

func (u *Upstream) setConnecting() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = StatusConnecting
	u.lastError = ""
}

func (u *Upstream) setConnected(client mcpserver.MCPClient, tools []mcp.Tool, prompts []mcp.Prompt) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = StatusConnected
	u.lastError = ""
	u.client = client
	u.tools = tools
	u.prompts = prompts
	u.pending = nil
}

// setCatalog stores a discovered catalog without marking the upstream
// connected. Used for on-demand upstreams, whose probe connection is torn
// down right after listing.
func (u *Upstream) setCatalog(tools []mcp.Tool, prompts []mcp.Prompt) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = StatusDisconnected
	u.lastError = ""
	u.client = nil
	u.tools = tools
	u.prompts = prompts
	u.pending = nil
}

func (u *Upstream) setDisconnected(errText string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = StatusDisconnected
	u.lastError = errText
	u.client = nil
}

func (u *Upstream) setOAuthRequired(pending *oauth.PendingAuthorization) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = StatusOAuthRequired
	u.client = nil
	u.pending = pending
	if pending != nil {
		u.lastError = "authorization required: " + pending.AuthorizationURL
	} else {
		u.lastError = "authorization required"
	}
}

// takeClient removes and returns the live client so the caller can close it
// outside the lock.
func (u *Upstream) takeClient() mcpserver.MCPClient {
	u.mu.Lock()
	defer u.mu.Unlock()
	c := u.client
	u.client = nil
	return c
}

func (u *Upstream) setKeepAliveCancel(cancel context.CancelFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keepAliveCancel = cancel
}

// stopKeepAlive cancels the keep-alive ticker goroutine, if one is running.
func (u *Upstream) stopKeepAlive() {
	u.mu.Lock()
	cancel := u.keepAliveCancel
	u.keepAliveCancel = nil
	u.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// UpstreamStatus is the serializable per-upstream status used by the health
// endpoint and status reporting.
type UpstreamStatus struct {
	Name             string `json:"name"`
	Status           string `json:"status"`
	Enabled          bool   `json:"enabled"`
	OnDemand         bool   `json:"onDemand,omitempty"`
	ToolCount        int    `json:"toolCount"`
	PromptCount      int    `json:"promptCount"`
	LastError        string `json:"lastError,omitempty"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
}

// Scope identifies the catalog slice a downstream session sees. An empty
// group means the global route (every enabled upstream); a named group
// restricts the catalog to the group's members. User carries the identity
// for user-scoped routes and is empty on global routes.
type Scope struct {
	Group string
	User  string
}

// IsSmart reports whether the scope selects the compact routing surface.
func (s Scope) IsSmart() bool {
	return s.Group == SmartGroup || strings.HasPrefix(s.Group, SmartGroup+"/")
}

// SmartSubgroup returns the group borrowed by a "$smart/<group>" scope,
// or "" for plain "$smart".
func (s Scope) SmartSubgroup() string {
	if !strings.HasPrefix(s.Group, SmartGroup+"/") {
		return ""
	}
	return strings.TrimPrefix(s.Group, SmartGroup+"/")
}

// subjectScope returns the scope whose catalog smart tools search over: the
// borrowed subgroup when present, otherwise the global scope.
func (s Scope) subjectScope() Scope {
	return Scope{Group: s.SmartSubgroup(), User: s.User}
}
