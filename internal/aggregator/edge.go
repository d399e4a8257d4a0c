package aggregator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mcphub/internal/cluster"
	"mcphub/internal/config"
	"mcphub/internal/oauth"
	"mcphub/pkg/logging"
)

// Edge is the HTTP surface in front of the session layer. It mounts the
// transport routes under the configured base path, enforces the bearer and
// user-scope policies, serves health and OAuth plumbing at the root, and
// forwards requests for sessions owned by other cluster nodes.
type Edge struct {
	store       *config.Store
	registry    *UpstreamRegistry
	sessions    *SessionTable
	coordinator cluster.Coordinator
	proxy       *cluster.Proxy
	auth        *oauth.Manager
	limiter     *AuthRateLimiter
}

// NewEdge assembles the edge. The coordinator and auth manager may be nil;
// cluster proxying and the OAuth callback are then disabled.
func NewEdge(store *config.Store, registry *UpstreamRegistry, sessions *SessionTable, coordinator cluster.Coordinator, auth *oauth.Manager) *Edge {
	e := &Edge{
		store:       store,
		registry:    registry,
		sessions:    sessions,
		coordinator: coordinator,
		auth:        auth,
		limiter:     NewAuthRateLimiter(DefaultAuthRateLimiterConfig()),
	}
	if coordinator != nil {
		e.proxy = cluster.NewProxy(coordinator)
	}
	return e
}

// Router builds the HTTP handler. Health, the RFC 9728 document, and the
// OAuth callback live at the root; everything else sits under the base path
// behind the policy middleware.
func (e *Edge) Router() http.Handler {
	basePath := e.store.Hub().GetBasePath()

	r := chi.NewRouter()
	r.Get("/health", e.handleHealth)
	r.Get("/oauth/callback", e.handleOAuthCallback)
	r.Get("/.well-known/oauth-protected-resource"+basePath, e.handleProtectedResource)

	mountMCP := func(r chi.Router) {
		r.Use(e.requireBearer)
		e.scopedRoutes(r)
		r.Route("/{user}", func(r chi.Router) {
			r.Use(e.requireUserMatch)
			e.scopedRoutes(r)
		})
	}
	if basePath == "" {
		r.Group(mountMCP)
	} else {
		r.Route(basePath, mountMCP)
	}
	return r
}

// scopedRoutes registers the transport endpoints relative to the current
// (possibly user-prefixed) subtree. The wildcard variants capture group
// segments, including the two-segment $smart/<group> form.
func (e *Edge) scopedRoutes(r chi.Router) {
	r.Get("/sse", e.handleSSE)
	r.Get("/sse/*", e.handleSSE)
	r.Post("/messages", e.handleMessage)
	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		r.Method(method, "/mcp", http.HandlerFunc(e.handleStreamable))
		r.Method(method, "/mcp/*", http.HandlerFunc(e.handleStreamable))
	}
}

// requestScope derives the session scope from the route parameters.
func requestScope(r *http.Request) Scope {
	return Scope{
		Group: strings.Trim(chi.URLParam(r, "*"), "/"),
		User:  chi.URLParam(r, "user"),
	}
}

// checkScope validates the scope against the routing policy. It writes the
// error response itself when the scope is rejected.
func (e *Edge) checkScope(w http.ResponseWriter, r *http.Request) (Scope, bool) {
	scope := requestScope(r)
	hub := e.store.Hub()
	if scope.Group == "" && !hub.Routing.EnableGlobalRoute {
		writeForbidden(w, "the global route is disabled; connect through a group")
		return Scope{}, false
	}
	if scope.IsSmart() && !hub.Smart.Enabled {
		writeForbidden(w, "smart routing is disabled")
		return Scope{}, false
	}
	return scope, true
}

func (e *Edge) handleSSE(w http.ResponseWriter, r *http.Request) {
	scope, ok := e.checkScope(w, r)
	if !ok {
		return
	}
	e.sessions.ServeSSE(w, r, scope)
}

func (e *Edge) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "sessionId query parameter is required")
		return
	}
	e.routeSession(w, r, id)
}

func (e *Edge) handleStreamable(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		e.routeSession(w, r, id)
		return
	}
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "mcp-session-id header is required")
		return
	}
	scope, ok := e.checkScope(w, r)
	if !ok {
		return
	}
	e.sessions.ServeStreamable(w, r, scope)
}

// routeSession serves a request for an existing session. Sessions owned by
// another cluster node are proxied there; unknown sessions answer 404.
func (e *Edge) routeSession(w http.ResponseWriter, r *http.Request, id string) {
	if sess, ok := e.sessions.Lookup(id); ok {
		sess.ServeHTTP(w, r)
		return
	}

	if e.coordinator != nil {
		record, err := e.coordinator.GetSession(r.Context(), id)
		switch {
		case err == nil && record.NodeID != e.coordinator.NodeID():
			e.proxy.Forward(w, r, record.NodeID)
			return
		case err != nil && !errors.Is(err, cluster.ErrSessionNotFound):
			logging.Warn("Edge", "Cluster lookup for session %s failed: %v", id, err)
		}
	}

	writeJSONError(w, http.StatusNotFound, "session_not_found",
		fmt.Sprintf("session %s is not known to this hub", id))
}

// requireBearer enforces the static bearer key when configured. The key is
// read from the unfiltered settings view; the user-filtered view blanks it,
// which would turn the comparison into accept-anything. Attempts are rate
// limited per client address; a successful authentication resets the
// client's counter.
func (e *Edge) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := e.store.RawSettings().Hub.Auth
		if !auth.Enabled || auth.BearerKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		client := clientAddr(r)
		if !e.limiter.Allow(client) {
			e.writeRateLimited(w)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			e.writeUnauthorized(w, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(auth.BearerKey)) != 1 {
			e.writeUnauthorized(w, "invalid bearer token")
			return
		}
		e.limiter.Reset(client)
		next.ServeHTTP(w, r)
	})
}

// requireUserMatch enforces that user-scoped routes are called by the user
// they name. The identity comes from the trusted user header stamped by a
// fronting auth proxy.
func (e *Edge) requireUserMatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pathUser := chi.URLParam(r, "user")
		header := e.store.Hub().Auth.UserHeader
		if header == "" {
			header = config.DefaultUserHeader
		}
		caller := r.Header.Get(header)
		if caller == "" {
			e.writeUnauthorized(w, "authentication is required for user-scoped routes")
			return
		}
		if caller != pathUser {
			writeForbidden(w, fmt.Sprintf("authenticated user %q cannot access routes of %q", caller, pathUser))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth reports aggregate upstream health. Disabled and on-demand
// upstreams do not count against readiness.
func (e *Edge) handleHealth(w http.ResponseWriter, r *http.Request) {
	views := e.registry.StatusViews()
	healthy := true
	for _, v := range views {
		if !v.Enabled || v.OnDemand {
			continue
		}
		if v.Status != StatusConnected {
			healthy = false
			break
		}
	}

	body := map[string]interface{}{
		"status":    "ok",
		"upstreams": views,
	}
	if e.coordinator != nil {
		body["nodeId"] = e.coordinator.NodeID()
	}
	status := http.StatusOK
	if !healthy {
		body["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// handleProtectedResource serves the RFC 9728 protected resource metadata
// referenced by bearer challenges. 404 while bearer auth is off.
func (e *Edge) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	hub := e.store.Hub()
	if !hub.Auth.Enabled {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource":                 hub.GetPublicBaseURL() + hub.GetBasePath(),
		"bearer_methods_supported": []string{"header"},
	})
}

// handleOAuthCallback receives the authorization server redirect and hands
// the code to the OAuth manager. The response is a small HTML page so the
// operator sees the outcome in the browser; the reconnect happens in the
// background.
func (e *Edge) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if e.auth == nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		logging.Warn("Edge", "OAuth callback returned error %s: %s", errCode, q.Get("error_description"))
		writeCallbackPage(w, http.StatusBadRequest, fmt.Sprintf("Authorization failed: %s", errCode))
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeCallbackPage(w, http.StatusBadRequest, "Missing code or state parameter.")
		return
	}

	serverName, err := e.auth.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		logging.Error("Edge", err, "OAuth authorization completion failed")
		writeCallbackPage(w, http.StatusBadRequest, "Authorization failed; check the hub logs.")
		return
	}

	go func() {
		if err := e.registry.Reconnect(context.Background(), serverName); err != nil {
			logging.Warn("Edge", "Reconnect of %s after authorization failed: %v", serverName, err)
		}
	}()
	writeCallbackPage(w, http.StatusOK,
		fmt.Sprintf("Authorization for %s complete. You can close this window.", serverName))
}

// writeUnauthorized answers with the RFC 6750 challenge, pointing the caller
// at the protected resource metadata.
func (e *Edge) writeUnauthorized(w http.ResponseWriter, description string) {
	hub := e.store.Hub()
	metadata := hub.GetPublicBaseURL() + "/.well-known/oauth-protected-resource" + hub.GetBasePath()
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer error="invalid_token", error_description=%q, resource_metadata=%q`,
		description, metadata))
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": description,
		"resource_metadata": metadata,
	})
}

// writeRateLimited answers a client that exhausted its authentication
// attempts. Retry-After reflects the limiter window.
func (e *Edge) writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(e.limiter.Window()/time.Second)))
	writeJSONError(w, http.StatusTooManyRequests, "rate_limited",
		"too many authentication attempts from this address")
}

// clientAddr keys rate limiting by the peer address. Forwarded headers are
// not consulted; they are client-controlled.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func writeForbidden(w http.ResponseWriter, description string) {
	writeJSON(w, http.StatusForbidden, map[string]string{
		"error":             "forbidden",
		"error_description": description,
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug("Edge", "Failed to encode response body: %v", err)
	}
}

func writeCallbackPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<html><body><p>%s</p></body></html>\n", message)
}
