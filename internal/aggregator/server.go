package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"mcphub/internal/cluster"
	"mcphub/internal/config"
	"mcphub/internal/oauth"
	"mcphub/pkg/logging"
)

// serverInfoName is the MCP server name announced to downstream clients.
const serverInfoName = "mcphub"

// shutdownTimeout bounds the drain of in-flight requests on Stop when the
// caller's context carries no deadline.
const shutdownTimeout = 10 * time.Second

// HubServer ties the hub together: the upstream registry, the dispatcher,
// the session table, and the HTTP edge. One instance per process.
type HubServer struct {
	store       *config.Store
	registry    *UpstreamRegistry
	dispatcher  *Dispatcher
	sessions    *SessionTable
	edge        *Edge
	coordinator cluster.Coordinator
	auth        *oauth.Manager

	httpServer    *http.Server
	monitorCancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewHubServer assembles the hub. The coordinator, auth manager, and
// searcher may each be nil: cluster features and OAuth flows are then off,
// and search falls back to the built-in lexical scorer.
func NewHubServer(store *config.Store, coordinator cluster.Coordinator, auth *oauth.Manager, searcher ToolSearcher, version string) *HubServer {
	if version == "" {
		version = "dev"
	}
	registry := NewUpstreamRegistry(store, auth)
	dispatcher := NewDispatcher(registry, store, searcher)
	sessions := NewSessionTable(dispatcher, store, coordinator, serverInfoName, version)
	edge := NewEdge(store, registry, sessions, coordinator, auth)

	return &HubServer{
		store:       store,
		registry:    registry,
		dispatcher:  dispatcher,
		sessions:    sessions,
		edge:        edge,
		coordinator: coordinator,
		auth:        auth,
	}
}

// Registry exposes the upstream registry for administrative surfaces.
func (s *HubServer) Registry() *UpstreamRegistry {
	return s.registry
}

// Sessions exposes the session table.
func (s *HubServer) Sessions() *SessionTable {
	return s.sessions
}

// Start connects the configured upstreams, begins the catalog monitor, and
// brings up the HTTP listener. With transport "stdio" it additionally serves
// a global-scope MCP session on the process's stdin and stdout.
func (s *HubServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("hub server already started")
	}
	s.running = true
	s.mu.Unlock()

	hub := s.store.Hub()

	if err := s.registry.RegisterAll(ctx, ""); err != nil {
		// Individual connect failures are reflected in upstream status;
		// only configuration-level problems surface here.
		logging.Warn("Aggregator", "Upstream registration finished with errors: %v", err)
	}
	s.publishServers()

	monitorCtx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel
	go s.monitor(monitorCtx)

	addr := fmt.Sprintf("%s:%d", hub.Host, hub.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.edge.Router(),
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Aggregator", err, "HTTP server error")
		}
	}()
	logging.Info("Aggregator", "Hub serving MCP on %s%s", addr, hub.GetBasePath())

	if hub.Transport == config.TransportStdio {
		logging.Info("Aggregator", "Serving additional MCP session on stdio")
		sess := s.sessions.newSession(Scope{}, config.TransportStdio)
		stdioServer := server.NewStdioServer(sess.srv)
		go func() {
			if err := stdioServer.Listen(monitorCtx, os.Stdin, os.Stdout); err != nil {
				logging.Error("Aggregator", err, "Stdio server error")
			}
		}()
	}

	return nil
}

// monitor re-projects session catalogs and republishes cluster state
// whenever the registry reports a change.
func (s *HubServer) monitor(ctx context.Context) {
	updates := s.registry.GetUpdateChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			s.sessions.SyncAll()
			s.publishServers()
		}
	}
}

// publishServers pushes the current upstream statuses into this node's
// cluster membership record.
func (s *HubServer) publishServers() {
	if s.coordinator == nil {
		return
	}
	views := s.registry.StatusViews()
	statuses := make([]cluster.ServerStatus, 0, len(views))
	for _, v := range views {
		statuses = append(statuses, cluster.ServerStatus{Name: v.Name, Status: v.Status})
	}
	s.coordinator.RegisterLocalServers(statuses)
}

// ReloadUpstreams reconciles the registry with the current configuration:
// new upstreams connect, removed ones deregister, connected ones stay.
func (s *HubServer) ReloadUpstreams(ctx context.Context) error {
	return s.registry.RegisterAll(ctx, "")
}

// Stop drains the HTTP server, closes every session, and disconnects all
// upstreams.
func (s *HubServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.monitorCancel != nil {
		s.monitorCancel()
	}
	s.sessions.CloseAll()

	var err error
	if s.httpServer != nil {
		shutdownCtx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
		}
		err = s.httpServer.Shutdown(shutdownCtx)
	}

	s.registry.Close()
	logging.Info("Aggregator", "Hub server stopped")
	return err
}
