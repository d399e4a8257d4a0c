package app

import (
	"fmt"

	"mcphub/internal/aggregator"
	"mcphub/internal/cluster"
	"mcphub/internal/config"
	"mcphub/internal/oauth"
)

// Services holds the wired components of one hub process. InitializeServices
// constructs them; the run loop drives their lifecycle.
type Services struct {
	// Store is the loaded configuration, reloaded in place on watcher events.
	Store *config.Store

	// Coordinator tracks cluster membership and session ownership. Always
	// present; single-node deployments run the memory coordinator.
	Coordinator cluster.Coordinator

	// Auth owns the per-upstream OAuth providers and their persisted tokens.
	Auth *oauth.Manager

	// Hub is the aggregating MCP server: upstream registry, session table,
	// dispatcher and HTTP edge.
	Hub *aggregator.HubServer

	// Watcher emits debounced configuration change events.
	Watcher *config.Watcher
}

// InitializeServices wires the hub from the loaded configuration. Nothing is
// started here: coordinator initialization and hub startup happen in the run
// loop, so construction stays cheap and testable.
func InitializeServices(cfg *Config, store *config.Store) (*Services, error) {
	hub := store.Hub()

	coordinator, err := cluster.New(&hub.Cluster, "", hub.GetPublicBaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster coordinator: %w", err)
	}

	authManager := oauth.NewManager(store.ConfigPath(), hub.GetPublicBaseURL())

	hubServer := aggregator.NewHubServer(store, coordinator, authManager, nil, cfg.Version)

	watcher := config.NewWatcher(store.ConfigPath(), 0)

	return &Services{
		Store:       store,
		Coordinator: coordinator,
		Auth:        authManager,
		Hub:         hubServer,
		Watcher:     watcher,
	}, nil
}
