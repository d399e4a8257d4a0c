package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
)

// Application bundles the loaded configuration and the wired services for one
// hub process. It is created by NewApplication and driven by Run.
//
// The bootstrap follows two phases:
//  1. NewApplication: initialize logging, load the configuration store,
//     wire the services. Nothing connects or listens yet.
//  2. Run: initialize the cluster coordinator, start the hub, watch the
//     configuration directory, and block until shutdown.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication performs the bootstrap sequence. Flag overrides for port,
// base path and transport are exported into the process environment so the
// configuration loader applies them on every reload, not just the first.
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}

	// Logs go to stderr: with the stdio transport, stdout carries the MCP
	// session.
	var logOutput io.Writer = os.Stderr
	if cfg.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(appLogLevel, logOutput)

	applyProcessOverrides(cfg)

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	store, err := config.NewStore(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", configPath)
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	if loadErrs := store.LoadErrors(); loadErrs != nil && loadErrs.HasErrors() {
		logging.Warn("Bootstrap", "Some configuration entities were skipped: %s", loadErrs.Summary())
	}

	services, err := InitializeServices(cfg, store)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// applyProcessOverrides exports flag overrides as process environment
// variables. The loader applies them on top of config.yaml during every
// load, so they survive file-watcher reloads.
func applyProcessOverrides(cfg *Config) {
	if cfg.Port > 0 {
		os.Setenv(config.EnvPort, strconv.Itoa(cfg.Port))
	}
	if cfg.BasePath != "" {
		os.Setenv(config.EnvBasePath, cfg.BasePath)
	}
	if cfg.Transport != "" {
		os.Setenv(config.EnvTransport, cfg.Transport)
	}
}

// Run starts the hub and blocks until ctx is canceled or the process receives
// SIGINT or SIGTERM, then shuts everything down in order. A clean shutdown
// returns nil.
func (a *Application) Run(ctx context.Context) error {
	return runHub(ctx, a.services)
}
