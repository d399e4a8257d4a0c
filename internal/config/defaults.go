package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// DefaultPort is the listen port for the downstream edge.
	DefaultPort = 8090
	// DefaultHost is the listen host.
	DefaultHost = "localhost"
	// DefaultNameSeparator joins the upstream name and the tool name in
	// published catalog entries.
	DefaultNameSeparator = "-"
	// DefaultUserHeader carries the authenticated user identity set by a
	// fronting auth proxy.
	DefaultUserHeader = "X-Hub-User"

	// DefaultKeepAliveInterval is the upstream SSE keep-alive ping interval.
	DefaultKeepAliveInterval = 60 * time.Second
	// DefaultDownstreamKeepAlive is the keep-alive interval on downstream
	// SSE connections.
	DefaultDownstreamKeepAlive = 30 * time.Second
	// DefaultCallTimeout bounds a single upstream tool call.
	DefaultCallTimeout = 60 * time.Second
	// DefaultInitTimeout bounds upstream client initialization.
	DefaultInitTimeout = 60 * time.Second
	// DefaultHeartbeatInterval is the cluster node heartbeat period.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultOfflineAfter is how long after the last heartbeat a node is
	// considered offline.
	DefaultOfflineAfter = 45 * time.Second
	// DefaultSessionTTL is the cluster session record lifetime.
	DefaultSessionTTL = 24 * time.Hour
)

// Environment variables consumed at process scope.
const (
	EnvConfigDir    = "MCPHUB_CONFIG_DIR"
	EnvPort         = "MCPHUB_PORT"
	EnvBasePath     = "MCPHUB_BASE_PATH"
	EnvTransport    = "MCPHUB_TRANSPORT"
	EnvDataRoot     = "MCPHUB_DATA_ROOT"
	EnvInitTimeout  = "MCPHUB_INIT_TIMEOUT"
	EnvNpmRegistry  = "MCPHUB_NPM_REGISTRY"
	EnvPypiIndexURL = "MCPHUB_PYPI_INDEX_URL"
	EnvNpmCache     = "MCPHUB_NPM_CACHE"
	EnvNpmGlobal    = "MCPHUB_NPM_GLOBAL"
	EnvUvCache      = "MCPHUB_UV_CACHE"
	EnvUvTools      = "MCPHUB_UV_TOOLS"
)

const (
	userConfigDir  = ".config/mcphub"
	configFileName = "config.yaml"

	// UpstreamsDir is the entity subdirectory holding upstream definitions.
	UpstreamsDir = "upstreams"
	// GroupsDir is the entity subdirectory holding group definitions.
	GroupsDir = "groups"
	// OAuthDir is the entity subdirectory holding per-upstream OAuth state.
	OAuthDir = "oauth"
)

// GetDefaultConfigPathOrPanic returns the default configuration directory,
// honoring MCPHUB_CONFIG_DIR.
func GetDefaultConfigPathOrPanic() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(homeDir, userConfigDir)
}

// GetDefaultConfig returns the default hub configuration. Process-scope
// environment overrides (port, base path, data root, init timeout) are
// applied on top.
func GetDefaultConfig() HubConfig {
	cfg := HubConfig{
		Host:          DefaultHost,
		Port:          DefaultPort,
		NameSeparator: DefaultNameSeparator,
		Transport:     TransportStreamableHTTP,
		Auth: AuthConfig{
			UserHeader: DefaultUserHeader,
		},
		Routing: RoutingConfig{
			EnableGlobalRoute: true,
		},
		Smart: SmartConfig{
			Enabled: true,
		},
		Cluster: ClusterConfig{
			Type: "memory",
		},
	}
	applyEnvOverrides(&cfg)
	return cfg
}

func applyEnvOverrides(cfg *HubConfig) {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv(EnvBasePath); v != "" {
		cfg.BasePath = v
	}
	if v := os.Getenv(EnvTransport); v != "" {
		switch v {
		case TransportStreamableHTTP, TransportSSE, TransportStdio:
			cfg.Transport = v
		}
	}
	if v := os.Getenv(EnvDataRoot); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv(EnvInitTimeout); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.InitTimeout = v
		}
	}
}

// GetDataRoot returns the configured data root, defaulting to a "data"
// directory next to the configuration.
func (c HubConfig) GetDataRoot(configDir string) string {
	if c.DataRoot != "" {
		return c.DataRoot
	}
	return filepath.Join(configDir, "data")
}
