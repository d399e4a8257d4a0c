package config

import (
	"fmt"
	"strings"
	"time"
)

// UpstreamKind identifies the transport an upstream MCP server speaks.
type UpstreamKind string

const (
	// UpstreamKindStdio spawns a local subprocess speaking MCP over stdio.
	UpstreamKindStdio UpstreamKind = "stdio"
	// UpstreamKindSSE connects to a remote server over Server-Sent Events.
	UpstreamKindSSE UpstreamKind = "sse"
	// UpstreamKindStreamableHTTP connects over the streamable HTTP transport.
	UpstreamKindStreamableHTTP UpstreamKind = "streamable-http"
	// UpstreamKindOpenAPI exposes an OpenAPI document as synthetic MCP tools.
	UpstreamKindOpenAPI UpstreamKind = "openapi"
)

const (
	// TransportStreamableHTTP is the streamable HTTP transport.
	TransportStreamableHTTP = "streamable-http"
	// TransportSSE is the Server-Sent Events transport.
	TransportSSE = "sse"
	// TransportStdio is the standard I/O transport.
	TransportStdio = "stdio"
)

const (
	// ConnectionModePersistent keeps the upstream connected for the hub's lifetime.
	ConnectionModePersistent = "persistent"
	// ConnectionModeOnDemand connects per tool call and disconnects afterwards.
	ConnectionModeOnDemand = "on-demand"
)

// HubConfig is the top-level configuration structure loaded from config.yaml.
type HubConfig struct {
	Host          string        `yaml:"host,omitempty"`
	Port          int           `yaml:"port,omitempty"`
	BasePath      string        `yaml:"basePath,omitempty"`
	PublicBaseURL string        `yaml:"publicBaseUrl,omitempty"`
	NameSeparator string        `yaml:"nameSeparator,omitempty"`
	Transport     string        `yaml:"transport,omitempty"`
	DataRoot      string        `yaml:"dataRoot,omitempty"`
	InitTimeout   string        `yaml:"initTimeout,omitempty"`
	Auth          AuthConfig    `yaml:"auth,omitempty"`
	Routing       RoutingConfig `yaml:"routing,omitempty"`
	Smart         SmartConfig   `yaml:"smart,omitempty"`
	Cluster       ClusterConfig `yaml:"cluster,omitempty"`
}

// AuthConfig controls bearer authentication on the downstream edge.
type AuthConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// BearerKey is a static shared secret checked against Authorization: Bearer.
	BearerKey string `yaml:"bearerKey,omitempty"`
	// UserHeader names the trusted header carrying the authenticated user
	// identity set by a fronting auth proxy (default: X-Hub-User).
	UserHeader string `yaml:"userHeader,omitempty"`
}

// RoutingConfig controls downstream route exposure.
type RoutingConfig struct {
	// EnableGlobalRoute allows connections without a group segment.
	EnableGlobalRoute bool `yaml:"enableGlobalRoute,omitempty"`
	// DenyTools lists upstream-side tool names the hub never publishes,
	// regardless of group configuration. Names match before prefixing.
	DenyTools []string `yaml:"denyTools,omitempty"`
}

// SmartConfig controls the $smart routing surface.
type SmartConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// ClusterConfig selects and configures the cluster coordinator.
type ClusterConfig struct {
	// Type is "memory" (single node) or "redis".
	Type              string      `yaml:"type,omitempty"`
	Redis             RedisConfig `yaml:"redis,omitempty"`
	HeartbeatInterval string      `yaml:"heartbeatInterval,omitempty"`
	OfflineAfter      string      `yaml:"offlineAfter,omitempty"`
	SessionTTL        string      `yaml:"sessionTTL,omitempty"`
}

// RedisConfig holds connection settings for the redis coordinator.
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// UpstreamDefinition describes one upstream MCP server, loaded from
// <configDir>/upstreams/<name>.yaml.
type UpstreamDefinition struct {
	Name string       `yaml:"name"`
	Kind UpstreamKind `yaml:"kind"`

	// URL and Headers configure remote transports (sse, streamable-http).
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Command, Args and Env configure stdio subprocess transports.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Owner scopes the upstream to a single user; empty means shared.
	Owner string `yaml:"owner,omitempty"`

	// KeepAliveInterval is a duration string; default 60s for remote kinds.
	KeepAliveInterval string `yaml:"keepAliveInterval,omitempty"`

	// ConnectionMode is "persistent" (default) or "on-demand".
	ConnectionMode string `yaml:"connectionMode,omitempty"`

	Options *UpstreamOptions `yaml:"options,omitempty"`

	// Tools and Prompts filter and annotate the published catalog entries.
	Tools   map[string]EntryVisibility `yaml:"tools,omitempty"`
	Prompts map[string]EntryVisibility `yaml:"prompts,omitempty"`

	OAuth   *UpstreamOAuth  `yaml:"oauth,omitempty"`
	OpenAPI *OpenAPIOptions `yaml:"openapi,omitempty"`
}

// UpstreamOptions holds per-upstream call behavior tuning.
type UpstreamOptions struct {
	// Timeout is the per-call duration string; default 60s.
	Timeout string `yaml:"timeout,omitempty"`
	// ResetTimeoutOnProgress restarts the call timeout on progress notifications.
	ResetTimeoutOnProgress bool `yaml:"resetTimeoutOnProgress,omitempty"`
	// MaxTotalTimeout caps the call duration regardless of progress.
	MaxTotalTimeout string `yaml:"maxTotalTimeout,omitempty"`
}

// EntryVisibility controls whether one tool or prompt is published and lets
// the operator override its description.
type EntryVisibility struct {
	Enabled             *bool  `yaml:"enabled,omitempty"`
	DescriptionOverride string `yaml:"descriptionOverride,omitempty"`
}

// UpstreamOAuth configures OAuth for a remote upstream.
type UpstreamOAuth struct {
	// Enabled turns on the authorization-code flow for this upstream.
	Enabled bool `yaml:"enabled,omitempty"`
	// ClientID and ClientSecret preconfigure a registered client; when empty
	// and the authorization server supports RFC 7591, a client is registered
	// dynamically.
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
	// Scopes overrides scope selection; space separated.
	Scopes string `yaml:"scopes,omitempty"`
	// RedirectURIs overrides the callback URL derived from the hub's public
	// base URL. Only the first entry is used for authorization requests.
	RedirectURIs []string `yaml:"redirectUris,omitempty"`
	// AuthorizationEndpoint and TokenEndpoint bypass discovery when set.
	AuthorizationEndpoint string `yaml:"authorizationEndpoint,omitempty"`
	TokenEndpoint         string `yaml:"tokenEndpoint,omitempty"`
}

// OpenAPIOptions configures an openapi-kind upstream.
type OpenAPIOptions struct {
	// SpecURL points at the OpenAPI document; SpecInline embeds it verbatim.
	SpecURL    string `yaml:"specUrl,omitempty"`
	SpecInline string `yaml:"specInline,omitempty"`
	// BaseURL overrides the document's server URL for operation calls.
	BaseURL string `yaml:"baseUrl,omitempty"`
	// PassthroughHeaders are copied from the ambient downstream request
	// into each outbound operation call.
	PassthroughHeaders []string `yaml:"passthroughHeaders,omitempty"`
}

// GroupDefinition names a subset of upstreams exposed under one route,
// loaded from <configDir>/groups/<name>.yaml.
type GroupDefinition struct {
	Name    string        `yaml:"name"`
	Servers []GroupServer `yaml:"servers"`
}

// GroupServer selects one upstream for a group, optionally restricted to a
// subset of its tools. In YAML it is either a bare string (all tools) or a
// mapping {name, tools}.
type GroupServer struct {
	Name string `yaml:"name"`
	// Tools lists permitted tool names; empty means all.
	Tools []string `yaml:"tools,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (gs *GroupServer) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		gs.Name = name
		gs.Tools = nil
		return nil
	}
	type plain GroupServer
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*gs = GroupServer(p)
	return nil
}

// AllowsTool reports whether the group entry permits the given unprefixed
// tool name.
func (gs *GroupServer) AllowsTool(tool string) bool {
	if len(gs.Tools) == 0 {
		return true
	}
	for _, t := range gs.Tools {
		if t == tool || t == "all" {
			return true
		}
	}
	return false
}

// IsEnabled reports whether the upstream should be connected.
func (d *UpstreamDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// IsOnDemand reports whether the upstream connects per call.
func (d *UpstreamDefinition) IsOnDemand() bool {
	return d.ConnectionMode == ConnectionModeOnDemand
}

// GetKeepAliveInterval parses the keep-alive interval, falling back to the
// default when unset or malformed.
func (d *UpstreamDefinition) GetKeepAliveInterval() time.Duration {
	return parseDurationOr(d.KeepAliveInterval, DefaultKeepAliveInterval)
}

// GetTimeout parses the per-call timeout, falling back to the default.
func (d *UpstreamDefinition) GetTimeout() time.Duration {
	if d.Options == nil {
		return DefaultCallTimeout
	}
	return parseDurationOr(d.Options.Timeout, DefaultCallTimeout)
}

// GetMaxTotalTimeout parses the total timeout cap; zero means uncapped.
func (d *UpstreamDefinition) GetMaxTotalTimeout() time.Duration {
	if d.Options == nil {
		return 0
	}
	return parseDurationOr(d.Options.MaxTotalTimeout, 0)
}

// IsEntryEnabled reports whether a catalog entry is published given the
// visibility map. Entries absent from the map are published.
func IsEntryEnabled(m map[string]EntryVisibility, name string) bool {
	v, ok := m[name]
	if !ok {
		return true
	}
	return v.Enabled == nil || *v.Enabled
}

// EntryDescription returns the override description for a catalog entry, or
// the provided original when no override is configured.
func EntryDescription(m map[string]EntryVisibility, name, original string) string {
	if v, ok := m[name]; ok && v.DescriptionOverride != "" {
		return v.DescriptionOverride
	}
	return original
}

// GetHeartbeatInterval parses the cluster heartbeat interval.
func (c ClusterConfig) GetHeartbeatInterval() time.Duration {
	return parseDurationOr(c.HeartbeatInterval, DefaultHeartbeatInterval)
}

// GetOfflineAfter parses the node offline threshold.
func (c ClusterConfig) GetOfflineAfter() time.Duration {
	return parseDurationOr(c.OfflineAfter, DefaultOfflineAfter)
}

// GetSessionTTL parses the session record TTL; zero disables expiry.
func (c ClusterConfig) GetSessionTTL() time.Duration {
	return parseDurationOr(c.SessionTTL, DefaultSessionTTL)
}

// GetInitTimeout parses the upstream initialization timeout.
func (c HubConfig) GetInitTimeout() time.Duration {
	return parseDurationOr(c.InitTimeout, DefaultInitTimeout)
}

// GetPublicBaseURL returns the externally reachable base URL without a
// trailing slash, derived from host and port when not set explicitly. The
// base path is not part of it.
func (c HubConfig) GetPublicBaseURL() string {
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/")
	}
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// GetBasePath returns the configured base path normalized to either "" or a
// "/"-prefixed path without a trailing slash.
func (c HubConfig) GetBasePath() string {
	p := strings.Trim(c.BasePath, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
