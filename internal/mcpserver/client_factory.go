package mcpserver

import (
	"fmt"
	"net/http"

	"mcphub/internal/config"

	"github.com/mark3labs/mcp-go/client/transport"
)

// ClientConfig contains configuration for creating an MCP client.
// This provides a unified configuration structure for all transport kinds.
type ClientConfig struct {
	// Name is the upstream name, used for log prefixes and the per-upstream
	// tool directories of stdio servers.
	Name string
	// Command is the executable path for stdio servers
	Command string
	// Args are the command line arguments for stdio servers
	Args []string
	// Env contains environment variables for stdio servers
	Env map[string]string
	// URL is the endpoint for remote servers (streamable-http, sse)
	URL string
	// Headers are HTTP headers for remote servers
	Headers map[string]string
	// HTTPClient is a custom HTTP client to use for remote servers.
	// When set, this client is used instead of the default.
	HTTPClient *http.Client
	// TokenStore attaches OAuth tokens to remote transports. Streamable HTTP
	// injects and refreshes per request; SSE reads the token at connect time.
	TokenStore transport.TokenStore
	// OAuthScopes are requested when the transport drives an OAuth flow.
	OAuthScopes []string
	// SpecURL, SpecInline, BaseURL and PassthroughHeaders configure
	// openapi-kind upstreams.
	SpecURL            string
	SpecInline         string
	BaseURL            string
	PassthroughHeaders []string
}

// ConfigFromDefinition maps an upstream definition onto a ClientConfig.
// Stdio upstreams get the derived subprocess environment rooted at dataRoot.
// OAuth wiring is the caller's concern: the registry attaches a token store
// before creating the client when the upstream has an auth provider.
func ConfigFromDefinition(def *config.UpstreamDefinition, dataRoot string) ClientConfig {
	cfg := ClientConfig{
		Name:    def.Name,
		Command: def.Command,
		Args:    def.Args,
		URL:     def.URL,
		Headers: def.Headers,
	}
	if def.Kind == config.UpstreamKindStdio {
		cfg.Env = DeriveSubprocessEnv(def.Name, dataRoot, def.Env)
	}
	if def.OpenAPI != nil {
		cfg.SpecURL = def.OpenAPI.SpecURL
		cfg.SpecInline = def.OpenAPI.SpecInline
		cfg.BaseURL = def.OpenAPI.BaseURL
		cfg.PassthroughHeaders = def.OpenAPI.PassthroughHeaders
	}
	return cfg
}

// NewClient creates the appropriate MCP client for the upstream kind.
//
// Supported kinds:
//   - "stdio": StdioClient running a local subprocess
//   - "sse": SSEClient for Server-Sent Events servers
//   - "streamable-http": StreamableHTTPClient for streamable HTTP servers
//   - "openapi": OpenAPIClient exposing an OpenAPI document as tools
//
// Returns an error if the kind is not recognized or a required parameter is
// missing.
func NewClient(kind config.UpstreamKind, cfg ClientConfig) (MCPClient, error) {
	switch kind {
	case config.UpstreamKindStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("command is required for stdio kind")
		}
		c := NewStdioClientWithEnv(cfg.Command, cfg.Args, cfg.Env)
		c.name = cfg.Name
		return c, nil

	case config.UpstreamKindSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("url is required for sse kind")
		}
		if cfg.TokenStore != nil {
			return NewSSEClientWithTokenStore(cfg.URL, cfg.Headers, cfg.TokenStore), nil
		}
		return NewSSEClientWithHeaders(cfg.URL, cfg.Headers), nil

	case config.UpstreamKindStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("url is required for streamable-http kind")
		}
		if cfg.TokenStore != nil {
			c := NewStreamableHTTPClientWithTokenStore(cfg.URL, cfg.Headers, cfg.TokenStore, cfg.OAuthScopes)
			c.httpClient = cfg.HTTPClient
			return c, nil
		}
		if cfg.HTTPClient != nil {
			return NewStreamableHTTPClientWithHTTPClient(cfg.URL, cfg.Headers, cfg.HTTPClient), nil
		}
		return NewStreamableHTTPClientWithHeaders(cfg.URL, cfg.Headers), nil

	case config.UpstreamKindOpenAPI:
		if cfg.SpecURL == "" && cfg.SpecInline == "" {
			return nil, fmt.Errorf("specUrl or specInline is required for openapi kind")
		}
		return NewOpenAPIClient(cfg.Name, OpenAPIConfig{
			SpecURL:            cfg.SpecURL,
			SpecInline:         cfg.SpecInline,
			BaseURL:            cfg.BaseURL,
			PassthroughHeaders: cfg.PassthroughHeaders,
			Headers:            cfg.Headers,
			HTTPClient:         cfg.HTTPClient,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported MCP server kind: %s (supported: %s, %s, %s, %s)",
			kind, config.UpstreamKindStdio, config.UpstreamKindSSE,
			config.UpstreamKindStreamableHTTP, config.UpstreamKindOpenAPI)
	}
}
