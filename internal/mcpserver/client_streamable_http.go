package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// StreamableHTTPClient implements the MCPClient interface using the
// streamable HTTP transport. It connects to remote MCP servers over plain
// HTTP requests with optional SSE upgrade for streaming responses.
type StreamableHTTPClient struct {
	baseMCPClient
	url         string
	headers     map[string]string
	httpClient  *http.Client
	tokenStore  transport.TokenStore
	oauthScopes []string
}

// NewStreamableHTTPClient creates a new streamable HTTP MCP client without
// custom headers.
func NewStreamableHTTPClient(url string) *StreamableHTTPClient {
	return &StreamableHTTPClient{
		url:     url,
		headers: make(map[string]string),
	}
}

// NewStreamableHTTPClientWithHeaders creates a new streamable HTTP MCP client
// with custom headers.
func NewStreamableHTTPClientWithHeaders(url string, headers map[string]string) *StreamableHTTPClient {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &StreamableHTTPClient{
		url:     url,
		headers: headers,
	}
}

// NewStreamableHTTPClientWithHTTPClient creates a streamable HTTP MCP client
// backed by a caller-supplied http.Client, for custom TLS or proxy setups.
func NewStreamableHTTPClientWithHTTPClient(url string, headers map[string]string, httpClient *http.Client) *StreamableHTTPClient {
	c := NewStreamableHTTPClientWithHeaders(url, headers)
	c.httpClient = httpClient
	return c
}

// NewStreamableHTTPClientWithTokenStore creates a streamable HTTP MCP client
// with OAuth wired through mcp-go's transport layer. The transport injects
// the bearer token on every outbound request and refreshes it through the
// store when it expires.
func NewStreamableHTTPClientWithTokenStore(url string, headers map[string]string, store transport.TokenStore, scopes []string) *StreamableHTTPClient {
	c := NewStreamableHTTPClientWithHeaders(url, headers)
	c.tokenStore = store
	c.oauthScopes = scopes
	return c
}

// Initialize establishes the connection and performs protocol handshake
func (c *StreamableHTTPClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StreamableHTTPClient", "Creating StreamableHTTP client for URL: %s", c.url)

	// Build client options including headers if provided
	var opts []transport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.headers))
		logging.Debug("StreamableHTTPClient", "Configured %d custom headers", len(c.headers))
	}

	// If a custom HTTP client is provided, use it
	if c.httpClient != nil {
		opts = append(opts, transport.WithHTTPBasicClient(c.httpClient))
	}

	// Attach OAuth when a token store is wired. mcp-go owns refresh and 401
	// handling from here on.
	if c.tokenStore != nil {
		opts = append(opts, transport.WithHTTPOAuth(transport.OAuthConfig{
			TokenStore: c.tokenStore,
			Scopes:     c.oauthScopes,
		}))
		logging.Debug("StreamableHTTPClient", "OAuth token store attached for %s", c.url)
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create StreamableHTTP client: %w", err)
	}

	initResult, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "mcphub",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		mcpClient.Close()

		// Check if this is a 401 authentication error
		if authErr := CheckForAuthRequiredError(err, c.url); authErr != nil {
			logging.Debug("StreamableHTTPClient", "Authentication required for URL: %s", c.url)
			return authErr
		}

		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("StreamableHTTPClient", "StreamableHTTP client initialized. Server: %s, Version: %s",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

// Close cleanly shuts down the client connection
func (c *StreamableHTTPClient) Close() error {
	return c.closeClient()
}

// ListTools returns all available tools from the server
func (c *StreamableHTTPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *StreamableHTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// ListPrompts returns all available prompts from the server
func (c *StreamableHTTPClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return c.listPrompts(ctx)
}

// GetPrompt retrieves a specific prompt
func (c *StreamableHTTPClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return c.getPrompt(ctx, name, args)
}

// Ping checks if the server is responsive
func (c *StreamableHTTPClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// OnNotification registers a handler for server-initiated notifications
func (c *StreamableHTTPClient) OnNotification(handler func(mcp.JSONRPCNotification)) {
	c.onNotification(handler)
}
