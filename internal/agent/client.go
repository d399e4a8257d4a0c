package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// TransportType selects the wire transport used to reach the hub.
type TransportType string

const (
	TransportSSE            TransportType = "sse"
	TransportStreamableHTTP TransportType = "streamable-http"
)

// requestTimeout bounds every single MCP request the client sends.
const requestTimeout = 30 * time.Second

// notificationBuffer sizes the channel carrying server notifications.
// Notifications arriving while the buffer is full are dropped by mcp-go.
const notificationBuffer = 10

// clientName is announced as the MCP client implementation during the
// initialize handshake.
const clientName = "mcphub-agent"

// Client is a debugging MCP client for a running hub. It connects over
// streamable HTTP or SSE, keeps cached tool and prompt catalogs, and
// refreshes them when the hub sends list_changed notifications.
type Client struct {
	endpoint  string
	transport TransportType
	logger    *Logger
	headers   map[string]string

	client      client.MCPClient
	toolCache   []mcp.Tool
	promptCache []mcp.Prompt
	mu          sync.RWMutex

	// NotificationChan receives server notifications once Connect has
	// succeeded. The REPL drains it; non-interactive callers may ignore it.
	NotificationChan chan mcp.JSONRPCNotification
}

// NewClient creates a client for the given hub endpoint. The logger must
// not be nil; use a discard writer to silence protocol output.
func NewClient(endpoint string, logger *Logger, transport TransportType) *Client {
	return &Client{
		endpoint:         endpoint,
		transport:        transport,
		logger:           logger,
		headers:          map[string]string{},
		toolCache:        []mcp.Tool{},
		promptCache:      []mcp.Prompt{},
		NotificationChan: make(chan mcp.JSONRPCNotification, notificationBuffer),
	}
}

// Endpoint returns the hub URL this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Transport returns the configured transport type.
func (c *Client) Transport() TransportType {
	return c.transport
}

// SetHeader adds an HTTP header sent with every request. Headers must be set
// before Connect.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetBearerToken sets the Authorization header for hubs running with edge
// authentication enabled.
func (c *Client) SetBearerToken(token string) {
	c.SetHeader("Authorization", "Bearer "+token)
}

// Connect starts the transport and performs the MCP initialize handshake.
// The catalogs are not loaded here; call RefreshCatalogs afterwards.
func (c *Client) Connect(ctx context.Context) error {
	mcpClient, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.client = mcpClient

	if err := c.initialize(ctx); err != nil {
		c.client.Close()
		c.client = nil
		return fmt.Errorf("initialization failed: %w", err)
	}
	return nil
}

// dial creates and starts the transport-specific mcp-go client and routes
// its notifications into NotificationChan.
func (c *Client) dial(ctx context.Context) (client.MCPClient, error) {
	forward := func(notification mcp.JSONRPCNotification) {
		select {
		case c.NotificationChan <- notification:
		case <-ctx.Done():
		}
	}

	switch c.transport {
	case TransportSSE:
		var opts []transport.ClientOption
		if len(c.headers) > 0 {
			opts = append(opts, transport.WithHeaders(c.headers))
		}
		sseClient, err := client.NewSSEMCPClient(c.endpoint, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE client: %w", err)
		}
		if err := sseClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start SSE client: %w", err)
		}
		sseClient.OnNotification(forward)
		return sseClient, nil

	case TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(c.headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(c.headers))
		}
		httpClient, err := client.NewStreamableHttpClient(c.endpoint, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create streamable-http client: %w", err)
		}
		if err := httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start streamable-http client: %w", err)
		}
		httpClient.OnNotification(forward)
		return httpClient, nil

	default:
		return nil, fmt.Errorf("unsupported transport type: %s", c.transport)
	}
}

// initialize performs the MCP protocol handshake.
func (c *Client) initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: clientName, Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}

	c.logger.Request("initialize", req.Params)

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.client.Initialize(timeoutCtx, req)
	if err != nil {
		return err
	}

	c.logger.Response("initialize", result)
	return nil
}

// RefreshCatalogs loads both the tool and the prompt catalog.
func (c *Client) RefreshCatalogs(ctx context.Context) error {
	if err := c.RefreshTools(ctx); err != nil {
		return err
	}
	return c.RefreshPrompts(ctx)
}

// RefreshTools fetches the tool catalog and replaces the cache. Changes
// against the previous cache are logged.
func (c *Client) RefreshTools(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("client not connected")
	}

	c.logger.Request("tools/list", nil)

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.client.ListTools(timeoutCtx, mcp.ListToolsRequest{})
	if err != nil {
		return err
	}
	c.logger.Response("tools/list", result)

	c.mu.Lock()
	previous := toolNames(c.toolCache)
	c.toolCache = result.Tools
	c.mu.Unlock()

	c.logCatalogDiff("tools", previous, toolNames(result.Tools))
	return nil
}

// RefreshPrompts fetches the prompt catalog and replaces the cache.
func (c *Client) RefreshPrompts(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("client not connected")
	}

	c.logger.Request("prompts/list", nil)

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.client.ListPrompts(timeoutCtx, mcp.ListPromptsRequest{})
	if err != nil {
		return err
	}
	c.logger.Response("prompts/list", result)

	c.mu.Lock()
	previous := promptNames(c.promptCache)
	c.promptCache = result.Prompts
	c.mu.Unlock()

	c.logCatalogDiff("prompts", previous, promptNames(result.Prompts))
	return nil
}

// logCatalogDiff reports additions and removals between two name lists.
// Initial loads (empty previous list) are summarized instead of diffed.
func (c *Client) logCatalogDiff(kind string, previous, current []string) {
	if len(previous) == 0 {
		c.logger.Info("Loaded %d %s", len(current), kind)
		return
	}

	before := make(map[string]bool, len(previous))
	for _, name := range previous {
		before[name] = true
	}
	after := make(map[string]bool, len(current))
	for _, name := range current {
		after[name] = true
	}

	var added, removed []string
	for _, name := range current {
		if !before[name] {
			added = append(added, name)
		}
	}
	for _, name := range previous {
		if !after[name] {
			removed = append(removed, name)
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		c.logger.Debug("No %s changes detected", kind)
		return
	}
	c.logger.Info("Catalog changed (%s):", kind)
	for _, name := range added {
		c.logger.Success("  + %s", name)
	}
	for _, name := range removed {
		c.logger.Error("  - %s", name)
	}
}

// HandleNotification logs a server notification and refreshes the affected
// catalog for list_changed methods.
func (c *Client) HandleNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	c.logger.Notification(notification.Method, notification.Params)

	switch notification.Method {
	case "notifications/tools/list_changed":
		return c.RefreshTools(ctx)
	case "notifications/prompts/list_changed":
		return c.RefreshPrompts(ctx)
	}
	return nil
}

// Tools returns a snapshot of the cached tool catalog.
func (c *Client) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tools := make([]mcp.Tool, len(c.toolCache))
	copy(tools, c.toolCache)
	return tools
}

// Prompts returns a snapshot of the cached prompt catalog.
func (c *Client) Prompts() []mcp.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prompts := make([]mcp.Prompt, len(c.promptCache))
	copy(prompts, c.promptCache)
	return prompts
}

// GetToolByName looks the named tool up in the cache.
func (c *Client) GetToolByName(name string) *mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.toolCache {
		if c.toolCache[i].Name == name {
			tool := c.toolCache[i]
			return &tool
		}
	}
	return nil
}

// GetPromptByName looks the named prompt up in the cache.
func (c *Client) GetPromptByName(name string) *mcp.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.promptCache {
		if c.promptCache[i].Name == name {
			prompt := c.promptCache[i]
			return &prompt
		}
	}
	return nil
}

// CallTool executes a tool and returns the raw result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	req := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.client.CallTool(timeoutCtx, req)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	return result, nil
}

// CallToolText executes a tool and returns its text content joined with
// newlines. An IsError result is returned as an error.
func (c *Client) CallToolText(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	result, err := c.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}

	var texts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, textContent.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if result.IsError {
		return "", fmt.Errorf("tool error: %s", joined)
	}
	return joined, nil
}

// CallToolJSON executes a tool and parses its text content as JSON. Text
// that is not valid JSON is returned as-is.
func (c *Client) CallToolJSON(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	text, err := c.CallToolText(ctx, name, args)
	if err != nil {
		return nil, err
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return text, nil
	}
	return parsed, nil
}

// GetPrompt retrieves a prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	req := mcp.GetPromptRequest{
		Params: struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	}

	c.logger.Request(fmt.Sprintf("prompts/get (%s)", name), req.Params)

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.client.GetPrompt(timeoutCtx, req)
	if err != nil {
		return nil, err
	}

	c.logger.Response(fmt.Sprintf("prompts/get (%s)", name), result)
	return result, nil
}

// SupportsNotifications reports whether the transport delivers server
// notifications outside of request handling. Streamable HTTP receives them
// only on active request streams.
func (c *Client) SupportsNotifications() bool {
	return c.transport == TransportSSE
}

// Close tears down the transport.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return nil
}

// PrettyJSON renders a value as indented JSON for terminal display.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func toolNames(tools []mcp.Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return names
}

func promptNames(prompts []mcp.Prompt) []string {
	names := make([]string, len(prompts))
	for i, prompt := range prompts {
		names[i] = prompt.Name
	}
	return names
}
