package mcpserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultStdioInitTimeout is the default timeout for stdio client
// initialization. This covers the time needed to start the subprocess and
// complete the MCP handshake.
const DefaultStdioInitTimeout = 10 * time.Second

// StdioClient implements the MCPClient interface using stdio transport.
// It manages a local subprocess that communicates via stdin/stdout. The
// subprocess stderr is streamed to the hub log, prefixed with the upstream
// name, so startup failures of npx/uvx style servers stay visible.
type StdioClient struct {
	baseMCPClient
	name    string
	command string
	args    []string
	env     map[string]string
}

// NewStdioClient creates a new stdio-based MCP client without extra
// environment variables.
func NewStdioClient(command string, args []string) *StdioClient {
	return &StdioClient{
		command: command,
		args:    args,
		env:     make(map[string]string),
	}
}

// NewStdioClientWithEnv creates a new stdio-based MCP client with environment
// variables. The entries are appended to the parent process environment when
// the subprocess is spawned, so they override inherited values.
func NewStdioClientWithEnv(command string, args []string, env map[string]string) *StdioClient {
	if env == nil {
		env = make(map[string]string)
	}
	return &StdioClient{
		command: command,
		args:    args,
		env:     env,
	}
}

// logName returns the label used to prefix subprocess stderr lines.
func (c *StdioClient) logName() string {
	if c.name != "" {
		return c.name
	}
	return filepath.Base(c.command)
}

// Initialize establishes the connection and performs protocol handshake
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StdioClient", "Creating stdio client for command: %s %v", c.command, c.args)

	// Convert environment map to slice of strings
	var envStrings []string
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	// Create stdio client - it will start the process
	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio client: %w", err)
	}

	logging.Debug("StdioClient", "Stdio client created, initializing MCP protocol for %s", c.command)

	// Initialize the MCP protocol with timeout from context.
	// If no timeout in context, add a reasonable default.
	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	initResult, err := mcpClient.Initialize(initCtx, mcp.InitializeRequest{
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
		logging.Error("StdioClient", err, "Failed to initialize MCP protocol for %s", c.command)
		closeErr := mcpClient.Close()
		if closeErr != nil {
			logging.Debug("StdioClient", "Error closing failed client for %s: %v", c.command, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	if stderr, ok := client.GetStderr(mcpClient); ok && stderr != nil {
		go c.streamStderr(stderr)
	}

	logging.Debug("StdioClient", "MCP protocol initialized for %s. Server: %s, Version: %s",
		c.command, initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

// streamStderr copies subprocess stderr lines into the hub log. The goroutine
// exits when the subprocess closes its stderr pipe.
func (c *StdioClient) streamStderr(r io.Reader) {
	name := c.logName()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		logging.Info("Upstream", "[%s] %s", name, line)
	}
}

// Close cleanly shuts down the client connection
func (c *StdioClient) Close() error {
	return c.closeClient()
}

// ListTools returns all available tools from the server
func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// ListPrompts returns all available prompts from the server
func (c *StdioClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return c.listPrompts(ctx)
}

// GetPrompt retrieves a specific prompt
func (c *StdioClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return c.getPrompt(ctx, name, args)
}

// Ping checks if the server is responsive
func (c *StdioClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// OnNotification registers a handler for server-initiated notifications
func (c *StdioClient) OnNotification(handler func(mcp.JSONRPCNotification)) {
	c.onNotification(handler)
}
