package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcphub/internal/agent"
	"mcphub/internal/cli"
	"mcphub/internal/config"

	"github.com/spf13/cobra"
)

var (
	agentEndpoint  string
	agentConfigDir string
	agentTransport string
	agentBearer    string
	agentVerbose   bool
	agentNoColor   bool
	agentJSONRPC   bool
)

// agentCmd represents the agent command.
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Interactive MCP client for a running hub",
	Long: `The agent command connects to a running hub as an MCP client and starts
an interactive REPL to explore and execute the aggregated catalog.

Inside the REPL you can:
- list tools and prompts (tools, prompts)
- inspect a single entry (describe <name>)
- execute tools with JSON arguments (call <tool> {"key": "value"})
- review received notifications (notifications)

Transport options:
- streamable-http (default): matches a hub serving streamable HTTP
- sse: Server-Sent Events, receives list_changed notifications in real time

By default the agent connects to the endpoint derived from the hub
configuration directory. Override it with --endpoint. If the hub runs with
edge authentication enabled, pass the bearer key with --bearer.

Note: the hub must be running (use 'mcphub serve') before using this command.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().StringVar(&agentEndpoint, "endpoint", "", "Hub MCP endpoint URL (default: derived from config)")
	agentCmd.Flags().StringVar(&agentConfigDir, "config-dir", "", "Configuration directory used to derive the endpoint (default: $MCPHUB_CONFIG_DIR or ~/.config/mcphub)")
	agentCmd.Flags().StringVar(&agentTransport, "transport", string(agent.TransportStreamableHTTP), "Transport to use (streamable-http, sse)")
	agentCmd.Flags().StringVar(&agentBearer, "bearer", "", "Bearer key for hubs with edge authentication enabled")
	agentCmd.Flags().BoolVar(&agentVerbose, "verbose", false, "Enable verbose logging")
	agentCmd.Flags().BoolVar(&agentNoColor, "no-color", false, "Disable colored output")
	agentCmd.Flags().BoolVar(&agentJSONRPC, "json-rpc", false, "Log full JSON-RPC messages")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger := agent.NewLogger(agentVerbose, !agentNoColor, agentJSONRPC)

	// Handle interrupts gracefully.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		logger.Info("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	transport, err := parseAgentTransport(agentTransport)
	if err != nil {
		return err
	}

	endpoint := agentEndpoint
	if endpoint == "" {
		configDir := agentConfigDir
		if configDir == "" {
			configDir = config.GetDefaultConfigPathOrPanic()
		}
		endpoint = cli.DetectHubEndpoint(configDir, agentTransport)
	}

	client := agent.NewClient(endpoint, logger, transport)
	if agentBearer != "" {
		client.SetBearerToken(agentBearer)
	}

	if err := connectWithRetry(ctx, client, logger, endpoint, transport); err != nil {
		return err
	}
	defer client.Close()

	repl := agent.NewREPL(client, logger)
	if err := repl.Run(ctx); err != nil {
		return fmt.Errorf("REPL error: %w", err)
	}
	return nil
}

// parseAgentTransport validates the --transport flag value.
func parseAgentTransport(value string) (agent.TransportType, error) {
	switch value {
	case string(agent.TransportSSE):
		return agent.TransportSSE, nil
	case string(agent.TransportStreamableHTTP):
		return agent.TransportStreamableHTTP, nil
	default:
		return "", fmt.Errorf("unsupported transport: %s (supported: streamable-http, sse)", value)
	}
}

// connectWithRetry attempts to connect to the hub, retrying transient
// failures. The final error is classified so the process exits with a
// semantic exit code.
func connectWithRetry(ctx context.Context, client *agent.Client, logger *agent.Logger, endpoint string, transport agent.TransportType) error {
	const maxRetries = 3

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		logger.Info("Connecting to hub at %s (%s transport, attempt %d/%d)", endpoint, transport, attempt+1, maxRetries)

		lastErr = client.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < maxRetries-1 {
			logger.Info("Connection attempt %d failed, retrying: %v", attempt+1, lastErr)
		}
	}

	return fmt.Errorf("failed to connect to hub: %w", cli.WrapConnectError(lastErr, endpoint))
}
