package cmd

import (
	"context"
	"fmt"

	"mcphub/internal/app"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the hub.
var serveDebug bool

// serveSilent suppresses all log output. Required for stdio transport
// deployments where stdout carries the MCP session.
var serveSilent bool

// serveConfigDir overrides the configuration directory.
var serveConfigDir string

// servePort, serveBasePath and serveTransport override their config.yaml
// counterparts when set.
var (
	servePort      int
	serveBasePath  string
	serveTransport string
)

// serveCmd defines the serve command structure. This is the main command of
// mcphub: it connects the configured upstreams and starts the downstream
// edge server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub server",
	Long: `Starts the hub: connects every enabled upstream MCP server, builds the
aggregated tool and prompt catalogs, and serves them to MCP clients over
streamable HTTP and SSE (or stdio with --transport stdio).

Configuration is loaded from a single directory (default ~/.config/mcphub,
overridable with --config-dir or MCPHUB_CONFIG_DIR):
  - config.yaml   main configuration (port, base path, auth, cluster)
  - upstreams/    one YAML file per upstream MCP server
  - groups/       one YAML file per upstream group

The directory is watched; editing an upstream definition reconnects that
upstream without a restart. The process runs until it receives SIGINT or
SIGTERM, then shuts down gracefully and exits 0.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveSilent, serveConfigDir)
	cfg.Port = servePort
	cfg.BasePath = serveBasePath
	cfg.Transport = serveTransport
	cfg.Version = rootCmd.Version

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigDir, "config-dir", "", "Configuration directory (default: $MCPHUB_CONFIG_DIR or ~/.config/mcphub)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config.yaml)")
	serveCmd.Flags().StringVar(&serveBasePath, "base-path", "", "Base path to mount the MCP routes under (overrides config.yaml)")
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "Downstream transport: streamable-http, sse or stdio (overrides config.yaml)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
}
