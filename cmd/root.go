package cmd

import (
	"errors"
	"os"

	"mcphub/internal/cli"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
// These follow common conventions so scripts can react to failure classes.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConnection indicates the hub could not be reached.
	ExitCodeConnection = 2
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 3
)

// rootCmd represents the base command for the mcphub application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "Aggregate MCP servers behind a single endpoint",
	Long: `mcphub connects to many upstream MCP servers (stdio subprocesses,
remote SSE or streamable HTTP endpoints, OpenAPI documents) and republishes
their tools and prompts through one MCP endpoint. Groups scope which
upstreams a client sees; the agent subcommand provides an interactive
client for debugging a running hub.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is called from the main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles
// subcommands and flags. This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcphub version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var connErr *cli.ConnectionError
	if errors.As(err, &connErr) {
		return ExitCodeConnection
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
