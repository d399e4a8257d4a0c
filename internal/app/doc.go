// Package app provides application bootstrap and process lifecycle management
// for the hub.
//
// It is the layer between the CLI (cmd/) and the hub's components: it loads
// the configuration store, wires the cluster coordinator, the OAuth manager
// and the aggregating hub server, and then drives their lifecycle until the
// process terminates.
//
// # Bootstrap Sequence
//
// NewApplication performs the construction phase:
//
//  1. Logging: stderr by default (stdout is reserved for the stdio MCP
//     transport), io.Discard with --silent, debug level with --debug.
//  2. Flag overrides: --port, --base-path and --transport are exported into
//     the process environment (MCPHUB_PORT, MCPHUB_BASE_PATH,
//     MCPHUB_TRANSPORT) so configuration reloads keep honoring them.
//  3. Configuration: the store loads config.yaml plus the upstreams/ and
//     groups/ entity directories from --config-dir, MCPHUB_CONFIG_DIR, or
//     ~/.config/mcphub. Entity files that fail to parse are skipped and
//     logged; they never abort startup.
//  4. Services: the cluster coordinator selected by cluster.type (memory or
//     redis), the OAuth manager persisting under <configDir>/oauth, the hub
//     server, and the configuration watcher.
//
// Nothing connects or listens during construction; that keeps bootstrap
// failures cheap and the wiring testable.
//
// # Run Loop
//
// Application.Run executes the process lifecycle:
//
//  1. Initialize the coordinator (redis deployments join the cluster here).
//  2. Start the hub: connect upstreams, publish node status, serve HTTP,
//     and optionally attach a stdio session.
//  3. Start the configuration watcher. Debounced change events reload the
//     store, reconcile the upstream registry (new upstreams connect, removed
//     ones deregister) and re-project session catalogs. Listener settings
//     and the name separator cannot change at runtime; changes to them are
//     logged as restart-required.
//  4. Notify systemd readiness, then block until SIGINT, SIGTERM, or context
//     cancellation.
//  5. Shut down in reverse order: watcher, sessions and HTTP edge, upstream
//     connections, OAuth background work, cluster membership.
//
// A clean shutdown returns nil and the process exits 0.
package app
