// Package config loads and watches the hub configuration.
//
// Configuration lives in a single directory (default ~/.config/mcphub,
// overridable via MCPHUB_CONFIG_DIR):
//
//	config.yaml          top-level HubConfig
//	upstreams/<n>.yaml   one UpstreamDefinition per file
//	groups/<n>.yaml      one GroupDefinition per file
//	oauth/<n>.yaml       per-upstream OAuth state (written by internal/oauth)
//
// String-valued upstream fields support ${VAR} and $VAR environment
// expansion at load time; unknown variables expand to empty.
//
// Store serves two views: RawSettings (unfiltered, for security checks) and
// Settings(user) (owner-scoped, secrets blanked, for display). Watcher emits
// debounced change events when entity files are created, modified, or
// removed.
package config
