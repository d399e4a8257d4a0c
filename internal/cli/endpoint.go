package cli

import (
	"mcphub/internal/config"
)

// DetectHubEndpoint derives the hub endpoint URL for the given transport from
// the configuration directory. When no configuration can be loaded the
// compiled defaults apply, so a hub started with a plain `mcphub serve` is
// found without any flags.
func DetectHubEndpoint(configDir string, transport string) string {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		cfg = config.GetDefaultConfig()
	}

	base := cfg.GetPublicBaseURL() + cfg.GetBasePath()
	if transport == config.TransportSSE {
		return base + "/sse"
	}
	return base + "/mcp"
}
