package app

// Config carries the process-level settings resolved from CLI flags before
// the configuration store exists.
type Config struct {
	// Debug enables verbose logging across the hub.
	Debug bool

	// Silent suppresses all log output. Useful for stdio-transport
	// deployments that cannot tolerate noise on the standard streams.
	Silent bool

	// ConfigPath overrides the configuration directory. Empty selects the
	// default resolution: MCPHUB_CONFIG_DIR, then ~/.config/mcphub.
	ConfigPath string

	// Port, BasePath and Transport override their config.yaml counterparts
	// when set. They are exported into the process environment during
	// bootstrap so configuration reloads keep honoring them.
	Port      int
	BasePath  string
	Transport string

	// Version is the build version injected by main.
	Version string
}

// NewConfig creates the application configuration from CLI flags.
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
