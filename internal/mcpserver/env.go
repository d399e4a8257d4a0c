package mcpserver

import (
	"os"
	"path/filepath"
	"strings"

	"mcphub/internal/config"
)

// DeriveSubprocessEnv builds the environment overrides for a stdio upstream.
// The subprocess inherits the parent environment; the returned entries are
// appended on top of it. PATH is prefixed with the per-upstream npm and
// python tool directories under the data root, and the npm/uv cache and
// install locations are pinned below the data root so package-runner style
// servers (npx, uvx) stay self-contained. Each derived location can be
// overridden through the corresponding MCPHUB_* variable, and configured
// registry mirrors are passed through to npm, pip and uv.
func DeriveSubprocessEnv(name, dataRoot string, extra map[string]string) map[string]string {
	env := make(map[string]string, len(extra)+8)

	if dataRoot != "" {
		binDirs := []string{
			filepath.Join(dataRoot, "servers", "npm", name, "node_modules", ".bin"),
			filepath.Join(dataRoot, "servers", "python", name, "bin"),
		}
		env["PATH"] = strings.Join(append(binDirs, os.Getenv("PATH")), string(os.PathListSeparator))
		env["npm_config_cache"] = envOrDefault(config.EnvNpmCache, filepath.Join(dataRoot, "npm-cache"))
		env["npm_config_prefix"] = envOrDefault(config.EnvNpmGlobal, filepath.Join(dataRoot, "npm-global"))
		env["UV_CACHE_DIR"] = envOrDefault(config.EnvUvCache, filepath.Join(dataRoot, "uv", "cache"))
		env["UV_TOOL_DIR"] = envOrDefault(config.EnvUvTools, filepath.Join(dataRoot, "uv", "tools"))
	}

	if registry := os.Getenv(config.EnvNpmRegistry); registry != "" {
		env["NPM_CONFIG_REGISTRY"] = registry
	}
	if index := os.Getenv(config.EnvPypiIndexURL); index != "" {
		env["PIP_INDEX_URL"] = index
		env["UV_INDEX_URL"] = index
	}

	// The upstream's own env block wins over the derived entries.
	for k, v := range extra {
		env[k] = v
	}

	return env
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
