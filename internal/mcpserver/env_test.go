package mcpserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSubprocessEnv(t *testing.T) {
	t.Run("derives tool dirs from data root", func(t *testing.T) {
		env := DeriveSubprocessEnv("github", "/data", nil)

		sep := string(os.PathListSeparator)
		wantPrefix := filepath.Join("/data", "servers", "npm", "github", "node_modules", ".bin") +
			sep + filepath.Join("/data", "servers", "python", "github", "bin") + sep
		assert.True(t, strings.HasPrefix(env["PATH"], wantPrefix), "PATH = %q", env["PATH"])
		assert.True(t, strings.HasSuffix(env["PATH"], os.Getenv("PATH")))

		assert.Equal(t, filepath.Join("/data", "npm-cache"), env["npm_config_cache"])
		assert.Equal(t, filepath.Join("/data", "npm-global"), env["npm_config_prefix"])
		assert.Equal(t, filepath.Join("/data", "uv", "cache"), env["UV_CACHE_DIR"])
		assert.Equal(t, filepath.Join("/data", "uv", "tools"), env["UV_TOOL_DIR"])
	})

	t.Run("process env overrides derived dirs", func(t *testing.T) {
		t.Setenv("MCPHUB_NPM_CACHE", "/custom/npm-cache")
		t.Setenv("MCPHUB_UV_TOOLS", "/custom/uv-tools")

		env := DeriveSubprocessEnv("github", "/data", nil)

		assert.Equal(t, "/custom/npm-cache", env["npm_config_cache"])
		assert.Equal(t, "/custom/uv-tools", env["UV_TOOL_DIR"])
		assert.Equal(t, filepath.Join("/data", "npm-global"), env["npm_config_prefix"])
	})

	t.Run("registry mirrors applied when configured", func(t *testing.T) {
		t.Setenv("MCPHUB_NPM_REGISTRY", "https://registry.corp.example.com")
		t.Setenv("MCPHUB_PYPI_INDEX_URL", "https://pypi.corp.example.com/simple")

		env := DeriveSubprocessEnv("github", "/data", nil)

		assert.Equal(t, "https://registry.corp.example.com", env["NPM_CONFIG_REGISTRY"])
		assert.Equal(t, "https://pypi.corp.example.com/simple", env["PIP_INDEX_URL"])
		assert.Equal(t, "https://pypi.corp.example.com/simple", env["UV_INDEX_URL"])
	})

	t.Run("upstream env wins over derived entries", func(t *testing.T) {
		env := DeriveSubprocessEnv("github", "/data", map[string]string{
			"PATH":             "/opt/only",
			"npm_config_cache": "/upstream/cache",
			"GITHUB_TOKEN":     "tok",
		})

		assert.Equal(t, "/opt/only", env["PATH"])
		assert.Equal(t, "/upstream/cache", env["npm_config_cache"])
		assert.Equal(t, "tok", env["GITHUB_TOKEN"])
	})

	t.Run("empty data root derives nothing", func(t *testing.T) {
		env := DeriveSubprocessEnv("github", "", map[string]string{"FOO": "bar"})

		require.NotContains(t, env, "PATH")
		require.NotContains(t, env, "npm_config_cache")
		assert.Equal(t, "bar", env["FOO"])
	})
}
