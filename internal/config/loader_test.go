package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadConfig_Defaults(t *testing.T) {
	tempDir := t.TempDir()

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultNameSeparator, cfg.NameSeparator)
	assert.Equal(t, TransportStreamableHTTP, cfg.Transport)
	assert.Equal(t, DefaultUserHeader, cfg.Auth.UserHeader)
	assert.Equal(t, "memory", cfg.Cluster.Type)
	assert.True(t, cfg.Smart.Enabled)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "config.yaml"), `
port: 9000
basePath: /hub
nameSeparator: "_"
auth:
  enabled: true
  bearerKey: secret123
cluster:
  type: redis
  redis:
    addr: localhost:6379
    keyPrefix: hub
  heartbeatInterval: 5s
`)

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/hub", cfg.BasePath)
	assert.Equal(t, "_", cfg.NameSeparator)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret123", cfg.Auth.BearerKey)
	assert.Equal(t, "redis", cfg.Cluster.Type)
	assert.Equal(t, "localhost:6379", cfg.Cluster.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Cluster.GetHeartbeatInterval())
	// Fields absent from the file keep their defaults.
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultUserHeader, cfg.Auth.UserHeader)
}

func TestLoadConfig_Malformed(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "config.yaml"), "port: [not a number\n")

	_, err := LoadConfig(tempDir)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, "config.yaml"), "port: 9000\n")
	t.Setenv(EnvPort, "9999")
	t.Setenv(EnvBasePath, "/env")

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/env", cfg.BasePath)
}

func TestLoadUpstreamDefinitions(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, UpstreamsDir, "time.yaml"), `
name: time
kind: stdio
command: uvx
args: ["mcp-server-time"]
`)
	writeFile(t, filepath.Join(tempDir, UpstreamsDir, "remote.yaml"), `
kind: sse
url: https://mcp.example.com/sse
headers:
  Authorization: Bearer ${UPSTREAM_TOKEN}
`)
	t.Setenv("UPSTREAM_TOKEN", "tok-123")

	defs, errs := LoadUpstreamDefinitions(tempDir)
	require.False(t, errs.HasErrors(), errs.Error())
	require.Len(t, defs, 2)

	// Sorted by name; "remote" takes its name from the filename.
	assert.Equal(t, "remote", defs[0].Name)
	assert.Equal(t, UpstreamKindSSE, defs[0].Kind)
	assert.Equal(t, "Bearer tok-123", defs[0].Headers["Authorization"])

	assert.Equal(t, "time", defs[1].Name)
	assert.Equal(t, "uvx", defs[1].Command)
	assert.True(t, defs[1].IsEnabled())
}

func TestLoadUpstreamDefinitions_CollectsErrors(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, UpstreamsDir, "good.yaml"), `
kind: streamable-http
url: https://good.example.com/mcp
`)
	writeFile(t, filepath.Join(tempDir, UpstreamsDir, "broken.yaml"), "kind: [oops\n")
	writeFile(t, filepath.Join(tempDir, UpstreamsDir, "invalid.yaml"), "kind: sse\n") // missing url

	defs, errs := LoadUpstreamDefinitions(tempDir)
	assert.Len(t, defs, 1)
	assert.Equal(t, "good", defs[0].Name)
	assert.True(t, errs.HasErrors())
	assert.Len(t, errs.Errors, 2)
}

func TestLoadUpstreamDefinitions_DuplicateName(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, UpstreamsDir, "a.yaml"), "name: same\nkind: stdio\ncommand: echo\n")
	writeFile(t, filepath.Join(tempDir, UpstreamsDir, "b.yaml"), "name: same\nkind: stdio\ncommand: echo\n")

	defs, errs := LoadUpstreamDefinitions(tempDir)
	assert.Len(t, defs, 1)
	assert.True(t, errs.HasErrors())
}

func TestLoadUpstreamDefinitions_MissingDir(t *testing.T) {
	defs, errs := LoadUpstreamDefinitions(t.TempDir())
	assert.Empty(t, defs)
	assert.False(t, errs.HasErrors())
}

func TestLoadGroupDefinitions(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, GroupsDir, "ops.yaml"), `
name: ops
servers:
  - kubernetes
  - name: monitoring
    tools: [query_range, alerts]
`)

	defs, errs := LoadGroupDefinitions(tempDir)
	require.False(t, errs.HasErrors(), errs.Error())
	require.Len(t, defs, 1)

	g := defs[0]
	assert.Equal(t, "ops", g.Name)
	require.Len(t, g.Servers, 2)
	assert.Equal(t, "kubernetes", g.Servers[0].Name)
	assert.Empty(t, g.Servers[0].Tools)
	assert.Equal(t, "monitoring", g.Servers[1].Name)
	assert.Equal(t, []string{"query_range", "alerts"}, g.Servers[1].Tools)
}
