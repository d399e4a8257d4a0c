package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandString(t *testing.T) {
	t.Setenv("HUB_TEST_VAR", "value")

	assert.Equal(t, "value", ExpandString("${HUB_TEST_VAR}"))
	assert.Equal(t, "value", ExpandString("$HUB_TEST_VAR"))
	assert.Equal(t, "prefix-value-suffix", ExpandString("prefix-${HUB_TEST_VAR}-suffix"))
	// Unknown variables expand to empty.
	assert.Equal(t, "", ExpandString("${HUB_TEST_UNSET_VAR}"))
	assert.Equal(t, "a--b", ExpandString("a-${HUB_TEST_UNSET_VAR}-b"))
	// No $ sequences pass through untouched.
	assert.Equal(t, "plain string", ExpandString("plain string"))
	// Expansion is idempotent when the result has no $ sequences left.
	once := ExpandString("x-${HUB_TEST_VAR}")
	assert.Equal(t, once, ExpandString(once))
}

func TestExpandValue_Nested(t *testing.T) {
	t.Setenv("HUB_TEST_VAR", "expanded")

	in := map[string]interface{}{
		"scalar": "${HUB_TEST_VAR}",
		"list":   []interface{}{"$HUB_TEST_VAR", 42, true},
		"nested": map[string]interface{}{
			"deep": "${HUB_TEST_VAR}/path",
		},
	}

	out := ExpandValue(in).(map[string]interface{})
	assert.Equal(t, "expanded", out["scalar"])
	assert.Equal(t, []interface{}{"expanded", 42, true}, out["list"])
	assert.Equal(t, "expanded/path", out["nested"].(map[string]interface{})["deep"])
}

func TestExpandUpstreamDefinition(t *testing.T) {
	t.Setenv("HUB_TEST_TOKEN", "tok")
	t.Setenv("HUB_TEST_HOST", "mcp.example.com")

	def := UpstreamDefinition{
		Name:    "srv",
		Kind:    UpstreamKindStreamableHTTP,
		URL:     "https://${HUB_TEST_HOST}/mcp",
		Headers: map[string]string{"Authorization": "Bearer $HUB_TEST_TOKEN"},
		Args:    []string{"--token", "${HUB_TEST_TOKEN}"},
		Env:     map[string]string{"API_KEY": "${HUB_TEST_TOKEN}"},
		OAuth:   &UpstreamOAuth{ClientSecret: "${HUB_TEST_TOKEN}"},
		OpenAPI: &OpenAPIOptions{SpecURL: "https://${HUB_TEST_HOST}/openapi.json"},
	}

	ExpandUpstreamDefinition(&def)

	assert.Equal(t, "https://mcp.example.com/mcp", def.URL)
	assert.Equal(t, "Bearer tok", def.Headers["Authorization"])
	assert.Equal(t, []string{"--token", "tok"}, def.Args)
	assert.Equal(t, "tok", def.Env["API_KEY"])
	assert.Equal(t, "tok", def.OAuth.ClientSecret)
	assert.Equal(t, "https://mcp.example.com/openapi.json", def.OpenAPI.SpecURL)
}
