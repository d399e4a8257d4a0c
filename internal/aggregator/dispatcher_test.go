package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/config"
)

// catalogFixture builds a store, a registry with canned upstreams, and a
// dispatcher over them:
//
//	time    - tools now, sleep; prompt brief
//	weather - tool report
//	private - tool peek, owned by alice
//
// The ops group exposes only time's now tool plus weather.
func catalogFixture(t *testing.T) (*Dispatcher, *UpstreamRegistry, map[string]*mockUpstreamClient) {
	t.Helper()

	store := newHubStore(t, map[string]string{
		"upstreams/time.yaml":    "kind: streamable-http\nurl: http://127.0.0.1:1/mcp\n",
		"upstreams/weather.yaml": "kind: streamable-http\nurl: http://127.0.0.1:1/mcp\n",
		"upstreams/private.yaml": "kind: streamable-http\nurl: http://127.0.0.1:1/mcp\nowner: alice\n",
		"groups/ops.yaml":        "servers:\n  - name: time\n    tools: [now]\n  - name: weather\n",
	})
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	clients := map[string]*mockUpstreamClient{
		"time":    {},
		"weather": {},
		"private": {},
	}

	timeDef, _ := store.Upstream("time")
	injectUpstream(r, timeDef, clients["time"],
		[]mcp.Tool{
			{Name: "time-now", Description: "Get the current time in any timezone", InputSchema: mcp.ToolInputSchema{Type: "object"}},
			{Name: "time-sleep", Description: "Sleep for a duration", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		},
		[]mcp.Prompt{{Name: "time-brief", Description: "Summarize the day"}})

	weatherDef, _ := store.Upstream("weather")
	injectUpstream(r, weatherDef, clients["weather"],
		[]mcp.Tool{{Name: "weather-report", Description: "Fetch a weather report", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		nil)

	privateDef, _ := store.Upstream("private")
	injectUpstream(r, privateDef, clients["private"],
		[]mcp.Tool{{Name: "private-peek", Description: "Look at alice's things", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		nil)

	return NewDispatcher(r, store, nil), r, clients
}

func toolNames(tools []mcp.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestDispatcher_ListTools_GlobalScope(t *testing.T) {
	d, _, _ := catalogFixture(t)

	names := toolNames(d.ListTools(Scope{}))
	assert.ElementsMatch(t, []string{"time-now", "time-sleep", "weather-report"}, names)
}

func TestDispatcher_ListTools_GroupFilter(t *testing.T) {
	d, _, _ := catalogFixture(t)

	names := toolNames(d.ListTools(Scope{Group: "ops"}))
	assert.ElementsMatch(t, []string{"time-now", "weather-report"}, names)
}

func TestDispatcher_ListTools_SingleUpstreamScope(t *testing.T) {
	d, _, _ := catalogFixture(t)

	names := toolNames(d.ListTools(Scope{Group: "weather"}))
	assert.Equal(t, []string{"weather-report"}, names)
}

func TestDispatcher_ListTools_UnknownScopeIsEmpty(t *testing.T) {
	d, _, _ := catalogFixture(t)

	assert.Empty(t, d.ListTools(Scope{Group: "nope"}))
}

func TestDispatcher_ListTools_OwnerScoping(t *testing.T) {
	d, _, _ := catalogFixture(t)

	anon := toolNames(d.ListTools(Scope{}))
	assert.NotContains(t, anon, "private-peek")

	alice := toolNames(d.ListTools(Scope{User: "alice"}))
	assert.Contains(t, alice, "private-peek")

	bob := toolNames(d.ListTools(Scope{User: "bob"}))
	assert.NotContains(t, bob, "private-peek")
}

func TestDispatcher_ListTools_VisibilityAndOverride(t *testing.T) {
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	hidden := false
	def := config.UpstreamDefinition{
		Name: "time",
		Kind: config.UpstreamKindStdio, Command: "echo",
		Tools: map[string]config.EntryVisibility{
			"sleep": {Enabled: &hidden},
			"now":   {DescriptionOverride: "Tells the time"},
		},
	}
	injectUpstream(r, def, &mockUpstreamClient{}, []mcp.Tool{
		{Name: "time-now", Description: "original"},
		{Name: "time-sleep", Description: "original"},
	}, nil)

	d := NewDispatcher(r, store, nil)
	tools := d.ListTools(Scope{})
	require.Len(t, tools, 1)
	assert.Equal(t, "time-now", tools[0].Name)
	assert.Equal(t, "Tells the time", tools[0].Description)
}

func TestDispatcher_ListTools_SkipsUnavailableUpstreams(t *testing.T) {
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	disabled := false
	injectUpstream(r, config.UpstreamDefinition{Name: "off", Kind: config.UpstreamKindStdio, Command: "echo", Enabled: &disabled},
		&mockUpstreamClient{}, []mcp.Tool{{Name: "off-x"}}, nil)

	// Catalog cached but neither connected nor on-demand.
	injectUpstream(r, config.UpstreamDefinition{Name: "cold", Kind: config.UpstreamKindStreamableHTTP, URL: "http://127.0.0.1:1/mcp"},
		nil, []mcp.Tool{{Name: "cold-x"}}, nil)

	d := NewDispatcher(r, store, nil)
	assert.Empty(t, d.ListTools(Scope{}))
}

func TestDispatcher_ListPrompts(t *testing.T) {
	d, _, _ := catalogFixture(t)

	prompts := d.ListPrompts(Scope{})
	require.Len(t, prompts, 1)
	assert.Equal(t, "time-brief", prompts[0].Name)

	assert.Nil(t, d.ListPrompts(Scope{Group: SmartGroup}))
}

func TestDispatcher_SortedMembersEnabledFirst(t *testing.T) {
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	disabled := false
	injectUpstream(r, config.UpstreamDefinition{Name: "alpha", Kind: config.UpstreamKindStdio, Command: "echo", Enabled: &disabled},
		&mockUpstreamClient{}, nil, nil)
	injectUpstream(r, config.UpstreamDefinition{Name: "beta", Kind: config.UpstreamKindStdio, Command: "echo"},
		&mockUpstreamClient{}, nil, nil)

	d := NewDispatcher(r, store, nil)
	ms := d.sortedMembers(Scope{})
	require.Len(t, ms, 2)
	assert.Equal(t, "beta", ms[0].up.Name())
	assert.Equal(t, "alpha", ms[1].up.Name())
}

func TestDispatcher_CallTool_RoutesToUpstream(t *testing.T) {
	d, _, clients := catalogFixture(t)
	clients["time"].callResult = mcp.NewToolResultText("14:05")

	result, err := d.CallTool(context.Background(), Scope{}, "time-now", map[string]interface{}{"tz": "UTC"})
	require.NoError(t, err)
	assert.Equal(t, "14:05", asText(t, result))

	calls := clients["time"].Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "now", calls[0].Name)
	assert.Equal(t, "UTC", calls[0].Args["tz"])
}

func TestDispatcher_CallTool_UnknownTool(t *testing.T) {
	d, _, _ := catalogFixture(t)

	_, err := d.CallTool(context.Background(), Scope{}, "nosuch-tool", nil)
	assert.ErrorContains(t, err, "not found")
}

func TestDispatcher_CallTool_DeniedOutsideScope(t *testing.T) {
	d, _, clients := catalogFixture(t)

	// sleep is filtered out of the ops group.
	_, err := d.CallTool(context.Background(), Scope{Group: "ops"}, "time-sleep", nil)
	assert.ErrorContains(t, err, "not available in this scope")
	assert.Empty(t, clients["time"].Calls())

	// private is owned by alice; other identities cannot call it.
	_, err = d.CallTool(context.Background(), Scope{}, "private-peek", nil)
	assert.ErrorContains(t, err, "not available in this scope")

	_, err = d.CallTool(context.Background(), Scope{User: "alice"}, "private-peek", nil)
	assert.NoError(t, err)
}

func TestDispatcher_CallTool_DisabledByVisibility(t *testing.T) {
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	hidden := false
	def := config.UpstreamDefinition{
		Name: "time", Kind: config.UpstreamKindStdio, Command: "echo",
		Tools: map[string]config.EntryVisibility{"sleep": {Enabled: &hidden}},
	}
	client := &mockUpstreamClient{}
	injectUpstream(r, def, client, []mcp.Tool{{Name: "time-sleep"}}, nil)

	d := NewDispatcher(r, store, nil)
	_, err := d.CallTool(context.Background(), Scope{}, "time-sleep", nil)
	assert.ErrorContains(t, err, "not available")
	assert.Empty(t, client.Calls())
}

func TestDispatcher_CallTool_NotConnected(t *testing.T) {
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	injectUpstream(r, config.UpstreamDefinition{Name: "cold", Kind: config.UpstreamKindStreamableHTTP, URL: "http://127.0.0.1:1/mcp"},
		nil, []mcp.Tool{{Name: "cold-x"}}, nil)

	d := NewDispatcher(r, store, nil)
	_, err := d.CallTool(context.Background(), Scope{}, "cold-x", nil)
	assert.ErrorContains(t, err, "not connected")
}

func TestDispatcher_RetriesOnceOnStaleSession(t *testing.T) {
	url := startFakeUpstream(t, map[string]string{"now": "14:05"}, nil)
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	stale := &mockUpstreamClient{
		callErr: fmt.Errorf("failed to call tool: %w",
			errors.New("Error POSTing to endpoint (HTTP 401): session expired")),
	}
	def := config.UpstreamDefinition{Name: "time", Kind: config.UpstreamKindStreamableHTTP, URL: url}
	injectUpstream(r, def, stale, []mcp.Tool{{Name: "time-now"}}, nil)

	d := NewDispatcher(r, store, nil)
	result, err := d.CallTool(context.Background(), Scope{}, "time-now", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "14:05", asText(t, result))

	// The stale client saw exactly one attempt and was replaced.
	assert.Len(t, stale.Calls(), 1)
	assert.True(t, stale.Closed())
	up, _ := r.Get("time")
	assert.True(t, up.IsConnected())
}

func TestDispatcher_RetryKeepsOriginalErrorWhenReconnectFails(t *testing.T) {
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	stale := &mockUpstreamClient{
		callErr: errors.New("Error POSTing to endpoint (HTTP 404): session terminated"),
	}
	def := config.UpstreamDefinition{Name: "time", Kind: config.UpstreamKindStreamableHTTP, URL: "http://127.0.0.1:1/mcp"}
	injectUpstream(r, def, stale, []mcp.Tool{{Name: "time-now"}}, nil)

	d := NewDispatcher(r, store, nil)
	_, err := d.CallTool(context.Background(), Scope{}, "time-now", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "Error POSTing to endpoint (HTTP 404")
}

func TestDispatcher_DoesNotRetryOtherErrors(t *testing.T) {
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	failing := &mockUpstreamClient{callErr: errors.New("boom")}
	injectUpstream(r, config.UpstreamDefinition{Name: "time", Kind: config.UpstreamKindStdio, Command: "echo"},
		failing, []mcp.Tool{{Name: "time-now"}}, nil)

	d := NewDispatcher(r, store, nil)
	_, err := d.CallTool(context.Background(), Scope{}, "time-now", nil)
	assert.ErrorContains(t, err, "boom")
	assert.False(t, failing.Closed())
	assert.Len(t, failing.Calls(), 1)
}

func TestIsRetryableCallError(t *testing.T) {
	base := errors.New("Error POSTing to endpoint (HTTP 401): unauthorized")
	assert.True(t, isRetryableCallError(base))
	assert.True(t, isRetryableCallError(fmt.Errorf("failed to call tool: %w", base)))
	assert.True(t, isRetryableCallError(fmt.Errorf("outer: %w", fmt.Errorf("failed to call tool: %w", base))))

	assert.False(t, isRetryableCallError(errors.New("Error POSTing to endpoint (HTTP 500): oops")))
	assert.False(t, isRetryableCallError(errors.New("connection refused")))
	assert.False(t, isRetryableCallError(nil))
}

func TestDispatcher_OnDemandConnectsPerCall(t *testing.T) {
	url := startFakeUpstream(t, map[string]string{"now": "14:05"}, nil)
	store := newHubStore(t, nil)
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	def := config.UpstreamDefinition{
		Name:           "time",
		Kind:           config.UpstreamKindStreamableHTTP,
		URL:            url,
		ConnectionMode: config.ConnectionModeOnDemand,
	}
	injectUpstream(r, def, nil,
		[]mcp.Tool{{Name: "time-now", Description: "Get the current time", InputSchema: mcp.ToolInputSchema{Type: "object"}}}, nil)

	d := NewDispatcher(r, store, nil)

	// The cached catalog is listed even though nothing is connected.
	assert.Equal(t, []string{"time-now"}, toolNames(d.ListTools(Scope{})))

	result, err := d.CallTool(context.Background(), Scope{}, "time-now", nil)
	require.NoError(t, err)
	assert.Equal(t, "14:05", asText(t, result))

	// No persistent connection is left behind.
	up, _ := r.Get("time")
	assert.Nil(t, up.Client())
	assert.Equal(t, StatusDisconnected, up.Status())
}

func TestDispatcher_SmartScope_ExposesTwoTools(t *testing.T) {
	d, _, _ := catalogFixture(t)

	tools := d.ListTools(Scope{Group: SmartGroup})
	require.Len(t, tools, 2)
	assert.Equal(t, SmartToolSearch, tools[0].Name)
	assert.Equal(t, SmartToolCall, tools[1].Name)
	assert.Contains(t, tools[0].Description, "time")
	assert.Contains(t, tools[0].Description, "weather")

	// Narrowed to a group, coverage shrinks with it.
	narrowed := d.ListTools(Scope{Group: SmartGroup + "/weather"})
	require.Len(t, narrowed, 2)
	assert.NotContains(t, narrowed[0].Description, "time")
}

func TestDispatcher_SmartCall_RoutesByCatalogName(t *testing.T) {
	d, _, clients := catalogFixture(t)
	clients["time"].callResult = mcp.NewToolResultText("14:05")

	result, err := d.CallTool(context.Background(), Scope{Group: SmartGroup}, SmartToolCall, map[string]interface{}{
		"toolName":  "time-now",
		"arguments": map[string]interface{}{"tz": "UTC"},
	})
	require.NoError(t, err)
	assert.Equal(t, "14:05", asText(t, result))

	calls := clients["time"].Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "now", calls[0].Name)
	assert.Equal(t, "UTC", calls[0].Args["tz"])
}

func TestDispatcher_SmartCall_MissingToolName(t *testing.T) {
	d, _, _ := catalogFixture(t)

	result, err := d.CallTool(context.Background(), Scope{Group: SmartGroup}, SmartToolCall, map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, asText(t, result), "toolName is required")
}

func TestDispatcher_SmartCall_UnknownTool(t *testing.T) {
	d, _, _ := catalogFixture(t)

	_, err := d.CallTool(context.Background(), Scope{Group: SmartGroup}, SmartToolCall, map[string]interface{}{
		"toolName": "nosuch-tool",
	})
	assert.ErrorContains(t, err, "not found")
}

func TestDispatcher_SmartCall_HonorsSubgroupFilter(t *testing.T) {
	d, _, clients := catalogFixture(t)

	// ops filters time to its now tool; sleep stays unreachable through it.
	_, err := d.CallTool(context.Background(), Scope{Group: SmartGroup + "/ops"}, SmartToolCall, map[string]interface{}{
		"toolName": "time-sleep",
	})
	assert.ErrorContains(t, err, "not found")
	assert.Empty(t, clients["time"].Calls())

	_, err = d.CallTool(context.Background(), Scope{Group: SmartGroup + "/ops"}, SmartToolCall, map[string]interface{}{
		"toolName": "time-now",
	})
	assert.NoError(t, err)
}

type searchPayload struct {
	Tools []struct {
		Server      string  `json:"server"`
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Score       float64 `json:"score"`
	} `json:"tools"`
	Metadata struct {
		Query        string   `json:"query"`
		Threshold    float64  `json:"threshold"`
		TotalResults int      `json:"totalResults"`
		Guideline    string   `json:"guideline"`
		NextSteps    []string `json:"nextSteps"`
	} `json:"metadata"`
}

func decodeSearch(t *testing.T, result *mcp.CallToolResult) searchPayload {
	t.Helper()
	var payload searchPayload
	require.NoError(t, json.Unmarshal([]byte(asText(t, result)), &payload))
	return payload
}

func TestDispatcher_SearchTools(t *testing.T) {
	d, _, _ := catalogFixture(t)

	result, err := d.CallTool(context.Background(), Scope{Group: SmartGroup}, SmartToolSearch, map[string]interface{}{
		"query": "current time",
		"limit": float64(3),
	})
	require.NoError(t, err)

	payload := decodeSearch(t, result)
	require.NotEmpty(t, payload.Tools)
	assert.Equal(t, "time-now", payload.Tools[0].Name)
	assert.Equal(t, "time", payload.Tools[0].Server)
	assert.Greater(t, payload.Tools[0].Score, 0.0)

	assert.Equal(t, "current time", payload.Metadata.Query)
	assert.Equal(t, thresholdBroad, payload.Metadata.Threshold)
	assert.Equal(t, len(payload.Tools), payload.Metadata.TotalResults)
	assert.Contains(t, payload.Metadata.Guideline, "call_tool")
	require.Len(t, payload.Metadata.NextSteps, 2)
}

func TestDispatcher_SearchTools_EmptyQuery(t *testing.T) {
	d, _, _ := catalogFixture(t)

	result, err := d.SearchTools(context.Background(), Scope{Group: SmartGroup}, "   ", 5)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDispatcher_SearchTools_ScopeFiltering(t *testing.T) {
	d, _, _ := catalogFixture(t)

	// Inside the ops group the filtered sleep tool never surfaces.
	result, err := d.SearchTools(context.Background(), Scope{Group: SmartGroup + "/ops"}, "sleep duration", 5)
	require.NoError(t, err)
	payload := decodeSearch(t, result)
	for _, tool := range payload.Tools {
		assert.NotEqual(t, "time-sleep", tool.Name)
	}

	// An unknown subgroup has no servers at all.
	result, err = d.SearchTools(context.Background(), Scope{Group: SmartGroup + "/nope"}, "time", 5)
	require.NoError(t, err)
	payload = decodeSearch(t, result)
	assert.Empty(t, payload.Tools)
	assert.Contains(t, payload.Metadata.Guideline, "No servers are available")
}

func TestDispatcher_SearchTools_NoMatches(t *testing.T) {
	d, _, _ := catalogFixture(t)

	result, err := d.SearchTools(context.Background(), Scope{}, "quantum chromodynamics", 5)
	require.NoError(t, err)
	payload := decodeSearch(t, result)
	assert.Empty(t, payload.Tools)
	assert.Contains(t, payload.Metadata.Guideline, "Try broader")
}

func TestDispatcher_GetPrompt(t *testing.T) {
	d, _, _ := catalogFixture(t)

	result, err := d.GetPrompt(context.Background(), Scope{}, "time-brief", nil)
	require.NoError(t, err)
	assert.Equal(t, "brief", result.Description)

	_, err = d.GetPrompt(context.Background(), Scope{}, "nosuch-prompt", nil)
	assert.ErrorContains(t, err, "not found")

	_, err = d.GetPrompt(context.Background(), Scope{Group: "weather"}, "time-brief", nil)
	assert.ErrorContains(t, err, "not available in this scope")
}

func TestIntArg(t *testing.T) {
	assert.Equal(t, 3, intArg(map[string]interface{}{"limit": float64(3)}, "limit"))
	assert.Equal(t, 4, intArg(map[string]interface{}{"limit": 4}, "limit"))
	assert.Equal(t, 5, intArg(map[string]interface{}{"limit": json.Number("5")}, "limit"))
	assert.Equal(t, 0, intArg(map[string]interface{}{"limit": "six"}, "limit"))
	assert.Equal(t, 0, intArg(nil, "limit"))
}
