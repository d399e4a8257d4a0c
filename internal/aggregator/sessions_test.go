package aggregator

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/cluster"
	"mcphub/internal/config"
)

func sessionFixture(t *testing.T, coordinator cluster.Coordinator) (*SessionTable, *UpstreamRegistry) {
	t.Helper()
	store := newHubStore(t, map[string]string{
		"upstreams/time.yaml": "kind: streamable-http\nurl: http://127.0.0.1:1/mcp\n",
	})
	r := NewUpstreamRegistry(store, nil)
	t.Cleanup(r.Close)

	def, ok := store.Upstream("time")
	require.True(t, ok)
	injectUpstream(r, def, &mockUpstreamClient{},
		[]mcp.Tool{{Name: "time-now", Description: "Get the current time", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		[]mcp.Prompt{{Name: "time-brief", Description: "Summarize the day"}})

	table := NewSessionTable(NewDispatcher(r, store, nil), store, coordinator, "mcphub", "test")
	return table, r
}

func sessionToolNames(sess *DownstreamSession) map[string]string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make(map[string]string, len(sess.tools))
	for name, desc := range sess.tools {
		out[name] = desc
	}
	return out
}

func TestSessionTable_ProjectsScopeCatalog(t *testing.T) {
	table, _ := sessionFixture(t, nil)

	sess := table.newSession(Scope{}, config.TransportStreamableHTTP)
	tools := sessionToolNames(sess)
	require.Len(t, tools, 1)
	assert.Contains(t, tools, "time-now")

	sess.mu.Lock()
	prompts := len(sess.prompts)
	sess.mu.Unlock()
	assert.Equal(t, 1, prompts)
}

func TestSessionTable_ProjectsSmartScope(t *testing.T) {
	table, _ := sessionFixture(t, nil)

	sess := table.newSession(Scope{Group: SmartGroup}, config.TransportStreamableHTTP)
	tools := sessionToolNames(sess)
	require.Len(t, tools, 2)
	assert.Contains(t, tools, SmartToolSearch)
	assert.Contains(t, tools, SmartToolCall)

	sess.mu.Lock()
	prompts := len(sess.prompts)
	sess.mu.Unlock()
	assert.Zero(t, prompts)
}

func TestSessionTable_SyncAllFollowsRegistry(t *testing.T) {
	table, r := sessionFixture(t, nil)

	sess := table.newSession(Scope{}, config.TransportStreamableHTTP)
	table.bind("s1", sess)

	// A new upstream appears in every affected session.
	injectUpstream(r, config.UpstreamDefinition{Name: "weather", Kind: config.UpstreamKindStdio, Command: "echo"},
		&mockUpstreamClient{}, []mcp.Tool{{Name: "weather-report", Description: "Fetch a report"}}, nil)
	table.SyncAll()
	tools := sessionToolNames(sess)
	assert.Contains(t, tools, "time-now")
	assert.Contains(t, tools, "weather-report")

	// Description changes propagate.
	injectUpstream(r, config.UpstreamDefinition{Name: "weather", Kind: config.UpstreamKindStdio, Command: "echo"},
		&mockUpstreamClient{}, []mcp.Tool{{Name: "weather-report", Description: "Fetch a detailed report"}}, nil)
	table.SyncAll()
	assert.Equal(t, "Fetch a detailed report", sessionToolNames(sess)["weather-report"])

	// Removals disappear.
	require.NoError(t, r.Deregister("time"))
	table.SyncAll()
	tools = sessionToolNames(sess)
	assert.NotContains(t, tools, "time-now")
	assert.Contains(t, tools, "weather-report")
}

func TestSessionTable_BindPublishesToCluster(t *testing.T) {
	coordinator := cluster.NewMemoryCoordinator("node-a", "http://a.internal:8090")
	require.NoError(t, coordinator.Initialize(context.Background(), config.ClusterConfig{}))
	table, _ := sessionFixture(t, coordinator)

	sess := table.newSession(Scope{Group: "ops", User: "alice"}, config.TransportSSE)
	table.bind("s1", sess)

	assert.Equal(t, 1, table.Count())
	got, ok := table.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID())
	assert.Equal(t, "ops", got.Scope().Group)
	assert.Equal(t, config.TransportSSE, got.Transport())

	record, err := coordinator.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", record.NodeID)
	assert.Equal(t, "ops", record.Group)
	assert.Equal(t, "alice", record.User)

	table.unbind("s1")
	_, ok = table.Lookup("s1")
	assert.False(t, ok)
	_, err = coordinator.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, cluster.ErrSessionNotFound)

	// Unknown ids unbind quietly.
	table.unbind("never-bound")
}

func TestSessionTable_CloseAll(t *testing.T) {
	coordinator := cluster.NewMemoryCoordinator("node-a", "http://a.internal:8090")
	require.NoError(t, coordinator.Initialize(context.Background(), config.ClusterConfig{}))
	table, _ := sessionFixture(t, coordinator)

	table.bind("s1", table.newSession(Scope{}, config.TransportSSE))
	table.bind("s2", table.newSession(Scope{Group: "ops"}, config.TransportStreamableHTTP))
	require.Equal(t, 2, table.Count())

	table.CloseAll()
	assert.Zero(t, table.Count())
	_, err := coordinator.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, cluster.ErrSessionNotFound)
	_, err = coordinator.GetSession(context.Background(), "s2")
	assert.ErrorIs(t, err, cluster.ErrSessionNotFound)
}

func TestBoundSessionID(t *testing.T) {
	table, _ := sessionFixture(t, nil)
	sess := table.newSession(Scope{}, config.TransportStreamableHTTP)
	sess.id = "fixed-id"
	table.bind(sess.id, sess)

	b := &boundSessionID{sess: sess, table: table}
	assert.Equal(t, "fixed-id", b.Generate())

	terminated, err := b.Validate("fixed-id")
	require.NoError(t, err)
	assert.False(t, terminated)

	_, err = b.Validate("other-id")
	assert.Error(t, err)
	_, err = b.Terminate("other-id")
	assert.Error(t, err)

	notAllowed, err := b.Terminate("fixed-id")
	require.NoError(t, err)
	assert.False(t, notAllowed)

	_, ok := table.Lookup("fixed-id")
	assert.False(t, ok)

	terminated, err = b.Validate("fixed-id")
	require.NoError(t, err)
	assert.True(t, terminated)
}

func TestMessagePath(t *testing.T) {
	assert.Equal(t, "/messages", messagePath("", Scope{}))
	assert.Equal(t, "/messages", messagePath("", Scope{Group: "ops"}))
	assert.Equal(t, "/hub/messages", messagePath("/hub", Scope{Group: "ops"}))
	assert.Equal(t, "/hub/alice/messages", messagePath("/hub", Scope{User: "alice"}))
}
