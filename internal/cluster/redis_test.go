package cluster

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/config"
)

func newTestRedisCoordinator(t *testing.T, mr *miniredis.Miniredis, nodeID string, cfg config.ClusterConfig) *RedisCoordinator {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCoordinatorWithClient(client, "testhub", nodeID, "http://"+nodeID+":8090")
	require.NoError(t, c.Initialize(context.Background(), cfg))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestRedisCoordinator_InitializePublishesNode(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	node, err := c.GetNode(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", node.NodeID)
	assert.Equal(t, "http://node-1:8090", node.BaseURL)
	assert.WithinDuration(t, time.Now(), node.LastHeartbeat, 5*time.Second)

	raw := mr.HGet("testhub:nodes", "node-1")
	require.NotEmpty(t, raw)
	var stored NodeState
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "node-1", stored.NodeID)
}

func TestRedisCoordinator_InitializeDialsConfiguredAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c := NewRedisCoordinator("node-1", "http://node-1:8090")
	cfg := config.ClusterConfig{Redis: config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "dialed"}}
	require.NoError(t, c.Initialize(ctx, cfg))
	defer func() { require.NoError(t, c.Shutdown(ctx)) }()

	node, err := c.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "http://node-1:8090", node.BaseURL)
	assert.NotEmpty(t, mr.HGet("dialed:nodes", "node-1"))
}

func TestRedisCoordinator_InitializeFailsWhenUnreachable(t *testing.T) {
	c := NewRedisCoordinator("node-1", "http://node-1:8090")
	cfg := config.ClusterConfig{Redis: config.RedisConfig{Addr: "127.0.0.1:1"}}

	err := c.Initialize(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisCoordinator_SessionRoundtrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	require.NoError(t, c.RecordSession(ctx, "sess-1", SessionMeta{Group: "dev", User: "alice"}))
	assert.True(t, mr.Exists("testhub:session:sess-1"))

	record, err := c.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", record.SessionID)
	assert.Equal(t, "node-1", record.NodeID)
	assert.Equal(t, "dev", record.Group)
	assert.Equal(t, "alice", record.User)
}

func TestRedisCoordinator_GetSessionUnknown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	_, err := c.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisCoordinator_SessionTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{SessionTTL: "1h"})

	require.NoError(t, c.RecordSession(ctx, "sess-1", SessionMeta{}))
	assert.Equal(t, time.Hour, mr.TTL("testhub:session:sess-1"))

	mr.FastForward(2 * time.Hour)

	_, err := c.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisCoordinator_SessionWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{SessionTTL: "0s"})

	require.NoError(t, c.RecordSession(ctx, "sess-1", SessionMeta{}))
	assert.Equal(t, time.Duration(0), mr.TTL("testhub:session:sess-1"))
}

func TestRedisCoordinator_RecordSessionPreservesCreatedAt(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	require.NoError(t, c.RecordSession(ctx, "sess-1", SessionMeta{Group: "dev"}))
	first, err := c.GetSession(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, c.RecordSession(ctx, "sess-1", SessionMeta{Group: "prod"}))
	second, err := c.GetSession(ctx, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "prod", second.Group)
}

func TestRedisCoordinator_ClearSession(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	require.NoError(t, c.RecordSession(ctx, "sess-1", SessionMeta{}))
	require.NoError(t, c.ClearSession(ctx, "sess-1"))
	assert.False(t, mr.Exists("testhub:session:sess-1"))

	// Clearing an unknown session is not an error.
	require.NoError(t, c.ClearSession(ctx, "sess-1"))
}

func TestRedisCoordinator_GetActiveNodesFiltersStale(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	fresh := NodeState{NodeID: "node-2", BaseURL: "http://node-2:8090", LastHeartbeat: time.Now().UTC()}
	stale := NodeState{NodeID: "node-3", BaseURL: "http://node-3:8090", LastHeartbeat: time.Now().UTC().Add(-2 * time.Minute)}
	for _, node := range []NodeState{fresh, stale} {
		data, err := json.Marshal(node)
		require.NoError(t, err)
		mr.HSet("testhub:nodes", node.NodeID, string(data))
	}

	nodes, err := c.GetActiveNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "node-1", nodes[0].NodeID)
	assert.Equal(t, "node-2", nodes[1].NodeID)
}

func TestRedisCoordinator_GetActiveNodesSkipsCorrupted(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})
	mr.HSet("testhub:nodes", "node-2", "not json")

	nodes, err := c.GetActiveNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-1", nodes[0].NodeID)
}

func TestRedisCoordinator_RegisterLocalServersPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	c.RegisterLocalServers([]ServerStatus{
		{Name: "github", Status: "connected"},
		{Name: "jira", Status: "oauth_required"},
	})

	node, err := c.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, []ServerStatus{
		{Name: "github", Status: "connected"},
		{Name: "jira", Status: "oauth_required"},
	}, node.Servers)
}

func TestRedisCoordinator_GetNodeUnknown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{})

	_, err := c.GetNode(context.Background(), "node-9")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = c.GetNodeBaseURL(context.Background(), "node-9")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRedisCoordinator_HeartbeatRefreshes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := newTestRedisCoordinator(t, mr, "node-1", config.ClusterConfig{HeartbeatInterval: "20ms"})

	first, err := c.GetNode(ctx, "node-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		node, err := c.GetNode(ctx, "node-1")
		return err == nil && node.LastHeartbeat.After(first.LastHeartbeat)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisCoordinator_ShutdownDeregisters(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	c := NewRedisCoordinatorWithClient(client, "testhub", "node-1", "http://node-1:8090")
	require.NoError(t, c.Initialize(ctx, config.ClusterConfig{}))
	require.NoError(t, c.Shutdown(ctx))

	assert.Empty(t, mr.HGet("testhub:nodes", "node-1"))

	// A second shutdown is harmless.
	require.NoError(t, c.Shutdown(ctx))
}
