package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
)

const (
	defaultKeyPrefix = "mcphub"
	defaultRedisAddr = "localhost:6379"

	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second

	// heartbeatTimeout bounds a single heartbeat write so a stalled redis
	// cannot wedge the loop.
	heartbeatTimeout = 5 * time.Second
)

// RedisCoordinator shares membership and session ownership through redis.
// Nodes live in the hash <prefix>:nodes keyed by node id, sessions at
// <prefix>:session:<id> with an optional TTL. Every node refreshes its own
// hash entry on a heartbeat ticker; peers whose heartbeat went stale are
// filtered out of GetActiveNodes.
type RedisCoordinator struct {
	client     redis.UniversalClient
	keyPrefix  string
	nodeID     string
	baseURL    string
	ownsClient bool

	mu      sync.RWMutex
	servers []ServerStatus

	heartbeatInterval time.Duration
	offlineAfter      time.Duration
	sessionTTL        time.Duration

	stop chan struct{}
	done chan struct{}
}

var _ Coordinator = (*RedisCoordinator)(nil)

// NewRedisCoordinator creates a coordinator that dials redis during
// Initialize using the configured connection settings.
func NewRedisCoordinator(nodeID, baseURL string) *RedisCoordinator {
	return &RedisCoordinator{
		nodeID:  nodeID,
		baseURL: baseURL,
	}
}

// NewRedisCoordinatorWithClient creates a coordinator on an existing client.
// Used in tests with miniredis.
func NewRedisCoordinatorWithClient(client redis.UniversalClient, keyPrefix, nodeID, baseURL string) *RedisCoordinator {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisCoordinator{
		client:    client,
		keyPrefix: keyPrefix,
		nodeID:    nodeID,
		baseURL:   baseURL,
	}
}

func (c *RedisCoordinator) Initialize(ctx context.Context, cfg config.ClusterConfig) error {
	c.heartbeatInterval = cfg.GetHeartbeatInterval()
	c.offlineAfter = cfg.GetOfflineAfter()
	c.sessionTTL = cfg.GetSessionTTL()
	if c.keyPrefix == "" {
		c.keyPrefix = cfg.Redis.KeyPrefix
	}
	if c.keyPrefix == "" {
		c.keyPrefix = defaultKeyPrefix
	}

	if c.client == nil {
		addr := cfg.Redis.Addr
		if addr == "" {
			addr = defaultRedisAddr
		}
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  redisDialTimeout,
			ReadTimeout:  redisReadTimeout,
			WriteTimeout: redisWriteTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
		}
		c.client = client
		c.ownsClient = true
	}

	if err := c.publishSelf(ctx); err != nil {
		return fmt.Errorf("failed to register node %s: %w", c.nodeID, err)
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.heartbeatLoop()

	logging.Info("Cluster", "Node %s joined the cluster", c.nodeID)
	return nil
}

func (c *RedisCoordinator) Shutdown(ctx context.Context) error {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
	if c.client == nil {
		return nil
	}
	if err := c.client.HDel(ctx, c.nodesKey(), c.nodeID).Err(); err != nil {
		logging.Warn("Cluster", "Failed to deregister node %s: %v", c.nodeID, err)
	}
	if c.ownsClient {
		if err := c.client.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	logging.Info("Cluster", "Node %s left the cluster", c.nodeID)
	return nil
}

func (c *RedisCoordinator) RegisterLocalServers(servers []ServerStatus) {
	c.mu.Lock()
	c.servers = append([]ServerStatus(nil), servers...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
	defer cancel()
	if err := c.publishSelf(ctx); err != nil {
		logging.Warn("Cluster", "Failed to publish server statuses for node %s: %v", c.nodeID, err)
	}
}

func (c *RedisCoordinator) RecordSession(ctx context.Context, sessionID string, meta SessionMeta) error {
	now := time.Now().UTC()
	record := SessionRecord{
		SessionID: sessionID,
		NodeID:    c.nodeID,
		Group:     meta.Group,
		User:      meta.User,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := c.GetSession(ctx, sessionID); err == nil {
		record.CreatedAt = existing.CreatedAt
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := c.client.Set(ctx, c.sessionKey(sessionID), data, c.sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", sessionID, err)
	}
	return nil
}

func (c *RedisCoordinator) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := c.client.Get(ctx, c.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

func (c *RedisCoordinator) ClearSession(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	return nil
}

func (c *RedisCoordinator) GetActiveNodes(ctx context.Context) ([]NodeState, error) {
	entries, err := c.client.HGetAll(ctx, c.nodesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	now := time.Now().UTC()
	nodes := make([]NodeState, 0, len(entries))
	for nodeID, raw := range entries {
		var node NodeState
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			logging.Warn("Cluster", "Skipping corrupted record for node %s: %v", nodeID, err)
			continue
		}
		if node.IsActive(now, c.offlineAfter) {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes, nil
}

func (c *RedisCoordinator) GetNode(ctx context.Context, nodeID string) (*NodeState, error) {
	data, err := c.client.HGet(ctx, c.nodesKey(), nodeID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", nodeID, err)
	}
	var node NodeState
	if err := json.Unmarshal([]byte(data), &node); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node record: %w", err)
	}
	return &node, nil
}

func (c *RedisCoordinator) GetNodeBaseURL(ctx context.Context, nodeID string) (string, error) {
	node, err := c.GetNode(ctx, nodeID)
	if err != nil {
		return "", err
	}
	return node.BaseURL, nil
}

func (c *RedisCoordinator) NodeID() string {
	return c.nodeID
}

// publishSelf upserts this node's membership record with a fresh heartbeat.
func (c *RedisCoordinator) publishSelf(ctx context.Context) error {
	c.mu.RLock()
	servers := append([]ServerStatus(nil), c.servers...)
	c.mu.RUnlock()
	state := NodeState{
		NodeID:        c.nodeID,
		BaseURL:       c.baseURL,
		Servers:       servers,
		LastHeartbeat: time.Now().UTC(),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal node record: %w", err)
	}
	return c.client.HSet(ctx, c.nodesKey(), c.nodeID, data).Err()
}

// heartbeatLoop refreshes this node's record until Shutdown. A failed write
// is logged and retried on the next tick.
func (c *RedisCoordinator) heartbeatLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
			err := c.publishSelf(ctx)
			cancel()
			if err != nil {
				logging.Warn("Cluster", "Heartbeat failed for node %s: %v", c.nodeID, err)
			}
		case <-c.stop:
			return
		}
	}
}

func (c *RedisCoordinator) nodesKey() string {
	return c.keyPrefix + ":nodes"
}

func (c *RedisCoordinator) sessionKey(sessionID string) string {
	return c.keyPrefix + ":session:" + sessionID
}
