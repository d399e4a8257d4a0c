package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcphub/internal/config"
)

// MemoryCoordinator is the single-node coordinator. It keeps membership and
// session ownership in process memory, so the only node it ever knows about
// is itself.
type MemoryCoordinator struct {
	nodeID  string
	baseURL string

	mu         sync.RWMutex
	servers    []ServerStatus
	sessions   map[string]*SessionRecord
	sessionTTL time.Duration
	started    time.Time
}

var _ Coordinator = (*MemoryCoordinator)(nil)

// NewMemoryCoordinator creates an in-process coordinator for nodeID.
func NewMemoryCoordinator(nodeID, baseURL string) *MemoryCoordinator {
	return &MemoryCoordinator{
		nodeID:   nodeID,
		baseURL:  baseURL,
		sessions: make(map[string]*SessionRecord),
	}
}

func (c *MemoryCoordinator) Initialize(_ context.Context, cfg config.ClusterConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionTTL = cfg.GetSessionTTL()
	c.started = time.Now().UTC()
	return nil
}

func (c *MemoryCoordinator) Shutdown(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]*SessionRecord)
	return nil
}

func (c *MemoryCoordinator) RegisterLocalServers(servers []ServerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = append([]ServerStatus(nil), servers...)
}

func (c *MemoryCoordinator) RecordSession(_ context.Context, sessionID string, meta SessionMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := c.sessions[sessionID]; ok {
		existing.Group = meta.Group
		existing.User = meta.User
		existing.UpdatedAt = now
		return nil
	}
	c.sessions[sessionID] = &SessionRecord{
		SessionID: sessionID,
		NodeID:    c.nodeID,
		Group:     meta.Group,
		User:      meta.User,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (c *MemoryCoordinator) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.sessions[sessionID]
	if ok && c.sessionTTL > 0 && time.Since(record.UpdatedAt) > c.sessionTTL {
		delete(c.sessions, sessionID)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	copied := *record
	return &copied, nil
}

func (c *MemoryCoordinator) ClearSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}

func (c *MemoryCoordinator) GetActiveNodes(_ context.Context) ([]NodeState, error) {
	return []NodeState{c.selfState()}, nil
}

func (c *MemoryCoordinator) GetNode(_ context.Context, nodeID string) (*NodeState, error) {
	if nodeID != c.nodeID {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	state := c.selfState()
	return &state, nil
}

func (c *MemoryCoordinator) GetNodeBaseURL(ctx context.Context, nodeID string) (string, error) {
	node, err := c.GetNode(ctx, nodeID)
	if err != nil {
		return "", err
	}
	return node.BaseURL, nil
}

func (c *MemoryCoordinator) NodeID() string {
	return c.nodeID
}

func (c *MemoryCoordinator) selfState() NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return NodeState{
		NodeID:        c.nodeID,
		BaseURL:       c.baseURL,
		Servers:       append([]ServerStatus(nil), c.servers...),
		LastHeartbeat: time.Now().UTC(),
	}
}
