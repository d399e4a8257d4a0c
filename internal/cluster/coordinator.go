package cluster

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"mcphub/internal/config"
)

// Coordinator type names accepted in configuration.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// Coordinator tracks cluster membership and session ownership. A single-node
// deployment runs the memory coordinator; multi-node deployments share state
// through redis so any node can route a request to the session's owner.
type Coordinator interface {
	// Initialize joins the cluster and starts background upkeep such as
	// heartbeats. It must be called before any other method.
	Initialize(ctx context.Context, cfg config.ClusterConfig) error

	// Shutdown leaves the cluster and stops background upkeep.
	Shutdown(ctx context.Context) error

	// RegisterLocalServers publishes this node's upstream statuses with its
	// membership record. Safe to call on every status change.
	RegisterLocalServers(servers []ServerStatus)

	// RecordSession marks this node as the owner of the given session.
	RecordSession(ctx context.Context, sessionID string, meta SessionMeta) error

	// GetSession resolves a session to its owning node. Returns a
	// ErrSessionNotFound wrapped error when no node owns it.
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)

	// ClearSession removes a session record. Clearing an unknown session is
	// not an error.
	ClearSession(ctx context.Context, sessionID string) error

	// GetActiveNodes lists the nodes whose heartbeat is fresh.
	GetActiveNodes(ctx context.Context) ([]NodeState, error)

	// GetNode fetches a single node's membership record. Returns a
	// ErrNodeNotFound wrapped error when the node is unknown.
	GetNode(ctx context.Context, nodeID string) (*NodeState, error)

	// GetNodeBaseURL resolves a node id to the base URL requests for its
	// sessions are forwarded to.
	GetNodeBaseURL(ctx context.Context, nodeID string) (string, error)

	// NodeID returns this node's stable identifier.
	NodeID() string
}

// New creates the coordinator selected by cfg.Type. An empty nodeID is
// replaced with a freshly minted one.
func New(cfg *config.ClusterConfig, nodeID, baseURL string) (Coordinator, error) {
	if nodeID == "" {
		nodeID = NewNodeID()
	}
	coordinatorType := TypeMemory
	if cfg != nil && cfg.Type != "" {
		coordinatorType = cfg.Type
	}
	switch coordinatorType {
	case TypeMemory:
		return NewMemoryCoordinator(nodeID, baseURL), nil
	case TypeRedis:
		return NewRedisCoordinator(nodeID, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported cluster coordinator type: %s", coordinatorType)
	}
}

// NewNodeID mints a unique node identifier.
func NewNodeID() string {
	return uuid.NewString()
}
