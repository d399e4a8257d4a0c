package cluster

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no node owns the given session.
var ErrSessionNotFound = errors.New("session not found")

// ErrNodeNotFound is returned when the given node is not a cluster member.
var ErrNodeNotFound = errors.New("node not found")

// ServerStatus is the per-upstream status snapshot published with a node's
// membership record. Other nodes use it for cluster-wide health views.
type ServerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// NodeState is one hub node's membership record.
type NodeState struct {
	NodeID        string            `json:"nodeId"`
	BaseURL       string            `json:"baseUrl"`
	Servers       []ServerStatus    `json:"servers,omitempty"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IsActive reports whether the node heartbeated within offlineAfter of now.
func (n *NodeState) IsActive(now time.Time, offlineAfter time.Duration) bool {
	return now.Sub(n.LastHeartbeat) <= offlineAfter
}

// SessionRecord binds a downstream session to the node that owns it. Requests
// for a session owned by another node are proxied there.
type SessionRecord struct {
	SessionID string    `json:"sessionId"`
	NodeID    string    `json:"nodeId"`
	Group     string    `json:"group,omitempty"`
	User      string    `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionMeta carries the routing scope recorded with a session.
type SessionMeta struct {
	Group string
	User  string
}
