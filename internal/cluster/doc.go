// Package cluster coordinates multiple hub nodes serving one fleet.
//
// A coordinator tracks two things: which nodes are alive and which node owns
// each downstream session. SSE transports pin a session to the node that
// accepted it, so when a load balancer delivers a follow-up message POST to a
// different node, that node looks the session up and forwards the request to
// its owner with Proxy.
//
// # Adapters
//
// The memory coordinator backs single-node deployments. It never sees other
// nodes and keeps session records in process memory.
//
// The redis coordinator backs multi-node deployments. Nodes publish their
// membership record, including per-upstream statuses, into a shared hash and
// refresh it on a heartbeat ticker. A node whose heartbeat goes stale drops
// out of the active set without explicit deregistration. Session records are
// plain keys with an optional TTL so records of sessions that never closed
// cleanly age out.
//
// Tool list change notifications stay node-local. Each node maintains its own
// upstream connections and notifies only the sessions it owns.
package cluster
