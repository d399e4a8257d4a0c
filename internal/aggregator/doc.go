// Package aggregator implements the MCP hub: it aggregates many upstream MCP
// servers behind a single MCP endpoint.
//
// Downstream clients connect over SSE or streamable HTTP, bind to a routing
// scope, and see one merged catalog in which every tool and prompt name is
// prefixed with its upstream's name. Calls are routed back to the owning
// upstream; catalog changes are pushed to exactly the sessions they affect.
//
// # Architecture Overview
//
//	┌──────────────────┐   ┌──────────────────┐   ┌──────────────────┐
//	│   MCP Clients    │   │   MCP Clients    │   │  Other Hub Node  │
//	│      (SSE)       │   │ (streamable-http)│   │ (cluster proxy)  │
//	└──────────────────┘   └──────────────────┘   └──────────────────┘
//	          │                     │                      │
//	          └─────────────────────┼──────────────────────┘
//	                                │
//	                       ┌─────────────────┐
//	                       │      Edge       │  bearer / user-scope /
//	                       │  (chi router)   │  global-route policy
//	                       └─────────────────┘
//	                                │
//	                       ┌─────────────────┐
//	                       │  SessionTable   │  per-session MCP server
//	                       └─────────────────┘
//	                                │
//	                       ┌─────────────────┐
//	                       │   Dispatcher    │  scope projection, smart
//	                       └─────────────────┘  mode, retry policy
//	                                │
//	                       ┌─────────────────┐
//	                       │UpstreamRegistry │  connect, discover,
//	                       └─────────────────┘  keep-alive, OAuth state
//	                                │
//	          ┌─────────────────────┼──────────────────────┐
//	          │                     │                      │
//	┌──────────────────┐   ┌──────────────────┐   ┌──────────────────┐
//	│ stdio upstreams  │   │ remote upstreams │   │ openapi upstreams│
//	│  (subprocess)    │   │ (sse/streamable) │   │   (synthetic)    │
//	└──────────────────┘   └──────────────────┘   └──────────────────┘
//
// # Core Components
//
// UpstreamRegistry owns the runtime record of every configured upstream. It
// connects them (in parallel on startup), prefixes and caches their
// catalogs, runs SSE keep-alive pings, and reflects OAuth authorization
// state reported by the oauth package. A buffered update channel signals
// catalog changes to the hub server, which fans them out to sessions.
//
// Dispatcher is the stateless routing core. It projects the catalog a scope
// sees (global, group, single upstream, or the $smart pair), applies
// per-tool visibility and description overrides, and dispatches calls:
// persistent upstreams get one reconnect-and-retry on stale-session HTTP 40x
// failures, on-demand upstreams connect per call, and openapi upstreams
// receive passthrough headers from the downstream request context.
//
// SessionTable owns the downstream sessions. Each session carries a
// dedicated mcp-go server whose catalog is the dispatcher's projection for
// the session's {group, user} scope, so tools/list_changed notifications
// reach only the sessions whose catalog actually changed.
//
// Edge is the HTTP boundary: it mounts the transport routes under the base
// path, enforces bearer-key and user-scope policy, serves /health and the
// RFC 9728 protected-resource document, completes browser OAuth callbacks,
// and forwards requests for sessions owned by other cluster nodes.
//
// # Smart Mode
//
// A session bound to the $smart scope (optionally narrowed to a group with
// $smart/<group>) sees exactly two tools: search_tools ranks the scope's
// catalog against a natural language query, and call_tool invokes a result
// by exact name. This keeps large aggregated catalogs out of a model's
// context until it asks for them.
//
// # Scopes and Visibility
//
// A scope is resolved in order: empty means every visible upstream; a group
// name projects the group's members through their per-member tool filters; a
// name matching no group but an upstream narrows to that upstream. Upstreams
// with an owner are visible only to scopes carrying that user. On top of
// scope membership, each upstream's configuration can hide individual tools
// and prompts or override their descriptions.
package aggregator
