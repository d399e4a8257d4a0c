// Package mcpserver provides the client-side transport adapters the hub uses
// to talk to upstream MCP servers.
//
// # Overview
//
// Every upstream, regardless of transport, is driven through the MCPClient
// interface: initialize, list tools and prompts, call tools, fetch prompts,
// ping. The registry in internal/aggregator owns client lifecycles; this
// package only knows how to speak the protocol over a particular transport.
//
// # Transport Kinds
//
// ## stdio
//   - Spawns the configured command as a local subprocess
//   - Appends the per-upstream tool directories and package caches derived
//     from the hub data root to the environment (DeriveSubprocessEnv)
//   - Streams subprocess stderr into the hub log
//
// ## sse
//   - Server-Sent Events stream plus a POST message endpoint
//   - Static headers from the upstream definition, plus a bearer token read
//     from an attached token store at connect time
//
// ## streamable-http
//   - Single streaming HTTP endpoint
//   - Optional custom http.Client and OAuth token store; with OAuth attached
//     the transport injects and refreshes tokens per request
//
// ## openapi
//   - No MCP server at all: an OpenAPI 3 document is translated into
//     synthetic tools and CallTool issues the matching HTTP operation
//   - Configured passthrough headers are copied from the ambient downstream
//     request (WithRequestHeaders) onto the outbound call
//
// # Authentication
//
// Remote transports surface 401 responses as *AuthRequiredError via
// CheckForAuthRequiredError so the registry can park the upstream in the
// oauth_required state and hand the challenge to the OAuth provider instead
// of treating it as a connection failure.
package mcpserver
