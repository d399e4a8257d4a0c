// Package oauth implements the OAuth 2.1 authorization-code flow for
// upstream MCP servers that answer with 401 challenges.
//
// # Flow
//
// When a connect attempt fails with an authentication challenge, the
// upstream's Provider resolves the authorization server (RFC 9728 protected
// resource metadata, then RFC 8414 discovery), registers a client when none
// is configured (RFC 7591), and builds an authorization URL with PKCE. The
// connect attempt fails with ErrAuthorizationPending and the upstream is
// reported as oauth_required together with the URL the user must visit.
//
// The browser callback lands on the hub's /oauth/callback route, which hands
// the code and state to Manager.CompleteAuthorization. The state parameter
// routes the code back to the right upstream; the provider exchanges it for
// tokens and the next connect attempt succeeds.
//
// # Persistence
//
// Per-upstream state (client credentials, tokens, endpoints, the pending
// authorization) lives at <configDir>/oauth/<upstream>.yaml, so completed
// authorizations and pending flows survive restarts.
//
// # Token usage
//
// TokenStore adapts a Provider to mcp-go's transport.TokenStore, attaching
// the access token to every outbound request and refreshing it shortly
// before expiry.
package oauth
