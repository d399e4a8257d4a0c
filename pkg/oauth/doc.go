// Package oauth provides OAuth 2.1 protocol types and a low-level client
// used when connecting to upstream MCP servers that require authorization.
//
// This package implements the protocol plumbing only. Flow orchestration,
// state tracking, and credential persistence live in internal/oauth.
//
// # Core Components
//
//   - Token: OAuth token representation with expiry checking
//   - Metadata: authorization server metadata (RFC 8414)
//   - ProtectedResourceMetadata: resource server metadata (RFC 9728)
//   - ClientRegistration: dynamic client registration result (RFC 7591)
//   - AuthChallenge: parsed WWW-Authenticate header information
//   - PKCE: Proof Key for Code Exchange generation (RFC 7636)
//   - Client: metadata discovery, client registration, and token operations
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	metadata, err := client.DiscoverMetadata(ctx, issuer)
//	reg, err := client.RegisterClient(ctx, metadata.RegistrationEndpoint, clientMeta)
//	token, err := client.ExchangeCode(ctx, metadata.TokenEndpoint, code, redirectURI,
//		reg.ClientID, reg.ClientSecret, pkce.CodeVerifier)
//
// Metadata discovery results are cached with a configurable TTL and
// deduplicated across concurrent callers.
package oauth
