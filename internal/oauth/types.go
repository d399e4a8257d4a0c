package oauth

import (
	"errors"
	"time"
)

// ErrAuthorizationPending is returned by connect attempts that cannot proceed
// until a user completes the authorization flow in a browser. Callers should
// surface the pending authorization URL rather than retry.
var ErrAuthorizationPending = errors.New("oauth authorization pending")

// InvalidationScope selects which credentials InvalidateCredentials clears.
type InvalidationScope string

const (
	// InvalidateAll clears the registered client, tokens and code verifier.
	InvalidateAll InvalidationScope = "all"
	// InvalidateClient clears the registered client credentials.
	InvalidateClient InvalidationScope = "client"
	// InvalidateTokens clears access and refresh tokens.
	InvalidateTokens InvalidationScope = "tokens"
	// InvalidateVerifier clears the PKCE code verifier.
	InvalidateVerifier InvalidationScope = "verifier"
)

// PendingAuthorization describes an authorization flow waiting for the user.
// It is persisted so the hub can re-announce the URL after a restart.
type PendingAuthorization struct {
	AuthorizationURL string `yaml:"authorizationUrl" json:"authorizationUrl"`
	State            string `yaml:"state" json:"state"`
	CodeVerifier     string `yaml:"codeVerifier" json:"codeVerifier"`
}

// ServerState is the per-upstream OAuth state persisted at
// <configDir>/oauth/<upstream>.yaml. All fields are optional; a zero value
// means the upstream has never authenticated.
type ServerState struct {
	// ClientID and ClientSecret identify the registered or configured client.
	ClientID              string `yaml:"clientId,omitempty"`
	ClientSecret          string `yaml:"clientSecret,omitempty"`
	ClientSecretExpiresAt int64  `yaml:"clientSecretExpiresAt,omitempty"`

	// DynamicallyRegistered marks clients obtained via RFC 7591 so they can
	// be re-registered after the secret expires.
	DynamicallyRegistered bool `yaml:"dynamicallyRegistered,omitempty"`

	// Scopes is the space-separated scope string used for the last
	// authorization request.
	Scopes string `yaml:"scopes,omitempty"`

	// Issuer and the endpoints are recorded at discovery time so completion
	// and refresh do not depend on re-discovery.
	Issuer                string `yaml:"issuer,omitempty"`
	AuthorizationEndpoint string `yaml:"authorizationEndpoint,omitempty"`
	TokenEndpoint         string `yaml:"tokenEndpoint,omitempty"`

	AccessToken  string    `yaml:"accessToken,omitempty"`
	RefreshToken string    `yaml:"refreshToken,omitempty"`
	TokenExpiry  time.Time `yaml:"tokenExpiry,omitempty"`

	// CodeVerifier is the PKCE verifier for the in-flight authorization.
	CodeVerifier string `yaml:"codeVerifier,omitempty"`

	Pending *PendingAuthorization `yaml:"pendingAuthorization,omitempty"`

	UpdatedAt time.Time `yaml:"updatedAt,omitempty"`
}

// HasTokens reports whether the state holds a usable access token.
func (s *ServerState) HasTokens() bool {
	return s != nil && s.AccessToken != ""
}

// HasClient reports whether the state holds registered client credentials.
func (s *ServerState) HasClient() bool {
	return s != nil && s.ClientID != ""
}

// StatusSink receives upstream authentication state transitions. The upstream
// registry implements it so pending authorizations surface in server status.
type StatusSink interface {
	// SetOAuthRequired marks the named upstream as waiting for authorization.
	// pending may be nil when credentials were invalidated without a new
	// flow having started yet.
	SetOAuthRequired(serverName string, pending *PendingAuthorization)
}
