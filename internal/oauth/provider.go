package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
	pkgoauth "mcphub/pkg/oauth"
)

// defaultRedirectURL is used when neither a public base URL nor explicit
// redirect URIs are configured.
const defaultRedirectURL = "http://localhost:3000/oauth/callback"

// ProviderConfig assembles the dependencies for one upstream's Provider.
type ProviderConfig struct {
	// ServerName is the upstream's configured name.
	ServerName string
	// ServerURL is the upstream's endpoint URL, used for issuer fallback.
	ServerURL string
	// OAuth is the upstream's oauth block; may be nil.
	OAuth *config.UpstreamOAuth
	// PublicBaseURL is the hub's externally reachable base URL; may be empty.
	PublicBaseURL string

	Client *pkgoauth.Client
	Store  *Store
	States *StateStore
	Sink   StatusSink
}

// Provider drives the OAuth 2.1 authorization-code flow for one upstream:
// discovery, dynamic client registration, PKCE, the browser round trip and
// token refresh. All state survives restarts through the Store.
type Provider struct {
	serverName    string
	serverURL     string
	oauthCfg      *config.UpstreamOAuth
	publicBaseURL string

	client *pkgoauth.Client
	store  *Store
	states *StateStore
	sink   StatusSink

	// authMu serializes authorization flows, refreshMu token refreshes.
	authMu    sync.Mutex
	refreshMu sync.Mutex
}

// NewProvider creates a provider for one upstream.
func NewProvider(cfg ProviderConfig) *Provider {
	return &Provider{
		serverName:    cfg.ServerName,
		serverURL:     cfg.ServerURL,
		oauthCfg:      cfg.OAuth,
		publicBaseURL: cfg.PublicBaseURL,
		client:        cfg.Client,
		store:         cfg.Store,
		states:        cfg.States,
		sink:          cfg.Sink,
	}
}

// ServerName returns the upstream this provider serves.
func (p *Provider) ServerName() string {
	return p.serverName
}

// RedirectURL returns the callback URL sent with authorization requests. The
// hub's public base URL wins, then the first configured redirect URI, then
// the localhost default. A server query parameter, used by some deployments
// to multiplex callbacks, is always stripped.
func (p *Provider) RedirectURL() string {
	var raw string
	switch {
	case p.publicBaseURL != "":
		raw = strings.TrimRight(p.publicBaseURL, "/") + "/oauth/callback"
	case p.oauthCfg != nil && len(p.oauthCfg.RedirectURIs) > 0:
		raw = p.oauthCfg.RedirectURIs[0]
	default:
		raw = defaultRedirectURL
	}
	return stripServerParam(raw)
}

func stripServerParam(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("server") {
		q.Del("server")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// ClientMetadata returns the RFC 7591 registration request for this upstream.
func (p *Provider) ClientMetadata() pkgoauth.ClientMetadata {
	authMethod := "none"
	if p.oauthCfg != nil && p.oauthCfg.ClientSecret != "" {
		authMethod = "client_secret_post"
	}
	return pkgoauth.ClientMetadata{
		ClientName:              "mcphub (" + p.serverName + ")",
		RedirectURIs:            []string{p.RedirectURL()},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: authMethod,
		Scope:                   p.configuredScope(),
	}
}

func (p *Provider) configuredScope() string {
	if p.oauthCfg != nil {
		return p.oauthCfg.Scopes
	}
	return ""
}

// ClientInformation returns the client credentials to use, preferring a
// previously registered client over the configured one. Registered clients
// whose secret expired are discarded. Returns nil when no client exists yet.
func (p *Provider) ClientInformation() *pkgoauth.ClientRegistration {
	state := p.store.Get(p.serverName)
	if state.HasClient() {
		reg := &pkgoauth.ClientRegistration{
			ClientID:              state.ClientID,
			ClientSecret:          state.ClientSecret,
			ClientSecretExpiresAt: state.ClientSecretExpiresAt,
		}
		if !reg.SecretExpired() {
			return reg
		}
		logging.Info("OAuthProvider", "Client secret for %s expired, re-registering", p.serverName)
	}
	if p.oauthCfg != nil && p.oauthCfg.ClientID != "" {
		return &pkgoauth.ClientRegistration{
			ClientID:     p.oauthCfg.ClientID,
			ClientSecret: p.oauthCfg.ClientSecret,
		}
	}
	return nil
}

// SaveClientInformation persists a dynamically registered client.
func (p *Provider) SaveClientInformation(reg *pkgoauth.ClientRegistration) error {
	if reg == nil || reg.ClientID == "" {
		return fmt.Errorf("refusing to save empty client registration for %s", p.serverName)
	}
	return p.store.Update(p.serverName, func(state *ServerState) {
		state.ClientID = reg.ClientID
		state.ClientSecret = reg.ClientSecret
		state.ClientSecretExpiresAt = reg.ClientSecretExpiresAt
		state.DynamicallyRegistered = true
	})
}

// Tokens returns the stored tokens for this upstream, or nil when the
// upstream has never completed an authorization.
func (p *Provider) Tokens() *pkgoauth.Token {
	state := p.store.Get(p.serverName)
	if !state.HasTokens() {
		return nil
	}
	return &pkgoauth.Token{
		AccessToken:  state.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: state.RefreshToken,
		ExpiresAt:    state.TokenExpiry,
		Scope:        state.Scopes,
		Issuer:       state.Issuer,
	}
}

// SaveTokens persists new tokens and completes any pending authorization.
// An empty refresh token keeps the previous one, since servers may omit it
// on refresh responses.
func (p *Provider) SaveTokens(tok *pkgoauth.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("refusing to save empty token for %s", p.serverName)
	}
	tok.SetExpiresAtFromExpiresIn()
	return p.store.Update(p.serverName, func(state *ServerState) {
		state.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			state.RefreshToken = tok.RefreshToken
		}
		state.TokenExpiry = tok.ExpiresAt
		if tok.Scope != "" {
			state.Scopes = tok.Scope
		}
		state.CodeVerifier = ""
		state.Pending = nil
	})
}

// SaveCodeVerifier persists the PKCE verifier for the in-flight flow.
func (p *Provider) SaveCodeVerifier(verifier string) error {
	return p.store.Update(p.serverName, func(state *ServerState) {
		state.CodeVerifier = verifier
	})
}

// Pending returns the pending authorization, if any.
func (p *Provider) Pending() *PendingAuthorization {
	return p.store.Get(p.serverName).Pending
}

// RedirectToAuthorization records the authorization URL the user must visit,
// reports the upstream as oauth_required and fails the current connect
// attempt with ErrAuthorizationPending.
func (p *Provider) RedirectToAuthorization(authorizationURL string) error {
	state := ""
	if u, err := url.Parse(authorizationURL); err == nil {
		state = u.Query().Get("state")
	}

	var pending *PendingAuthorization
	err := p.store.Update(p.serverName, func(st *ServerState) {
		pending = &PendingAuthorization{
			AuthorizationURL: authorizationURL,
			State:            state,
			CodeVerifier:     st.CodeVerifier,
		}
		st.Pending = pending
	})
	if err != nil {
		return err
	}

	if p.sink != nil {
		p.sink.SetOAuthRequired(p.serverName, pending)
	}
	return ErrAuthorizationPending
}

// InvalidateCredentials clears the selected subset of stored credentials.
// Clearing tokens or the client reports the upstream as oauth_required, since
// its next connect attempt cannot succeed without a new authorization.
func (p *Provider) InvalidateCredentials(scope InvalidationScope) error {
	switch scope {
	case InvalidateAll, InvalidateClient, InvalidateTokens, InvalidateVerifier:
	default:
		return fmt.Errorf("unknown invalidation scope %q", scope)
	}

	clearedAuth := false
	err := p.store.Update(p.serverName, func(state *ServerState) {
		switch scope {
		case InvalidateAll:
			clearClient(state)
			clearTokens(state)
			state.CodeVerifier = ""
			state.Pending = nil
			clearedAuth = true
		case InvalidateClient:
			clearClient(state)
			clearedAuth = true
		case InvalidateTokens:
			clearTokens(state)
			clearedAuth = true
		case InvalidateVerifier:
			state.CodeVerifier = ""
		}
	})
	if err != nil {
		return err
	}

	logging.Info("OAuthProvider", "Invalidated %s credentials for %s", scope, p.serverName)
	if clearedAuth && p.sink != nil {
		p.sink.SetOAuthRequired(p.serverName, p.store.Get(p.serverName).Pending)
	}
	return nil
}

func clearClient(state *ServerState) {
	state.ClientID = ""
	state.ClientSecret = ""
	state.ClientSecretExpiresAt = 0
	state.DynamicallyRegistered = false
}

func clearTokens(state *ServerState) {
	state.AccessToken = ""
	state.RefreshToken = ""
	state.TokenExpiry = time.Time{}
}

// BeginAuthorization starts a new authorization-code flow in response to an
// authentication challenge. It resolves the authorization server, ensures a
// registered client, selects scopes, generates PKCE material and records the
// authorization URL. It always returns a non-nil error; on success that error
// is ErrAuthorizationPending.
func (p *Provider) BeginAuthorization(ctx context.Context, challenge *pkgoauth.AuthChallenge) error {
	p.authMu.Lock()
	defer p.authMu.Unlock()

	md, resourceScopes, err := p.resolveAuthorizationServer(ctx, challenge)
	if err != nil {
		return err
	}

	reg, err := p.ensureClient(ctx, md)
	if err != nil {
		return err
	}

	scope := p.selectScope(challenge, resourceScopes)

	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return fmt.Errorf("failed to generate PKCE challenge: %w", err)
	}
	if err := p.SaveCodeVerifier(pkce.CodeVerifier); err != nil {
		return err
	}

	state, err := p.states.GenerateState(p.serverName)
	if err != nil {
		return err
	}

	authURL, err := p.client.BuildAuthorizationURL(md.AuthorizationEndpoint, reg.ClientID, p.RedirectURL(), state, scope, pkce)
	if err != nil {
		return fmt.Errorf("failed to build authorization URL for %s: %w", p.serverName, err)
	}

	if err := p.store.Update(p.serverName, func(st *ServerState) {
		st.Issuer = md.Issuer
		st.AuthorizationEndpoint = md.AuthorizationEndpoint
		st.TokenEndpoint = md.TokenEndpoint
		st.Scopes = scope
	}); err != nil {
		return err
	}

	logging.Info("OAuthProvider", "Upstream %s requires authorization: %s", p.serverName, authURL)
	return p.RedirectToAuthorization(authURL)
}

// resolveAuthorizationServer finds the authorization server metadata for
// this upstream. Explicitly configured endpoints bypass discovery. Otherwise
// the challenge's protected resource metadata names the issuer; failing
// that, the challenge realm, then the upstream's own base URL.
func (p *Provider) resolveAuthorizationServer(ctx context.Context, challenge *pkgoauth.AuthChallenge) (*pkgoauth.Metadata, []string, error) {
	if p.oauthCfg != nil && p.oauthCfg.AuthorizationEndpoint != "" && p.oauthCfg.TokenEndpoint != "" {
		return &pkgoauth.Metadata{
			Issuer:                pkgoauth.NormalizeServerURL(p.serverURL),
			AuthorizationEndpoint: p.oauthCfg.AuthorizationEndpoint,
			TokenEndpoint:         p.oauthCfg.TokenEndpoint,
		}, nil, nil
	}

	issuer := ""
	var resourceScopes []string
	if challenge != nil && challenge.ResourceMetadataURL != "" {
		prm, err := p.client.FetchProtectedResourceMetadata(ctx, challenge.ResourceMetadataURL)
		if err != nil {
			logging.Warn("OAuthProvider", "Failed to fetch protected resource metadata for %s: %v", p.serverName, err)
		} else if prm != nil {
			if len(prm.AuthorizationServers) > 0 {
				issuer = prm.AuthorizationServers[0]
			}
			resourceScopes = prm.ScopesSupported
			if len(resourceScopes) == 0 && prm.Scope != "" {
				resourceScopes = strings.Fields(prm.Scope)
			}
		}
	}
	if issuer == "" && challenge != nil {
		issuer = challenge.GetIssuer()
	}
	if issuer == "" {
		// MCP servers often act as their own authorization server.
		issuer = pkgoauth.NormalizeServerURL(p.serverURL)
	}

	md, err := p.client.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("authorization server discovery failed for %s: %w", p.serverName, err)
	}
	return md, resourceScopes, nil
}

// ensureClient returns usable client credentials, registering a new client
// via RFC 7591 when none are configured or cached.
func (p *Provider) ensureClient(ctx context.Context, md *pkgoauth.Metadata) (*pkgoauth.ClientRegistration, error) {
	if reg := p.ClientInformation(); reg != nil {
		return reg, nil
	}
	if md.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("no client configured for %s and the authorization server does not support dynamic registration", p.serverName)
	}

	reg, err := p.client.RegisterClient(ctx, md.RegistrationEndpoint, p.ClientMetadata())
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration failed for %s: %w", p.serverName, err)
	}
	if err := p.SaveClientInformation(reg); err != nil {
		return nil, err
	}
	logging.Info("OAuthProvider", "Registered client %s for %s", reg.ClientID, p.serverName)
	return reg, nil
}

// selectScope picks the scope string for the authorization request. Scopes
// demanded by the challenge win, then the resource's advertised scopes, then
// the configured scopes, then a bare openid.
func (p *Provider) selectScope(challenge *pkgoauth.AuthChallenge, resourceScopes []string) string {
	if challenge != nil && challenge.Scope != "" {
		return challenge.Scope
	}
	if len(resourceScopes) > 0 {
		return strings.Join(resourceScopes, " ")
	}
	if scope := p.configuredScope(); scope != "" {
		return scope
	}
	return "openid"
}

// CompleteAuthorization exchanges an authorization code for tokens using the
// endpoints and verifier recorded when the flow started. State validation is
// the caller's responsibility.
func (p *Provider) CompleteAuthorization(ctx context.Context, code string) error {
	state := p.store.Get(p.serverName)

	tokenEndpoint := state.TokenEndpoint
	if tokenEndpoint == "" && p.oauthCfg != nil {
		tokenEndpoint = p.oauthCfg.TokenEndpoint
	}
	if tokenEndpoint == "" {
		return fmt.Errorf("no token endpoint recorded for %s, restart the authorization flow", p.serverName)
	}

	reg := p.ClientInformation()
	if reg == nil {
		return fmt.Errorf("no oauth client available for %s, restart the authorization flow", p.serverName)
	}

	tok, err := p.client.ExchangeCode(ctx, tokenEndpoint, code, p.RedirectURL(), reg.ClientID, reg.ClientSecret, state.CodeVerifier)
	if err != nil {
		return fmt.Errorf("code exchange failed for %s: %w", p.serverName, err)
	}
	if err := p.SaveTokens(tok); err != nil {
		return err
	}

	logging.Info("OAuthProvider", "Completed authorization for %s (access token %s)", p.serverName, NewRedactedToken(tok.AccessToken))
	return nil
}

// EnsureFreshTokens returns the stored tokens, refreshing them first when
// they expire within the refresh threshold and a refresh token is available.
// Refresh failures return the stale token so the caller's 401 handling can
// restart the authorization flow.
func (p *Provider) EnsureFreshTokens(ctx context.Context) *pkgoauth.Token {
	tok := p.Tokens()
	if tok == nil {
		return nil
	}
	if !tok.IsExpiredWithMargin(pkgoauth.TokenRefreshThreshold) || tok.RefreshToken == "" {
		return tok
	}

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	// Re-read: another caller may have refreshed while we waited.
	tok = p.Tokens()
	if tok == nil || !tok.IsExpiredWithMargin(pkgoauth.TokenRefreshThreshold) || tok.RefreshToken == "" {
		return tok
	}

	state := p.store.Get(p.serverName)
	tokenEndpoint := state.TokenEndpoint
	if tokenEndpoint == "" && p.oauthCfg != nil {
		tokenEndpoint = p.oauthCfg.TokenEndpoint
	}
	if tokenEndpoint == "" {
		return tok
	}

	clientID, clientSecret := "", ""
	if reg := p.ClientInformation(); reg != nil {
		clientID, clientSecret = reg.ClientID, reg.ClientSecret
	}

	newTok, err := p.client.RefreshToken(ctx, tokenEndpoint, tok.RefreshToken, clientID, clientSecret)
	if err != nil {
		logging.Warn("OAuthProvider", "Token refresh failed for %s: %v", p.serverName, err)
		return tok
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = tok.RefreshToken
	}
	if err := p.SaveTokens(newTok); err != nil {
		logging.Warn("OAuthProvider", "Failed to persist refreshed tokens for %s: %v", p.serverName, err)
		return newTok
	}

	logging.Debug("OAuthProvider", "Refreshed tokens for %s (access token %s)", p.serverName, NewRedactedToken(newTok.AccessToken))
	return newTok
}
