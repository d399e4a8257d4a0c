package oauth

import (
	"context"

	"github.com/mark3labs/mcp-go/client/transport"

	pkgoauth "mcphub/pkg/oauth"
)

// TokenStore adapts a Provider to mcp-go's transport.TokenStore so HTTP
// transports attach the current access token to every request and hand
// refreshed tokens back for persistence.
type TokenStore struct {
	provider *Provider
}

var _ transport.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a token store backed by the given provider.
func NewTokenStore(provider *Provider) *TokenStore {
	return &TokenStore{provider: provider}
}

// GetToken returns the current access token, refreshing it first when it is
// about to expire. transport.ErrNoToken signals an upstream that has not
// completed authorization yet.
func (s *TokenStore) GetToken(ctx context.Context) (*transport.Token, error) {
	tok := s.provider.EnsureFreshTokens(ctx)
	if tok == nil || tok.AccessToken == "" {
		return nil, transport.ErrNoToken
	}

	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &transport.Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}, nil
}

// SaveToken persists a token rotated by the transport.
func (s *TokenStore) SaveToken(ctx context.Context, token *transport.Token) error {
	if token == nil || token.AccessToken == "" {
		return nil
	}
	return s.provider.SaveTokens(&pkgoauth.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
	})
}
