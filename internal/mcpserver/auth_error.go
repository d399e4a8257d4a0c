package mcpserver

import (
	"errors"
	"fmt"

	"mcphub/pkg/oauth"

	"github.com/mark3labs/mcp-go/client/transport"
)

// AuthRequiredError indicates an upstream rejected the connection with a 401
// and OAuth authorization is needed before it can be used. The registry maps
// this to the oauth_required state instead of treating it as a plain failure.
type AuthRequiredError struct {
	// ServerURL is the upstream endpoint that issued the challenge.
	ServerURL string
	// Challenge holds the parsed WWW-Authenticate parameters when the error
	// text carried them. Scheme is always set, the rest is best-effort.
	Challenge *oauth.AuthChallenge
	// Err is the underlying transport error.
	Err error
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s", e.ServerURL)
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Err
}

// CheckForAuthRequiredError classifies a transport error as an OAuth
// authorization requirement. It recognizes mcp-go's typed OAuth error as well
// as plain 401 responses surfaced as error text. Returns nil when the error
// is not auth-related.
func CheckForAuthRequiredError(err error, serverURL string) *AuthRequiredError {
	if err == nil {
		return nil
	}

	if errors.Is(err, transport.ErrOAuthAuthorizationRequired) {
		return &AuthRequiredError{
			ServerURL: serverURL,
			Challenge: &oauth.AuthChallenge{Scheme: "Bearer"},
			Err:       err,
		}
	}

	challenge := oauth.ParseWWWAuthenticateFromError(err)
	if challenge == nil {
		return nil
	}

	return &AuthRequiredError{
		ServerURL: serverURL,
		Challenge: challenge,
		Err:       err,
	}
}
