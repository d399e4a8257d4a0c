package mcpserver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckForAuthRequiredError(t *testing.T) {
	const serverURL = "https://mcp.example.com/mcp"

	t.Run("nil error", func(t *testing.T) {
		assert.Nil(t, CheckForAuthRequiredError(nil, serverURL))
	})

	t.Run("unrelated error", func(t *testing.T) {
		assert.Nil(t, CheckForAuthRequiredError(errors.New("connection refused"), serverURL))
	})

	t.Run("plain 401", func(t *testing.T) {
		err := errors.New("request failed with status 401 Unauthorized")

		authErr := CheckForAuthRequiredError(err, serverURL)
		require.NotNil(t, authErr)
		assert.Equal(t, serverURL, authErr.ServerURL)
		require.NotNil(t, authErr.Challenge)
		assert.Equal(t, "Bearer", authErr.Challenge.Scheme)
	})

	t.Run("401 with bearer challenge", func(t *testing.T) {
		err := fmt.Errorf(`Error POSTing to endpoint (HTTP 401): Bearer realm="mcp", resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`)

		authErr := CheckForAuthRequiredError(err, serverURL)
		require.NotNil(t, authErr)
		require.NotNil(t, authErr.Challenge)
		assert.Equal(t, "https://mcp.example.com/.well-known/oauth-protected-resource", authErr.Challenge.ResourceMetadataURL)
	})

	t.Run("mcp-go oauth sentinel", func(t *testing.T) {
		err := fmt.Errorf("connect: %w", transport.ErrOAuthAuthorizationRequired)

		authErr := CheckForAuthRequiredError(err, serverURL)
		require.NotNil(t, authErr)
		assert.Equal(t, serverURL, authErr.ServerURL)
	})
}

func TestAuthRequiredError_Unwrap(t *testing.T) {
	cause := errors.New("HTTP 401 Unauthorized")
	authErr := CheckForAuthRequiredError(cause, "https://mcp.example.com/sse")
	require.NotNil(t, authErr)

	assert.Contains(t, authErr.Error(), "https://mcp.example.com/sse")
	assert.ErrorIs(t, authErr, cause)
}
