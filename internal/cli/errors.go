package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"mcphub/pkg/oauth"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError indicates a connection failure to a hub endpoint.
// It wraps the underlying error and provides categorization for better user feedback.
type ConnectionError struct {
	// Endpoint is the URL that could not be reached.
	Endpoint string
	// Type categorizes the connection error.
	Type ConnectionErrorType
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *ConnectionError) Error() string {
	switch e.Type {
	case ConnectionErrorTLS:
		return fmt.Sprintf(`TLS certificate verification failed for %s: %v

Possible causes:
  - Self-signed or expired certificate on the hub
  - Hostname does not match the certificate`, e.Endpoint, e.Reason)
	case ConnectionErrorNetwork:
		return fmt.Sprintf(`Connection failed for %s: %v

Possible causes:
  - Hub is not running (start it with: mcphub serve)
  - Wrong host or port in the endpoint URL`, e.Endpoint, e.Reason)
	case ConnectionErrorTimeout:
		return fmt.Sprintf("Connection to %s timed out: %v", e.Endpoint, e.Reason)
	case ConnectionErrorDNS:
		return fmt.Sprintf(`DNS resolution failed for %s: %v

Check the hostname in the endpoint URL.`, e.Endpoint, e.Reason)
	default:
		return fmt.Sprintf("Connection failed for %s: %v", e.Endpoint, e.Reason)
	}
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *ConnectionError) Is(target error) bool {
	_, ok := target.(*ConnectionError)
	return ok
}

// AuthRequiredError indicates the hub rejected the connection with a 401
// challenge and a bearer token is needed.
type AuthRequiredError struct {
	// Endpoint is the URL that requires authentication.
	Endpoint string
	// Challenge holds the parsed WWW-Authenticate parameters when available.
	Challenge *oauth.AuthChallenge
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Authentication required for %s

Pass the hub's bearer key:
  mcphub agent --endpoint %s --bearer <key>

The key is configured under auth.bearerKey in the hub's config.yaml.`, e.Endpoint, e.Endpoint)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// WrapConnectError converts a raw transport error from connecting to the hub
// into a typed CLI error. 401 challenges become AuthRequiredError, everything
// else becomes a categorized ConnectionError. Returns nil for a nil error.
func WrapConnectError(err error, endpoint string) error {
	if err == nil {
		return nil
	}
	if challenge := oauth.ParseWWWAuthenticateFromError(err); challenge != nil {
		return &AuthRequiredError{Endpoint: endpoint, Challenge: challenge}
	}
	return ClassifyConnectionError(err, endpoint)
}

// ClassifyConnectionError analyzes an error and returns a ConnectionError with the appropriate type.
// If the error is nil, returns nil.
func ClassifyConnectionError(err error, endpoint string) *ConnectionError {
	if err == nil {
		return nil
	}

	if isTLSError(err) {
		return &ConnectionError{
			Endpoint: endpoint,
			Type:     ConnectionErrorTLS,
			Reason:   err,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ConnectionError{
			Endpoint: endpoint,
			Type:     ConnectionErrorDNS,
			Reason:   err,
		}
	}

	if isTimeoutError(err) {
		return &ConnectionError{
			Endpoint: endpoint,
			Type:     ConnectionErrorTimeout,
			Reason:   err,
		}
	}

	if isNetworkError(err.Error()) {
		return &ConnectionError{
			Endpoint: endpoint,
			Type:     ConnectionErrorNetwork,
			Reason:   err,
		}
	}

	return &ConnectionError{
		Endpoint: endpoint,
		Type:     ConnectionErrorUnknown,
		Reason:   err,
	}
}

// isTLSError checks if the error is related to TLS/certificate issues.
func isTLSError(err error) bool {
	if err == nil {
		return false
	}

	var certErr *x509.CertificateInvalidError
	var hostErr *x509.HostnameError
	var unknownAuthErr *x509.UnknownAuthorityError
	var systemRootsErr *x509.SystemRootsError

	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &systemRootsErr) {
		return true
	}

	// Also check error message for TLS-related keywords.
	// "certificate" is checked broadly as it covers most TLS-related error messages.
	errStr := err.Error()
	tlsKeywords := []string{
		"x509:",
		"certificate",
		"tls:",
		"TLS handshake",
	}

	for _, keyword := range tlsKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if the error is a timeout.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	// net.Error is an interface, so it needs manual unwrapping.
	for e := err; e != nil; {
		if ne, ok := e.(net.Error); ok && ne.Timeout() {
			return true
		}
		if u, ok := e.(interface{ Unwrap() error }); ok {
			e = u.Unwrap()
		} else {
			break
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if the error string indicates a network connectivity issue.
func isNetworkError(errStr string) bool {
	networkKeywords := []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	}

	for _, keyword := range networkKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}
