package mcpserver

import (
	"context"
	"net/http"
)

type requestHeadersKey struct{}

// WithRequestHeaders returns a context carrying the downstream HTTP request
// headers. The session layer attaches them per call so transports that
// forward headers upstream (OpenAPI passthrough) can read them without a
// reference to the HTTP layer.
func WithRequestHeaders(ctx context.Context, headers http.Header) context.Context {
	if headers == nil {
		return ctx
	}
	return context.WithValue(ctx, requestHeadersKey{}, headers)
}

// RequestHeadersFromContext returns the downstream request headers attached
// by WithRequestHeaders, or nil when the call did not originate from an HTTP
// session.
func RequestHeadersFromContext(ctx context.Context) http.Header {
	headers, _ := ctx.Value(requestHeadersKey{}).(http.Header)
	return headers
}
