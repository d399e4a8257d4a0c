package cluster

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"mcphub/pkg/logging"
)

// hopHeaders are the hop-by-hop headers of RFC 7230 section 6.1. They apply
// to a single connection and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NodeResolver resolves a node id to the base URL it serves. Satisfied by
// Coordinator.
type NodeResolver interface {
	GetNodeBaseURL(ctx context.Context, nodeID string) (string, error)
}

// Proxy forwards a downstream request to the node that owns its session. The
// response streams straight through so SSE connections stay live. Closing the
// downstream connection cancels the forwarded request through its context.
type Proxy struct {
	resolver NodeResolver
	client   *http.Client
}

// NewProxy creates a proxy resolving target nodes through resolver. The
// transport carries no overall timeout because forwarded SSE streams are
// long-lived.
func NewProxy(resolver NodeResolver) *Proxy {
	return &Proxy{
		resolver: resolver,
		client:   &http.Client{},
	}
}

// Forward sends the request to nodeID and streams the response back. It
// answers 502 only when nothing has been written yet; once bytes flowed the
// stream is aborted instead, because the status line is already on the wire.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, nodeID string) {
	baseURL, err := p.resolver.GetNodeBaseURL(r.Context(), nodeID)
	if err != nil {
		logging.Warn("ClusterProxy", "Cannot resolve node %s: %v", nodeID, err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	target := strings.TrimRight(baseURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		logging.Error("ClusterProxy", err, "Cannot build forward request for node %s", nodeID)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	copyForwardHeaders(req, r)

	logging.Debug("ClusterProxy", "Forwarding %s %s to node %s", r.Method, r.URL.Path, nodeID)
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Warn("ClusterProxy", "Forward to node %s failed: %v", nodeID, err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	header := w.Header()
	for name, values := range resp.Header {
		if isHopHeader(name) {
			continue
		}
		for _, value := range values {
			header.Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if err := streamBody(w, resp.Body); err != nil {
		// The status line is out, so the only remaining signal is an
		// aborted stream.
		logging.Warn("ClusterProxy", "Stream from node %s aborted: %v", nodeID, err)
	}
}

// copyForwardHeaders copies end-to-end headers onto the forward request and
// stamps the X-Forwarded trail.
func copyForwardHeaders(req, r *http.Request) {
	for name, values := range r.Header {
		if isHopHeader(name) {
			continue
		}
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	req.Host = ""

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			host = prior + ", " + host
		}
		req.Header.Set("X-Forwarded-For", host)
	}
	req.Header.Set("X-Forwarded-Host", r.Host)
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// streamBody copies the upstream body through, flushing after every chunk so
// SSE events reach the client immediately.
func streamBody(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
