package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// UpstreamError carries a non-success response from the backend service.
type UpstreamError struct {
	StatusCode int
	Reason     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Reason)
}

// backendConn is one logical connection to a backend URL. The http.Client
// keeps the underlying TCP connections pooled; connected marks whether the
// last exchange succeeded.
type backendConn struct {
	client    *http.Client
	connected bool
}

// Connector maintains at most one logical connection per backend URL,
// created lazily and reused while marked connected. The cache is shared
// across concurrent requests; creation is single-winner under the lock.
type Connector struct {
	mu            sync.Mutex
	conns         map[string]*backendConn
	headerTimeout time.Duration
	logger        *slog.Logger
	created       int
}

// NewConnector constructs a Connector. headerTimeout bounds the wait for
// upstream response headers; zero means no bound. Response bodies are never
// subject to a timeout, they stream.
func NewConnector(headerTimeout time.Duration, logger *slog.Logger) *Connector {
	return &Connector{
		conns:         make(map[string]*backendConn),
		headerTimeout: headerTimeout,
		logger:        logger,
	}
}

// connection returns the cached connection for url, creating it when
// missing or previously marked broken. Exactly one caller wins a concurrent
// create; the rest reuse the winner's connection.
func (c *Connector) connection(url string) *backendConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[url]; ok && conn.connected {
		return conn
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: c.headerTimeout,
	}
	conn := &backendConn{
		client:    &http.Client{Transport: transport},
		connected: true,
	}
	c.conns[url] = conn
	c.created++
	c.logger.Info("backend connection established", "url", url)
	return conn
}

// ConnectionCount reports how many connections have been created.
func (c *Connector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// ForwardRequest forwards an inbound request to the backend URL and returns
// the upstream response for streaming. Non-success upstream statuses are
// returned as UpstreamError.
func (c *Connector) ForwardRequest(ctx context.Context, backendURL string, req *http.Request) (*http.Response, error) {
	conn := c.connection(backendURL)

	out, err := http.NewRequestWithContext(ctx, req.Method, backendURL, req.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	copyForwardHeaders(out.Header, req.Header)

	resp, err := conn.client.Do(out)
	if err != nil {
		c.markBroken(backendURL)
		return nil, fmt.Errorf("forward to backend: %w", err)
	}
	if resp.StatusCode >= 400 {
		reason := strings.TrimSpace(readBody(resp.Body, 512))
		resp.Body.Close()
		if reason == "" {
			reason = resp.Status
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Reason: reason}
	}
	return resp, nil
}

func (c *Connector) markBroken(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[url]; ok {
		conn.connected = false
	}
}

// hop-by-hop headers plus Authorization, which is terminated at the
// gateway.
var skipForwardHeaders = map[string]struct{}{
	"Authorization":     {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Proxy-Connection":  {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Host":              {},
	"Content-Length":    {},
}

func copyForwardHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, skip := skipForwardHeaders[http.CanonicalHeaderKey(name)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func readBody(r io.Reader, limit int64) string {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return ""
	}
	return string(data)
}
