package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestForwardRequestProxiesBodyAndHeaders(t *testing.T) {
	var got *http.Request
	var gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	connector := NewConnector(5*time.Second, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"method":"tools/list"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("X-Request-ID", "req-1")

	resp, err := connector.ForwardRequest(context.Background(), backend.URL, req)
	if err != nil {
		t.Fatalf("ForwardRequest returned error: %v", err)
	}
	defer resp.Body.Close()

	if gotBody != `{"method":"tools/list"}` {
		t.Fatalf("backend received body %q", gotBody)
	}
	if got.Header.Get("Authorization") != "" {
		t.Fatalf("Authorization must not be forwarded upstream")
	}
	if got.Header.Get("X-Request-ID") != "req-1" {
		t.Fatalf("expected custom headers to pass through")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected response body %q", body)
	}
}

func TestForwardRequestReturnsUpstreamError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	}))
	defer backend.Close()

	connector := NewConnector(5*time.Second, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)

	_, err := connector.ForwardRequest(context.Background(), backend.URL, req)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", upstream.StatusCode)
	}
	if !strings.Contains(upstream.Reason, "backend exploded") {
		t.Fatalf("expected the backend body as reason, got %q", upstream.Reason)
	}
}

func TestConnectorReusesOneConnectionAcrossConcurrentRequests(t *testing.T) {
	var requests int
	var mu sync.Mutex
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	connector := NewConnector(5*time.Second, testLogger())

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
			resp, err := connector.ForwardRequest(context.Background(), backend.URL, req)
			if err != nil {
				t.Errorf("ForwardRequest returned error: %v", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if got := connector.ConnectionCount(); got != 1 {
		t.Fatalf("expected exactly one logical connection, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != workers {
		t.Fatalf("expected %d equivalent requests at the backend, got %d", workers, requests)
	}
}

func TestConnectorRecreatesBrokenConnection(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	connector := NewConnector(5*time.Second, testLogger())
	url := backend.URL

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	resp, err := connector.ForwardRequest(context.Background(), url, req)
	if err != nil {
		t.Fatalf("first forward failed: %v", err)
	}
	resp.Body.Close()

	backend.Close()
	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	if _, err := connector.ForwardRequest(context.Background(), url, req); err == nil {
		t.Fatalf("expected a transport failure against the closed backend")
	}

	// The failed exchange marks the connection broken, so the next call
	// creates a fresh one.
	if got := connector.ConnectionCount(); got != 1 {
		t.Fatalf("expected one connection so far, got %d", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	connector.ForwardRequest(context.Background(), url, req)
	if got := connector.ConnectionCount(); got != 2 {
		t.Fatalf("expected a recreated connection, got %d", got)
	}
}
