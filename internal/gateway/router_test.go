package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peregrinehq/gangway/internal/service/identity"
	"github.com/peregrinehq/gangway/internal/ws"
)

type fakeValidator struct {
	validation identity.Validation
	err        error
	tokens     []string
}

func (f *fakeValidator) ValidateToken(ctx context.Context, token string) (identity.Validation, error) {
	f.tokens = append(f.tokens, token)
	return f.validation, f.err
}

type countingBackend struct {
	mu       sync.Mutex
	requests int
	handler  http.HandlerFunc
}

func (b *countingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests++
	b.mu.Unlock()
	if b.handler != nil {
		b.handler(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"result":"ok"}`))
}

func (b *countingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

func newTestRouter(t *testing.T, validator TokenValidator, backendURL string) *Router {
	t.Helper()
	log := testLogger()
	router := NewRouter(log, validator, NewConnector(5*time.Second, log), NewStreamer(0, 0, log), ws.NewHub(), NewMemoryRateLimiter(), backendURL, nil)
	t.Cleanup(router.Close)
	return router
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("response is not the error envelope: %v (%s)", err, rec.Body.String())
	}
	if body.Timestamp == "" {
		t.Fatalf("expected a timestamp in the envelope")
	}
	return body
}

func TestForwardRejectsMissingToken(t *testing.T) {
	backend := &countingBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	validator := &fakeValidator{validation: identity.Validation{Valid: true}}
	router := newTestRouter(t, validator, srv.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected a Bearer challenge")
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Category != "auth" {
		t.Fatalf("expected auth category, got %s", body.Error.Category)
	}
	if backend.count() != 0 {
		t.Fatalf("backend must not be reached without a token, got %d requests", backend.count())
	}
	if len(validator.tokens) != 0 {
		t.Fatalf("validator must not be called without a token")
	}
}

func TestForwardRejectsMalformedAuthorizationHeader(t *testing.T) {
	backend := &countingBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	router := newTestRouter(t, &fakeValidator{validation: identity.Validation{Valid: true}}, srv.URL)

	for _, header := range []string{"Basic dXNlcjpwYXNz", "Bearer", "Bearer a b"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", header)
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
	if backend.count() != 0 {
		t.Fatalf("backend must not be reached, got %d requests", backend.count())
	}
}

func TestForwardRejectsInvalidTokenWithProviderReason(t *testing.T) {
	backend := &countingBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	validator := &fakeValidator{validation: identity.Validation{Valid: false, Reason: "token is expired"}}
	router := newTestRouter(t, validator, srv.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Code != "TOKEN_INVALID" {
		t.Fatalf("expected TOKEN_INVALID, got %s", body.Error.Code)
	}
	if body.Error.Details != "token is expired" {
		t.Fatalf("expected the provider reason verbatim, got %q", body.Error.Details)
	}
	if backend.count() != 0 {
		t.Fatalf("backend must not be reached with an invalid token")
	}
}

func TestForwardStreamsBackendResponse(t *testing.T) {
	backend := &countingBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	validator := &fakeValidator{validation: identity.Validation{Valid: true, Subject: "client-1"}}
	router := newTestRouter(t, validator, srv.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"method":"ping"}`))
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"result":"ok"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected the backend content type to pass through")
	}
	if backend.count() != 1 {
		t.Fatalf("expected exactly one backend request, got %d", backend.count())
	}
	if len(validator.tokens) != 1 || validator.tokens[0] != "good-token" {
		t.Fatalf("expected the bearer token to reach the validator, got %v", validator.tokens)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected rate limit headers on forwarded responses")
	}
}

func TestForwardConvertsUpstreamFailureToEnvelope(t *testing.T) {
	backend := &countingBackend{handler: func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	}}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	router := newTestRouter(t, &fakeValidator{validation: identity.Validation{Valid: true}}, srv.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for upstream failures, got %d", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Category != "upstream" {
		t.Fatalf("expected upstream category, got %s", body.Error.Category)
	}
	if len(body.Error.Suggestions) == 0 {
		t.Fatalf("expected suggestions in the envelope")
	}
}

func TestForwardMapsConnectionFailureToServiceUnavailable(t *testing.T) {
	// A backend URL nothing listens on.
	router := newTestRouter(t, &fakeValidator{validation: identity.Validation{Valid: true}}, "http://127.0.0.1:1/mcp")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for network failures, got %d", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Category != "network" {
		t.Fatalf("expected network category, got %s", body.Error.Category)
	}
}

func TestValidatorOutageIsNotAuthRejection(t *testing.T) {
	router := newTestRouter(t, &fakeValidator{err: errors.New("identity provider timed out")}, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the validator is unreachable, got %d", rec.Code)
	}
}

func TestHealthzWithoutDatabase(t *testing.T) {
	router := newTestRouter(t, &fakeValidator{}, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("invalid health payload: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
}

func TestHealthzReportsDatabaseOutage(t *testing.T) {
	log := testLogger()
	router := NewRouter(log, &fakeValidator{}, NewConnector(0, log), NewStreamer(0, 0, log), ws.NewHub(), NewMemoryRateLimiter(), "http://127.0.0.1:1",
		func(ctx context.Context) error { return errors.New("connection refused") })
	defer router.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the database is down, got %d", rec.Code)
	}
}
