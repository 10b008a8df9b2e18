package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/service/build"
)

func TestCreateProjectIfAbsentPostsSpec(t *testing.T) {
	var gotSpec domain.BuildProjectSpec
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/projects" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotSpec)
		json.NewEncoder(w).Encode(map[string]string{"project_id": "bp-7"})
	}))
	defer srv.Close()

	client := NewBuildServiceClient(srv.URL)
	id, err := client.CreateProjectIfAbsent(context.Background(), domain.BuildProjectSpec{
		Name:       "shop",
		SourceRef:  "git://repo#main",
		Repository: "registry/shop",
	})
	if err != nil {
		t.Fatalf("CreateProjectIfAbsent returned error: %v", err)
	}
	if id != "bp-7" {
		t.Fatalf("expected project id bp-7, got %q", id)
	}
	if gotSpec.Name != "shop" || gotSpec.Repository != "registry/shop" {
		t.Fatalf("server received spec %+v", gotSpec)
	}
}

func TestGetBuildMapsMissingBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewBuildServiceClient(srv.URL)
	_, err := client.GetBuild(context.Background(), "missing")
	if !errors.Is(err, build.ErrNotFound) {
		t.Fatalf("expected build.ErrNotFound, got %v", err)
	}
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"build_id": "build-1"})
	}))
	defer srv.Close()

	client := NewBuildServiceClient(srv.URL)
	id, err := client.StartBuild(context.Background(), "bp-1", nil)
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if id != "build-1" {
		t.Fatalf("expected build-1, got %q", id)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewBuildServiceClient(srv.URL)
	_, err := client.StartBuild(context.Background(), "bp-1", nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", statusErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestRegistryImageExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/repositories/shop/images/v1":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewRegistryClient(srv.URL)
	exists, err := client.ImageExists(context.Background(), "shop", "v1")
	if err != nil {
		t.Fatalf("ImageExists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("expected image to exist")
	}

	exists, err = client.ImageExists(context.Background(), "shop", "ghost")
	if err != nil {
		t.Fatalf("a missing image is not an error: %v", err)
	}
	if exists {
		t.Fatalf("expected image to be missing")
	}
}

func TestRuntimeGetStatusBuildsEndpointOnlyWhenActive(t *testing.T) {
	responses := map[string]map[string]any{
		"/v1/deployments/dep-active": {
			"deployment_id": "dep-active",
			"status":        "ACTIVE",
			"endpoint_url":  "https://dep-active.gateway.local/mcp",
		},
		"/v1/deployments/dep-creating": {
			"deployment_id": "dep-creating",
			"status":        "CREATING",
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	client := NewRuntimeClient(srv.URL)

	active, err := client.GetStatus(context.Background(), "dep-active")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if active.Status != domain.DeploymentActive {
		t.Fatalf("expected ACTIVE, got %s", active.Status)
	}
	if active.Endpoint == nil || !active.Endpoint.AuthRequired {
		t.Fatalf("expected an auth-protected endpoint, got %+v", active.Endpoint)
	}

	creating, err := client.GetStatus(context.Background(), "dep-creating")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if creating.Endpoint != nil {
		t.Fatalf("no endpoint should exist before ACTIVE, got %+v", creating.Endpoint)
	}
}
