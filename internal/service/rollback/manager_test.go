package rollback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/repository"
)

type fakeRuntime struct {
	released     []string
	releaseErr   error
	releaseCalls int
	deployID     string
	deployErr    error
	deployCalls  int
	deployedSpec domain.DeploySpec
}

func (f *fakeRuntime) Release(ctx context.Context, deploymentID string) ([]string, error) {
	f.releaseCalls++
	return f.released, f.releaseErr
}

func (f *fakeRuntime) Deploy(ctx context.Context, spec domain.DeploySpec) (string, error) {
	f.deployCalls++
	f.deployedSpec = spec
	return f.deployID, f.deployErr
}

type fakeHistory struct {
	last    *domain.DeploymentHistoryEntry
	lastErr error
}

func (f *fakeHistory) AppendHistory(ctx context.Context, entry *domain.DeploymentHistoryEntry) error {
	return nil
}

func (f *fakeHistory) LastSuccessByProject(ctx context.Context, projectID string) (*domain.DeploymentHistoryEntry, error) {
	return f.last, f.lastErr
}

func (f *fakeHistory) ListHistoryByProject(ctx context.Context, projectID string, limit int) ([]domain.DeploymentHistoryEntry, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRollbackSkipsNonFailedDeployments(t *testing.T) {
	runtime := &fakeRuntime{}
	manager := NewManager(runtime, &fakeHistory{}, testLogger())

	result := manager.Rollback(context.Background(), domain.Deployment{
		ID:     "dep-1",
		Status: domain.DeploymentActive,
	}, "proj")

	if result.Performed {
		t.Fatalf("expected no rollback for ACTIVE deployment")
	}
	if runtime.releaseCalls != 0 || runtime.deployCalls != 0 {
		t.Fatalf("expected runtime untouched, got %d releases and %d deploys", runtime.releaseCalls, runtime.deployCalls)
	}
	if result.Message != "rollback not needed: deployment is not in FAILED status" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestRollbackWithoutPreviousSuccess(t *testing.T) {
	runtime := &fakeRuntime{released: []string{"endpoint", "instance"}}
	history := &fakeHistory{lastErr: repository.ErrNotFound}
	manager := NewManager(runtime, history, testLogger())

	result := manager.Rollback(context.Background(), domain.Deployment{
		ID:     "dep-2",
		Status: domain.DeploymentFailed,
	}, "proj")

	if !result.Performed {
		t.Fatalf("expected rollback to run")
	}
	if len(result.CleanedResources) != 2 {
		t.Fatalf("expected 2 cleaned resources, got %d", len(result.CleanedResources))
	}
	if result.RestoredDeploymentID != "" {
		t.Fatalf("expected no restore without history, got %q", result.RestoredDeploymentID)
	}
	if runtime.deployCalls != 0 {
		t.Fatalf("expected no redeploy, got %d", runtime.deployCalls)
	}
	if result.RestoreErr != nil {
		t.Fatalf("a missing history entry is not an error: %v", result.RestoreErr)
	}
}

func TestRollbackRestoresLastSuccess(t *testing.T) {
	runtime := &fakeRuntime{deployID: "dep-new"}
	history := &fakeHistory{last: &domain.DeploymentHistoryEntry{
		ProjectID:   "proj",
		ArtifactRef: "registry/app:42",
		Status:      domain.HistorySuccess,
	}}
	manager := NewManager(runtime, history, testLogger())

	result := manager.Rollback(context.Background(), domain.Deployment{
		ID:     "dep-3",
		Status: domain.DeploymentFailed,
	}, "proj")

	if result.RestoredDeploymentID != "dep-new" {
		t.Fatalf("expected restored deployment dep-new, got %q", result.RestoredDeploymentID)
	}
	if result.RestoredArtifactRef != "registry/app:42" {
		t.Fatalf("expected restored artifact registry/app:42, got %q", result.RestoredArtifactRef)
	}
	if runtime.deployedSpec.ArtifactRef != "registry/app:42" {
		t.Fatalf("redeploy used artifact %q", runtime.deployedSpec.ArtifactRef)
	}
}

func TestRollbackReportsPartialFailureWhenRestoreFails(t *testing.T) {
	redeployErr := errors.New("runtime rejected artifact")
	runtime := &fakeRuntime{released: []string{"instance"}, deployErr: redeployErr}
	history := &fakeHistory{last: &domain.DeploymentHistoryEntry{ArtifactRef: "registry/app:41"}}
	manager := NewManager(runtime, history, testLogger())

	result := manager.Rollback(context.Background(), domain.Deployment{
		ID:     "dep-4",
		Status: domain.DeploymentFailed,
	}, "proj")

	if !result.Performed {
		t.Fatalf("cleanup happened, rollback counts as performed")
	}
	if len(result.CleanedResources) != 1 {
		t.Fatalf("expected cleanup to be reported, got %v", result.CleanedResources)
	}
	if !errors.Is(result.RestoreErr, redeployErr) {
		t.Fatalf("expected restore error to surface, got %v", result.RestoreErr)
	}
}

func TestRollbackSkipsReleaseWithoutDeploymentID(t *testing.T) {
	runtime := &fakeRuntime{}
	history := &fakeHistory{lastErr: repository.ErrNotFound}
	manager := NewManager(runtime, history, testLogger())

	manager.Rollback(context.Background(), domain.Deployment{
		Status: domain.DeploymentFailed,
	}, "proj")

	if runtime.releaseCalls != 0 {
		t.Fatalf("expected no release for a deployment that never existed, got %d", runtime.releaseCalls)
	}
}
