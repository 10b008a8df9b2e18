// Package rollback reverts failed deployments to the last known-good
// version recorded in the history log.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/repository"
)

// Runtime is the slice of the compute runtime the manager needs.
type Runtime interface {
	Release(ctx context.Context, deploymentID string) ([]string, error)
	Deploy(ctx context.Context, spec domain.DeploySpec) (string, error)
}

// Result reports what a rollback attempt did.
type Result struct {
	Performed            bool
	CleanedResources     []string
	RestoredDeploymentID string
	RestoredArtifactRef  string
	Message              string
	RestoreErr           error
}

// Manager cleans up failed deployments and restores the previous version.
type Manager struct {
	runtime Runtime
	history repository.HistoryRepository
	logger  *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(runtime Runtime, history repository.HistoryRepository, logger *slog.Logger) Manager {
	return Manager{runtime: runtime, history: history, logger: logger}
}

// Rollback releases the failed deployment's resources and redeploys the
// most recent SUCCESS entry for the project. Deployments that are not in
// FAILED status are left untouched. A redeploy failure after successful
// cleanup is reported as a partial result, not masked.
func (m Manager) Rollback(ctx context.Context, failed domain.Deployment, projectID string) Result {
	if failed.Status != domain.DeploymentFailed {
		return Result{Performed: false, Message: "rollback not needed: deployment is not in FAILED status"}
	}

	var cleaned []string
	if failed.ID != "" {
		var err error
		cleaned, err = m.runtime.Release(ctx, failed.ID)
		if err != nil {
			m.logger.Error("resource cleanup failed", "deployment_id", failed.ID, "error", err)
		} else {
			m.logger.Info("resources released", "deployment_id", failed.ID, "count", len(cleaned))
		}
	}

	last, err := m.history.LastSuccessByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{
				Performed:        true,
				CleanedResources: cleaned,
				Message:          "cleanup complete, no previous successful deployment to restore",
			}
		}
		return Result{
			Performed:        true,
			CleanedResources: cleaned,
			Message:          "cleanup complete, history lookup failed",
			RestoreErr:       fmt.Errorf("look up last success for %s: %w", projectID, err),
		}
	}

	restoredID, err := m.runtime.Deploy(ctx, domain.DeploySpec{
		ProjectID:   projectID,
		ArtifactRef: last.ArtifactRef,
	})
	if err != nil {
		m.logger.Error("restore deployment failed", "project_id", projectID, "artifact_ref", last.ArtifactRef, "error", err)
		return Result{
			Performed:        true,
			CleanedResources: cleaned,
			Message:          "cleanup complete, restoring previous version failed",
			RestoreErr:       err,
		}
	}

	m.logger.Info("previous version restored", "project_id", projectID, "deployment_id", restoredID, "artifact_ref", last.ArtifactRef)
	return Result{
		Performed:            true,
		CleanedResources:     cleaned,
		RestoredDeploymentID: restoredID,
		RestoredArtifactRef:  last.ArtifactRef,
		Message:              fmt.Sprintf("restored previous version %s", last.ArtifactRef),
	}
}
