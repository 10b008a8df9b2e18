// Package build watches remote build jobs until completion and derives
// human-readable progress from the observed phases.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peregrinehq/gangway/internal/domain"
)

// ErrNotFound indicates the build id is unknown to the backend.
var ErrNotFound = errors.New("build: not found")

const defaultPollInterval = 5 * time.Second

// Watcher is the slice of the build backend the monitor needs.
type Watcher interface {
	GetBuild(ctx context.Context, buildID string) (domain.BuildJob, error)
}

// Result is the terminal state of a watched build.
type Result struct {
	BuildID     string
	Status      domain.BuildStatus
	Phase       domain.BuildPhase
	ArtifactRef string
}

// ProgressFunc is invoked once per observed phase change.
type ProgressFunc func(domain.BuildProgress)

// Monitor polls a build backend at a fixed interval.
type Monitor struct {
	backend  Watcher
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor constructs a Monitor. A non-positive interval falls back to
// the 5 second default.
func NewMonitor(backend Watcher, interval time.Duration, logger *slog.Logger) Monitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return Monitor{backend: backend, interval: interval, logger: logger}
}

// PollUntilComplete polls the build until it reports completion, invoking
// onProgress on every observed phase change. The terminal result carries
// the build status; a failed build is a valid result, not an error.
func (m Monitor) PollUntilComplete(ctx context.Context, buildID string, onProgress ProgressFunc) (Result, error) {
	var lastPhase domain.BuildPhase
	for {
		job, err := m.backend.GetBuild(ctx, buildID)
		if err != nil {
			return Result{}, fmt.Errorf("poll build %s: %w", buildID, err)
		}
		if job.Phase != lastPhase {
			lastPhase = job.Phase
			progress := Progress(job)
			m.logger.Info("build phase observed", "build_id", buildID, "phase", job.Phase, "percent", progress.Percent)
			if onProgress != nil {
				onProgress(progress)
			}
		}
		if job.Complete {
			return Result{
				BuildID:     job.ID,
				Status:      job.Status,
				Phase:       job.Phase,
				ArtifactRef: job.ArtifactRef,
			}, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(m.interval):
		}
	}
}

// Progress derives the best-effort progress view for a build job. Phases
// can repeat on transient retries, so the percentage is not guaranteed to
// be monotonic.
func Progress(job domain.BuildJob) domain.BuildProgress {
	total := len(domain.OrderedBuildPhases)
	percent := 0
	if idx := domain.PhaseIndex(job.Phase); idx >= 0 {
		percent = (idx + 1) * 100 / total
	}
	return domain.BuildProgress{
		BuildID:    job.ID,
		Phase:      string(job.Phase),
		Status:     string(job.Status),
		Percent:    percent,
		Message:    phaseMessage(job),
		ObservedAt: time.Now().UTC(),
	}
}

func phaseMessage(job domain.BuildJob) string {
	switch job.Phase {
	case domain.PhaseSubmitted:
		return "build submitted"
	case domain.PhaseQueued:
		return "waiting for a build worker"
	case domain.PhaseProvisioning:
		return "provisioning build environment"
	case domain.PhaseDownloadSource:
		return "downloading source"
	case domain.PhaseInstall:
		return "installing dependencies"
	case domain.PhasePreBuild:
		return "running pre-build steps"
	case domain.PhaseBuild:
		return "building container image"
	case domain.PhasePostBuild:
		return "running post-build steps"
	case domain.PhaseUploadArtifacts:
		return "uploading artifacts"
	case domain.PhaseFinalizing:
		return "finalizing build"
	case domain.PhaseCompleted:
		if job.Status == domain.BuildStatusFailed {
			return "build failed"
		}
		return "build completed"
	default:
		return "build in progress"
	}
}

// FailureHint suggests a remediation for a failure in the given phase.
func FailureHint(phase domain.BuildPhase) string {
	switch phase {
	case domain.PhasePreBuild:
		return "pre-build failed: check that the build role has permission to authenticate with the registry"
	case domain.PhaseBuild:
		return "build failed: check the packaging configuration and build commands"
	case domain.PhaseDownloadSource:
		return "source download failed: verify the source reference is reachable"
	case domain.PhaseUploadArtifacts:
		return "artifact upload failed: check registry permissions and quota"
	default:
		return "inspect the remote build logs for the failing phase"
	}
}
