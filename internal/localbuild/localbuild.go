// Package localbuild implements the build backend against the local Docker
// daemon. It is meant for development machines where no remote build
// service is available; jobs walk the same phase sequence the remote
// service reports, so the monitor behaves identically.
package localbuild

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/google/uuid"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/service/build"
)

// Backend builds images with the local Docker daemon.
type Backend struct {
	docker *client.Client
	logger *slog.Logger

	mu       sync.Mutex
	projects map[string]domain.BuildProjectSpec
	jobs     map[string]*domain.BuildJob
}

// New creates a Backend using Docker environment defaults. host overrides
// DOCKER_HOST when non-empty.
func New(host string, logger *slog.Logger) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Backend{
		docker:   inner,
		logger:   logger,
		projects: make(map[string]domain.BuildProjectSpec),
		jobs:     make(map[string]*domain.BuildJob),
	}, nil
}

// Close releases the underlying Docker client.
func (b *Backend) Close() error {
	if b.docker == nil {
		return nil
	}
	return b.docker.Close()
}

// CreateProjectIfAbsent registers the spec under a stable local project id.
func (b *Backend) CreateProjectIfAbsent(ctx context.Context, spec domain.BuildProjectSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("project name cannot be empty")
	}
	projectID := "local-" + spec.Name
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.projects[projectID]; !ok {
		b.projects[projectID] = spec
	}
	return projectID, nil
}

// StartBuild launches an asynchronous image build and returns its id.
func (b *Backend) StartBuild(ctx context.Context, projectID string, env map[string]string) (string, error) {
	b.mu.Lock()
	spec, ok := b.projects[projectID]
	if !ok {
		b.mu.Unlock()
		return "", fmt.Errorf("unknown project %s", projectID)
	}
	buildID := uuid.NewString()
	b.jobs[buildID] = &domain.BuildJob{
		ID:     buildID,
		Phase:  domain.PhaseSubmitted,
		Status: domain.BuildStatusInProgress,
	}
	b.mu.Unlock()

	go b.run(buildID, spec, env)
	return buildID, nil
}

// GetBuild returns a snapshot of the job state.
func (b *Backend) GetBuild(ctx context.Context, buildID string) (domain.BuildJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[buildID]
	if !ok {
		return domain.BuildJob{}, build.ErrNotFound
	}
	return *job, nil
}

var _ build.Watcher = (*Backend)(nil)

// EnsureRepository is a no-op locally: images live in the daemon under
// their repository name.
func (b *Backend) EnsureRepository(ctx context.Context, name string) (string, error) {
	return name, nil
}

// ImageExists checks the local daemon for the tagged image.
func (b *Backend) ImageExists(ctx context.Context, name, tag string) (bool, error) {
	_, _, err := b.docker.ImageInspectWithRaw(ctx, name+":"+tag)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect image %s:%s: %w", name, tag, err)
	}
	return true, nil
}

func (b *Backend) run(buildID string, spec domain.BuildProjectSpec, env map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	b.setPhase(buildID, domain.PhaseProvisioning)
	if _, err := b.docker.Ping(ctx); err != nil {
		b.finish(buildID, domain.BuildStatusFailed, "")
		b.logger.Error("docker daemon unreachable", "build_id", buildID, "error", err)
		return
	}

	tag := fmt.Sprintf("%s:%s", spec.Repository, shortID(buildID))

	b.setPhase(buildID, domain.PhaseBuild)
	if err := b.buildImage(ctx, buildID, spec.SourceRef, tag, env); err != nil {
		b.finish(buildID, domain.BuildStatusFailed, "")
		b.logger.Error("image build failed", "build_id", buildID, "error", err)
		return
	}

	b.setPhase(buildID, domain.PhaseFinalizing)
	b.finish(buildID, domain.BuildStatusSucceeded, tag)
	b.logger.Info("image built", "build_id", buildID, "artifact_ref", tag)
}

func (b *Backend) buildImage(ctx context.Context, buildID, dir, tag string, env map[string]string) error {
	if dir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	buildArgs := make(map[string]*string, len(env))
	for k, v := range env {
		value := v
		buildArgs[k] = &value
	}
	opts := types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
		BuildArgs:   buildArgs,
	}
	resp, err := b.docker.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := msg.render(); line != "" {
			b.logger.Debug("build output", "build_id", buildID, "line", line)
		}
	}
}

func (b *Backend) setPhase(buildID string, phase domain.BuildPhase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.jobs[buildID]; ok && !job.Complete {
		job.Phase = phase
	}
}

func (b *Backend) finish(buildID string, status domain.BuildStatus, artifactRef string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.jobs[buildID]; ok {
		if status == domain.BuildStatusSucceeded {
			job.Phase = domain.PhaseCompleted
		}
		job.Status = status
		job.Complete = true
		job.ArtifactRef = artifactRef
	}
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

type imageBuildMessage struct {
	Stream      string                `json:"stream"`
	Status      string                `json:"status"`
	ID          string                `json:"id"`
	Progress    string                `json:"progress"`
	Error       string                `json:"error"`
	ErrorDetail imageBuildErrorDetail `json:"errorDetail"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m imageBuildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimSpace(m.Stream)
	}
	if m.Status == "" {
		return ""
	}
	parts := make([]string, 0, 3)
	if strings.TrimSpace(m.ID) != "" {
		parts = append(parts, strings.TrimSpace(m.ID))
	}
	parts = append(parts, strings.TrimSpace(m.Status))
	if progress := strings.TrimSpace(m.Progress); progress != "" {
		parts = append(parts, progress)
	}
	return strings.Join(parts, " ")
}
