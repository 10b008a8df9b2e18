package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/service/build"
)

// BuildServiceClient talks to the remote build service.
type BuildServiceClient struct {
	base string
	http *http.Client
}

// NewBuildServiceClient constructs a client for the given base URL.
func NewBuildServiceClient(base string) *BuildServiceClient {
	return &BuildServiceClient{base: base, http: newHTTPClient()}
}

// CreateProjectIfAbsent ensures a build project exists and returns its id.
func (c *BuildServiceClient) CreateProjectIfAbsent(ctx context.Context, spec domain.BuildProjectSpec) (string, error) {
	var resp struct {
		ProjectID string `json:"project_id"`
	}
	if err := doJSON(ctx, c.http, http.MethodPost, c.base+"/v1/projects", spec, &resp); err != nil {
		return "", fmt.Errorf("create build project: %w", err)
	}
	return resp.ProjectID, nil
}

// StartBuild triggers a build for a project and returns the build id.
func (c *BuildServiceClient) StartBuild(ctx context.Context, projectID string, env map[string]string) (string, error) {
	body := struct {
		Env map[string]string `json:"env,omitempty"`
	}{Env: env}
	var resp struct {
		BuildID string `json:"build_id"`
	}
	endpoint := fmt.Sprintf("%s/v1/projects/%s/builds", c.base, url.PathEscape(projectID))
	if err := doJSON(ctx, c.http, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", fmt.Errorf("start build: %w", err)
	}
	return resp.BuildID, nil
}

// GetBuild fetches the current state of a build job.
func (c *BuildServiceClient) GetBuild(ctx context.Context, buildID string) (domain.BuildJob, error) {
	var resp struct {
		BuildID     string `json:"build_id"`
		Phase       string `json:"phase"`
		Status      string `json:"status"`
		Complete    bool   `json:"complete"`
		ArtifactRef string `json:"artifact_ref"`
	}
	endpoint := fmt.Sprintf("%s/v1/builds/%s", c.base, url.PathEscape(buildID))
	if err := doJSON(ctx, c.http, http.MethodGet, endpoint, nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.BuildJob{}, fmt.Errorf("get build %s: %w", buildID, build.ErrNotFound)
		}
		return domain.BuildJob{}, fmt.Errorf("get build %s: %w", buildID, err)
	}
	return domain.BuildJob{
		ID:          resp.BuildID,
		Phase:       domain.BuildPhase(resp.Phase),
		Status:      domain.BuildStatus(resp.Status),
		Complete:    resp.Complete,
		ArtifactRef: resp.ArtifactRef,
	}, nil
}
