package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/peregrinehq/gangway/internal/domain"
)

// RuntimeClient talks to the managed compute runtime.
type RuntimeClient struct {
	base string
	http *http.Client
}

// NewRuntimeClient constructs a client for the given base URL.
func NewRuntimeClient(base string) *RuntimeClient {
	return &RuntimeClient{base: base, http: newHTTPClient()}
}

// Deploy submits the deploy spec and returns the runtime deployment id.
func (c *RuntimeClient) Deploy(ctx context.Context, spec domain.DeploySpec) (string, error) {
	var resp struct {
		DeploymentID string `json:"deployment_id"`
	}
	if err := doJSON(ctx, c.http, http.MethodPost, c.base+"/v1/deployments", spec, &resp); err != nil {
		return "", fmt.Errorf("deploy artifact: %w", err)
	}
	return resp.DeploymentID, nil
}

// GetStatus fetches the runtime's view of a deployment.
func (c *RuntimeClient) GetStatus(ctx context.Context, deploymentID string) (domain.Deployment, error) {
	var resp struct {
		DeploymentID string `json:"deployment_id"`
		ProjectID    string `json:"project_id"`
		Status       string `json:"status"`
		ArtifactRef  string `json:"artifact_ref"`
		EndpointURL  string `json:"endpoint_url"`
		Reason       string `json:"reason"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}
	endpoint := fmt.Sprintf("%s/v1/deployments/%s", c.base, url.PathEscape(deploymentID))
	if err := doJSON(ctx, c.http, http.MethodGet, endpoint, nil, &resp); err != nil {
		return domain.Deployment{}, fmt.Errorf("get deployment %s: %w", deploymentID, err)
	}
	dep := domain.Deployment{
		ID:          resp.DeploymentID,
		ProjectID:   resp.ProjectID,
		Status:      domain.DeploymentStatus(resp.Status),
		ArtifactRef: resp.ArtifactRef,
		Reason:      resp.Reason,
		CreatedAt:   resp.CreatedAt,
		UpdatedAt:   resp.UpdatedAt,
	}
	if resp.EndpointURL != "" && dep.Status == domain.DeploymentActive {
		dep.Endpoint = &domain.Endpoint{URL: resp.EndpointURL, Protocol: "https", AuthRequired: true}
	}
	return dep, nil
}

// Release tears down a deployment's resources and returns the identifiers
// the runtime reports as cleaned.
func (c *RuntimeClient) Release(ctx context.Context, deploymentID string) ([]string, error) {
	var resp struct {
		Released []string `json:"released"`
	}
	endpoint := fmt.Sprintf("%s/v1/deployments/%s", c.base, url.PathEscape(deploymentID))
	if err := doJSON(ctx, c.http, http.MethodDelete, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("release deployment %s: %w", deploymentID, err)
	}
	return resp.Released, nil
}

// ProbeLiveness issues the runtime-side liveness check for an instance.
func (c *RuntimeClient) ProbeLiveness(ctx context.Context, deploymentID, healthPath string) error {
	endpoint := fmt.Sprintf("%s/v1/deployments/%s/probe?path=%s", c.base, url.PathEscape(deploymentID), url.QueryEscape(healthPath))
	if err := doJSON(ctx, c.http, http.MethodPost, endpoint, nil, nil); err != nil {
		return fmt.Errorf("liveness probe for %s: %w", deploymentID, err)
	}
	return nil
}
