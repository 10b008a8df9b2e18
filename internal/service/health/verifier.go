// Package health verifies deployed instances before traffic is routed to
// them.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/faults"
)

// RuntimeProber runs the runtime-side liveness check for an instance.
type RuntimeProber interface {
	ProbeLiveness(ctx context.Context, deploymentID, healthPath string) error
}

// Report is the outcome of a verification pass.
type Report struct {
	Healthy  bool
	Endpoint *domain.Endpoint
	Status   domain.DeploymentStatus
}

// Verifier probes deployments and constructs their public endpoint.
type Verifier struct {
	prober       RuntimeProber
	client       *http.Client
	healthPath   string
	domainSuffix string
	logger       *slog.Logger
}

// NewVerifier constructs a Verifier. domainSuffix is used to derive an
// endpoint URL when the runtime did not report one.
func NewVerifier(prober RuntimeProber, healthPath, domainSuffix string, logger *slog.Logger) Verifier {
	return Verifier{
		prober:       prober,
		client:       &http.Client{Timeout: 10 * time.Second},
		healthPath:   healthPath,
		domainSuffix: domainSuffix,
		logger:       logger,
	}
}

// Verify fails closed: the deployment must be ACTIVE, the runtime liveness
// probe must pass, and the constructed endpoint must answer an independent
// accessibility probe.
func (v Verifier) Verify(ctx context.Context, dep domain.Deployment) (Report, error) {
	if dep.Status != domain.DeploymentActive {
		return Report{Status: dep.Status}, faults.New(faults.CategoryDeployment, faults.CodeInvalidState,
			fmt.Sprintf("endpoint creation requires ACTIVE status, deployment %s is %s", dep.ID, dep.Status))
	}

	if err := v.prober.ProbeLiveness(ctx, dep.ID, v.healthPath); err != nil {
		return Report{Status: dep.Status}, faults.Wrap(faults.CategoryDeployment, faults.CodeHealthCheckFailed,
			fmt.Sprintf("liveness probe failed for deployment %s", dep.ID), err)
	}

	endpoint := dep.Endpoint
	if endpoint == nil {
		endpoint = &domain.Endpoint{
			URL:          v.endpointURL(dep.ID),
			Protocol:     "https",
			AuthRequired: true,
		}
	}

	if err := v.probeAccessibility(ctx, endpoint.URL); err != nil {
		return Report{Status: dep.Status}, faults.Wrap(faults.CategoryDeployment, faults.CodeHealthCheckFailed,
			fmt.Sprintf("endpoint %s is not accessible", endpoint.URL), err)
	}

	v.logger.Info("deployment verified", "deployment_id", dep.ID, "endpoint", endpoint.URL)
	return Report{Healthy: true, Endpoint: endpoint, Status: dep.Status}, nil
}

// probeAccessibility checks the endpoint answers HTTP at all. A 401 from an
// auth-protected endpoint still proves reachability.
func (v Verifier) probeAccessibility(ctx context.Context, endpointURL string) error {
	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("endpoint answered %d", resp.StatusCode)
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
}

func (v Verifier) endpointURL(deploymentID string) string {
	suffix := v.domainSuffix
	if suffix == "" {
		suffix = ".gateway.local"
	}
	host := strings.ToLower(deploymentID) + suffix
	return "https://" + host + "/mcp"
}
