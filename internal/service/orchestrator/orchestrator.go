// Package orchestrator sequences build, identity provisioning, deploy and
// health verification into a single deployment workflow with rollback on
// failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/faults"
	"github.com/peregrinehq/gangway/internal/repository"
	"github.com/peregrinehq/gangway/internal/service/build"
	"github.com/peregrinehq/gangway/internal/service/health"
	"github.com/peregrinehq/gangway/internal/service/identity"
	"github.com/peregrinehq/gangway/internal/service/rollback"
)

// Phase identifies a step of the deployment workflow.
type Phase string

const (
	PhaseConfiguring    Phase = "CONFIGURING"
	PhaseBuilding       Phase = "BUILDING"
	PhaseAuthenticating Phase = "AUTHENTICATING"
	PhaseDeploying      Phase = "DEPLOYING"
	PhaseVerifying      Phase = "VERIFYING"
	PhaseCompleted      Phase = "COMPLETED"
)

// StepStatus is the outcome of a single workflow phase.
type StepStatus string

const (
	StatusInProgress StepStatus = "IN_PROGRESS"
	StatusSuccess    StepStatus = "SUCCESS"
	StatusFailed     StepStatus = "FAILED"
	StatusRolledBack StepStatus = "ROLLED_BACK"
)

// StepEvent reports a phase transition to the progress callback.
type StepEvent struct {
	Phase   Phase
	Status  StepStatus
	Message string
}

// Request describes one deployment invocation.
type Request struct {
	ProjectName string
	SourceRef   string
	Repository  string
	ArtifactRef string
	Identity    domain.IdentityConfig
	BuildEnv    map[string]string
}

// Result is the structured outcome of a full workflow run. Run never
// returns a raw error: failures are carried here.
type Result struct {
	Success         bool
	DeploymentID    string
	ArtifactRef     string
	Endpoint        *domain.Endpoint
	Identity        domain.IdentityConfig
	Credentials     *identity.ClientCredentials
	Message         string
	Err             *faults.Error
	RollbackAttempt bool
	RollbackMessage string
	Steps           []StepEvent
}

// BuildService triggers remote builds.
type BuildService interface {
	CreateProjectIfAbsent(ctx context.Context, spec domain.BuildProjectSpec) (string, error)
	StartBuild(ctx context.Context, projectID string, env map[string]string) (string, error)
}

// Registry answers artifact repository questions.
type Registry interface {
	EnsureRepository(ctx context.Context, name string) (string, error)
	ImageExists(ctx context.Context, name, tag string) (bool, error)
}

// Runtime deploys artifacts and reports deployment status.
type Runtime interface {
	Deploy(ctx context.Context, spec domain.DeploySpec) (string, error)
	GetStatus(ctx context.Context, deploymentID string) (domain.Deployment, error)
}

// Verifier checks a deployment's health.
type Verifier interface {
	Verify(ctx context.Context, dep domain.Deployment) (health.Report, error)
}

// Rollbacker reverts failed deployments.
type Rollbacker interface {
	Rollback(ctx context.Context, failed domain.Deployment, projectID string) rollback.Result
}

// Orchestrator runs the deployment workflow. A single Orchestrator is safe
// for concurrent Run invocations; each run sleeps between polls on its own
// goroutine and never blocks other runs.
type Orchestrator struct {
	builds      BuildService
	monitor     build.Monitor
	registry    Registry
	provisioner identity.Provisioner
	runtime     Runtime
	verifier    Verifier
	rollback    Rollbacker
	history     repository.HistoryRepository
	logger      *slog.Logger

	pollInterval  time.Duration
	deployTimeout time.Duration
	onStep        func(StepEvent)
}

// Option tweaks orchestrator behavior.
type Option func(*Orchestrator)

// WithPollInterval overrides the deployment status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithDeployTimeout overrides the bound on deployment status polling.
func WithDeployTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deployTimeout = d
		}
	}
}

// WithStepCallback registers a callback invoked on every phase transition.
func WithStepCallback(fn func(StepEvent)) Option {
	return func(o *Orchestrator) { o.onStep = fn }
}

// New constructs an Orchestrator.
func New(builds BuildService, monitor build.Monitor, registry Registry, provisioner identity.Provisioner,
	runtime Runtime, verifier Verifier, rollbacker Rollbacker, history repository.HistoryRepository,
	logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		builds:        builds,
		monitor:       monitor,
		registry:      registry,
		provisioner:   provisioner,
		runtime:       runtime,
		verifier:      verifier,
		rollback:      rollbacker,
		history:       history,
		logger:        logger,
		pollInterval:  5 * time.Second,
		deployTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full workflow for one deployment request. It always
// returns a structured result; callers never see a raw error.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	result := Result{Identity: req.Identity}

	o.step(&result, PhaseConfiguring, StatusInProgress, "validating deployment configuration")
	if err := validate(req); err != nil {
		o.step(&result, PhaseConfiguring, StatusFailed, err.Error())
		return o.failWithoutRollback(result, err)
	}
	o.step(&result, PhaseConfiguring, StatusSuccess, "configuration valid")

	// Nothing remote exists yet, so cancellation here needs no cleanup.
	if err := ctx.Err(); err != nil {
		return o.failWithoutRollback(result, faults.Wrap(faults.CategoryConfig, faults.CodeTimeout, "deployment cancelled before build trigger", err))
	}

	artifactRef, err := o.runBuild(ctx, req, &result)
	if err != nil {
		return o.fail(ctx, req, result, "", err)
	}
	result.ArtifactRef = artifactRef

	o.step(&result, PhaseAuthenticating, StatusInProgress, "ensuring identity infrastructure")
	idCfg, creds, err := o.provisioner.Ensure(ctx, req.Identity, req.ProjectName)
	if err != nil {
		o.step(&result, PhaseAuthenticating, StatusFailed, err.Error())
		return o.fail(ctx, req, result, "", err)
	}
	result.Identity = idCfg
	result.Credentials = creds
	o.step(&result, PhaseAuthenticating, StatusSuccess, "identity configuration ready")

	o.step(&result, PhaseDeploying, StatusInProgress, "submitting deployment to runtime")
	deploymentID, dep, err := o.deployAndWait(ctx, req, artifactRef, idCfg)
	result.DeploymentID = deploymentID
	if err != nil {
		o.step(&result, PhaseDeploying, StatusFailed, err.Error())
		return o.fail(ctx, req, result, deploymentID, err)
	}
	o.step(&result, PhaseDeploying, StatusSuccess, "deployment is active")

	o.step(&result, PhaseVerifying, StatusInProgress, "verifying deployment health")
	report, err := o.verifier.Verify(ctx, dep)
	if err != nil {
		o.step(&result, PhaseVerifying, StatusFailed, err.Error())
		return o.fail(ctx, req, result, deploymentID, err)
	}
	result.Endpoint = report.Endpoint
	o.step(&result, PhaseVerifying, StatusSuccess, "deployment healthy")

	o.recordHistory(ctx, req.ProjectName, deploymentID, artifactRef, domain.HistorySuccess, report.Endpoint, "deployment succeeded")

	result.Success = true
	result.Message = "deployment succeeded"
	o.step(&result, PhaseCompleted, StatusSuccess, result.Message)
	o.logger.Info("deployment completed", "project", req.ProjectName, "deployment_id", deploymentID, "endpoint", report.Endpoint.URL)
	return result
}

// validate collects every missing precondition instead of failing on the
// first one.
func validate(req Request) error {
	var missing []string
	if strings.TrimSpace(req.ProjectName) == "" {
		missing = append(missing, "project name")
	}
	if req.ArtifactRef == "" && (req.SourceRef == "" || req.Repository == "") {
		missing = append(missing, "artifact reference (or a source ref and repository to build one)")
	}
	if req.Identity.PoolID != "" && req.Identity.ClientID == "" {
		missing = append(missing, "identity client id")
	}
	if req.Identity.ClientID != "" && req.Identity.PoolID == "" {
		missing = append(missing, "identity pool id")
	}
	if len(missing) > 0 {
		return faults.New(faults.CategoryConfig, faults.CodeMissingParameters,
			"missing required configuration: "+strings.Join(missing, ", "))
	}
	return nil
}

func (o *Orchestrator) runBuild(ctx context.Context, req Request, result *Result) (string, error) {
	o.step(result, PhaseBuilding, StatusInProgress, "preparing artifact")

	if req.ArtifactRef != "" {
		name, tag := splitArtifactRef(req.ArtifactRef)
		exists, err := o.registry.ImageExists(ctx, name, tag)
		if err != nil {
			o.step(result, PhaseBuilding, StatusFailed, err.Error())
			return "", faults.Wrap(faults.CategoryBuild, faults.CodeBuildFailed, "check artifact in registry", err)
		}
		if !exists {
			err := faults.New(faults.CategoryBuild, faults.CodeBuildNotFound,
				fmt.Sprintf("artifact %s not found in registry", req.ArtifactRef))
			o.step(result, PhaseBuilding, StatusFailed, err.Message)
			return "", err
		}
		o.step(result, PhaseBuilding, StatusSuccess, "reusing existing artifact "+req.ArtifactRef)
		return req.ArtifactRef, nil
	}

	repoURI, err := o.registry.EnsureRepository(ctx, req.Repository)
	if err != nil {
		o.step(result, PhaseBuilding, StatusFailed, err.Error())
		return "", faults.Wrap(faults.CategoryBuild, faults.CodeBuildFailed, "ensure artifact repository", err)
	}

	projectID, err := o.builds.CreateProjectIfAbsent(ctx, domain.BuildProjectSpec{
		Name:       req.ProjectName,
		SourceRef:  req.SourceRef,
		Repository: repoURI,
	})
	if err != nil {
		o.step(result, PhaseBuilding, StatusFailed, err.Error())
		return "", faults.Wrap(faults.CategoryBuild, faults.CodeBuildFailed, "create build project", err)
	}

	buildID, err := o.builds.StartBuild(ctx, projectID, req.BuildEnv)
	if err != nil {
		o.step(result, PhaseBuilding, StatusFailed, err.Error())
		return "", faults.Wrap(faults.CategoryBuild, faults.CodeBuildFailed, "start build", err)
	}
	o.logger.Info("build started", "project", req.ProjectName, "build_id", buildID)

	buildResult, err := o.monitor.PollUntilComplete(ctx, buildID, func(p domain.BuildProgress) {
		o.step(result, PhaseBuilding, StatusInProgress, fmt.Sprintf("%s (%d%%)", p.Message, p.Percent))
	})
	if err != nil {
		o.step(result, PhaseBuilding, StatusFailed, err.Error())
		if errors.Is(err, build.ErrNotFound) {
			return "", faults.Wrap(faults.CategoryBuild, faults.CodeBuildNotFound, "build disappeared while polling", err)
		}
		return "", faults.Wrap(faults.CategoryBuild, faults.CodeBuildFailed, "poll build", err)
	}
	if buildResult.Status != domain.BuildStatusSucceeded {
		ferr := faults.New(faults.CategoryBuild, faults.CodeBuildFailed,
			fmt.Sprintf("build %s failed in phase %s", buildID, buildResult.Phase))
		ferr.Suggestions = append([]string{build.FailureHint(buildResult.Phase)}, ferr.Suggestions...)
		o.step(result, PhaseBuilding, StatusFailed, ferr.Message)
		return "", ferr
	}

	o.step(result, PhaseBuilding, StatusSuccess, "artifact built: "+buildResult.ArtifactRef)
	return buildResult.ArtifactRef, nil
}

// deployAndWait submits the deployment and polls status until ACTIVE,
// FAILED or the deploy timeout elapses.
func (o *Orchestrator) deployAndWait(ctx context.Context, req Request, artifactRef string, idCfg domain.IdentityConfig) (string, domain.Deployment, error) {
	deploymentID, err := o.runtime.Deploy(ctx, domain.DeploySpec{
		ProjectID:   req.ProjectName,
		ArtifactRef: artifactRef,
		Identity:    idCfg,
	})
	if err != nil {
		return "", domain.Deployment{}, faults.Wrap(faults.CategoryDeployment, faults.CodeDeployFailed, "submit deploy request", err)
	}
	o.logger.Info("deployment submitted", "project", req.ProjectName, "deployment_id", deploymentID)

	waitCtx, cancel := context.WithTimeout(ctx, o.deployTimeout)
	defer cancel()

	for {
		dep, err := o.runtime.GetStatus(waitCtx, deploymentID)
		if err == nil {
			switch dep.Status {
			case domain.DeploymentActive:
				return deploymentID, dep, nil
			case domain.DeploymentFailed:
				return deploymentID, dep, faults.New(faults.CategoryDeployment, faults.CodeDeployFailed,
					"failed during runtime initialization")
			}
		} else {
			o.logger.Warn("deployment status poll failed", "deployment_id", deploymentID, "error", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return deploymentID, domain.Deployment{}, faults.Wrap(faults.CategoryDeployment, faults.CodeDeployFailed,
					"deployment cancelled", ctx.Err())
			}
			return deploymentID, domain.Deployment{}, faults.New(faults.CategoryDeployment, faults.CodeTimeout,
				fmt.Sprintf("deployment did not become active within %s", o.deployTimeout))
		case <-time.After(o.pollInterval):
		}
	}
}

// fail synthesizes a FAILED deployment record, delegates to the rollback
// manager, and returns a failure result carrying the original error. The
// rollback outcome only affects logging and the report fields, never the
// returned error.
func (o *Orchestrator) fail(ctx context.Context, req Request, result Result, deploymentID string, cause error) Result {
	categorized := faults.Categorize(cause)
	result.Success = false
	result.Err = categorized
	result.Message = categorized.Message

	failed := domain.Deployment{
		ID:          deploymentID,
		ProjectID:   req.ProjectName,
		Status:      domain.DeploymentFailed,
		ArtifactRef: result.ArtifactRef,
		Reason:      categorized.Message,
	}

	// Rollback runs on a context detached from the (possibly cancelled)
	// workflow context so cleanup still happens.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	rb := o.rollback.Rollback(rbCtx, failed, req.ProjectName)
	result.RollbackAttempt = true
	result.RollbackMessage = rb.Message
	if rb.RestoreErr != nil {
		o.logger.Error("rollback partially failed", "project", req.ProjectName, "error", rb.RestoreErr)
	} else {
		o.logger.Info("rollback finished", "project", req.ProjectName, "message", rb.Message)
	}

	o.recordHistory(rbCtx, req.ProjectName, deploymentID, result.ArtifactRef, domain.HistoryFailed, nil, categorized.Message)
	if rb.RestoredDeploymentID != "" {
		o.recordHistory(rbCtx, req.ProjectName, rb.RestoredDeploymentID, rb.RestoredArtifactRef, domain.HistoryRolledBack, nil, rb.Message)
		o.step(&result, PhaseCompleted, StatusRolledBack, rb.Message)
	} else {
		o.step(&result, PhaseCompleted, StatusFailed, categorized.Message)
	}
	return result
}

// failWithoutRollback is for configuration failures: nothing remote was
// created, so there is nothing to clean up.
func (o *Orchestrator) failWithoutRollback(result Result, cause error) Result {
	categorized := faults.Categorize(cause)
	result.Success = false
	result.Err = categorized
	result.Message = categorized.Message
	return result
}

func (o *Orchestrator) recordHistory(ctx context.Context, projectID, deploymentID, artifactRef string, status domain.HistoryStatus, endpoint *domain.Endpoint, message string) {
	entry := &domain.DeploymentHistoryEntry{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		ArtifactRef:  artifactRef,
		Status:       status,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}
	if endpoint != nil {
		entry.EndpointURL = endpoint.URL
	}
	if err := o.history.AppendHistory(ctx, entry); err != nil {
		o.logger.Error("history append failed", "project", projectID, "status", status, "error", err)
	}
}

func (o *Orchestrator) step(result *Result, phase Phase, status StepStatus, message string) {
	event := StepEvent{Phase: phase, Status: status, Message: message}
	result.Steps = append(result.Steps, event)
	if o.onStep != nil {
		o.onStep(event)
	}
}

func splitArtifactRef(ref string) (name, tag string) {
	if idx := strings.LastIndex(ref, ":"); idx > 0 && !strings.Contains(ref[idx+1:], "/") {
		return ref[:idx], ref[idx+1:]
	}
	return ref, "latest"
}
