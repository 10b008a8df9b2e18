package domain

import "time"

// DeploymentStatus tracks the lifecycle of a deployed instance. A
// deployment moves from CREATING to exactly one terminal status.
type DeploymentStatus string

const (
	DeploymentCreating DeploymentStatus = "CREATING"
	DeploymentActive   DeploymentStatus = "ACTIVE"
	DeploymentFailed   DeploymentStatus = "FAILED"
	DeploymentUpdating DeploymentStatus = "UPDATING"
)

// Endpoint describes the public address of an active deployment. It is
// created once health verification succeeds and never mutated afterwards.
type Endpoint struct {
	URL          string `json:"url"`
	Protocol     string `json:"protocol"`
	AuthRequired bool   `json:"auth_required"`
}

// Deployment captures a single deployed instance of an artifact. Endpoint
// is non-nil iff Status is DeploymentActive.
type Deployment struct {
	ID          string
	ProjectID   string
	Status      DeploymentStatus
	ArtifactRef string
	IdentityRef string
	Endpoint    *Endpoint
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeploySpec is the request submitted to the runtime to create a
// deployment.
type DeploySpec struct {
	ProjectID   string         `json:"project_id"`
	ArtifactRef string         `json:"artifact_ref"`
	Identity    IdentityConfig `json:"identity"`
}

// HistoryStatus marks the outcome recorded in the deployment history log.
type HistoryStatus string

const (
	HistorySuccess    HistoryStatus = "SUCCESS"
	HistoryFailed     HistoryStatus = "FAILED"
	HistoryRolledBack HistoryStatus = "ROLLED_BACK"
)

// DeploymentHistoryEntry is one row of the append-only deployment log.
type DeploymentHistoryEntry struct {
	ID           string
	ProjectID    string
	DeploymentID string
	ArtifactRef  string
	Status       HistoryStatus
	EndpointURL  string
	Message      string
	CreatedAt    time.Time
}
