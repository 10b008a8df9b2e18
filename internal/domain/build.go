package domain

import "time"

// BuildPhase identifies a stage of a remote build job.
type BuildPhase string

// Build phases in the order the remote build service walks through them.
const (
	PhaseSubmitted       BuildPhase = "SUBMITTED"
	PhaseQueued          BuildPhase = "QUEUED"
	PhaseProvisioning    BuildPhase = "PROVISIONING"
	PhaseDownloadSource  BuildPhase = "DOWNLOAD_SOURCE"
	PhaseInstall         BuildPhase = "INSTALL"
	PhasePreBuild        BuildPhase = "PRE_BUILD"
	PhaseBuild           BuildPhase = "BUILD"
	PhasePostBuild       BuildPhase = "POST_BUILD"
	PhaseUploadArtifacts BuildPhase = "UPLOAD_ARTIFACTS"
	PhaseFinalizing      BuildPhase = "FINALIZING"
	PhaseCompleted       BuildPhase = "COMPLETED"
)

// OrderedBuildPhases lists every phase in expected order. Progress is
// derived from a phase's index in this slice; the remote system may revisit
// phases on transient retries, so derived percentages are best effort.
var OrderedBuildPhases = []BuildPhase{
	PhaseSubmitted,
	PhaseQueued,
	PhaseProvisioning,
	PhaseDownloadSource,
	PhaseInstall,
	PhasePreBuild,
	PhaseBuild,
	PhasePostBuild,
	PhaseUploadArtifacts,
	PhaseFinalizing,
	PhaseCompleted,
}

// BuildProjectSpec describes a build project to create or reuse on the
// remote build service.
type BuildProjectSpec struct {
	Name       string `json:"name"`
	SourceRef  string `json:"source_ref"`
	Repository string `json:"repository"`
}

// BuildStatus is the terminal outcome reported by the build service.
type BuildStatus string

const (
	BuildStatusInProgress BuildStatus = "IN_PROGRESS"
	BuildStatusSucceeded  BuildStatus = "SUCCEEDED"
	BuildStatusFailed     BuildStatus = "FAILED"
)

// BuildJob is the remote build service's view of one build. It is mutated
// only by polling and is immutable once Complete is true.
type BuildJob struct {
	ID          string
	Phase       BuildPhase
	Status      BuildStatus
	Complete    bool
	ArtifactRef string
}

// BuildProgress is a derived, never-persisted view of a build job.
type BuildProgress struct {
	BuildID    string    `json:"build_id"`
	Phase      string    `json:"phase"`
	Status     string    `json:"status"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message"`
	ObservedAt time.Time `json:"observed_at"`
}

// PhaseIndex returns the position of phase in the ordered phase list, or -1
// when the phase is unknown.
func PhaseIndex(phase BuildPhase) int {
	for i, p := range OrderedBuildPhases {
		if p == phase {
			return i
		}
	}
	return -1
}
