// Package rollout contains the deployment run state machine driven by the
// shell pipelines. This is part of the Functional Core - all functions are
// pure with no I/O.
package rollout

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidStageTransition = errors.New("invalid stage transition")
	ErrArtifactRequired       = errors.New("artifact reference is required")
	ErrEnvironmentRequired    = errors.New("environment is required")
	ErrInvalidSubstrate       = errors.New("invalid substrate")
	ErrApprovalNotRequired    = errors.New("run does not await approval")
	ErrAlreadyDecided         = errors.New("approval already decided")
)

// =============================================================================
// Substrates
// =============================================================================

// Substrate identifies one of the two interchangeable deployment targets.
type Substrate string

const (
	// SubstrateA is the serverless container scheduler behind a load balancer.
	SubstrateA Substrate = "a"
	// SubstrateB is the managed cluster with a mesh sidecar.
	SubstrateB Substrate = "b"
)

// IsValid checks if the substrate is supported.
func (s Substrate) IsValid() bool {
	return s == SubstrateA || s == SubstrateB
}

// =============================================================================
// Stages
// =============================================================================

// Stage represents the pipeline stage of a deployment run.
type Stage string

const (
	StageBuild         Stage = "build"
	StagePublish       Stage = "publish"
	StageAwaitApproval Stage = "await_approval"
	StageRelease       Stage = "release"
	StageVerify        Stage = "verify"
	StageSucceeded     Stage = "succeeded"
	StageFailed        Stage = "failed"
)

// IsTerminal returns true if no further transitions are possible.
func (s Stage) IsTerminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// validStageTransitions defines the allowed transitions. Stages are strictly
// monotonic: no stage is ever revisited. AwaitApproval is entered only for
// protected environments; non-protected pipelines go Publish -> Release.
var validStageTransitions = map[Stage][]Stage{
	StageBuild:         {StagePublish, StageFailed},
	StagePublish:       {StageAwaitApproval, StageRelease, StageFailed},
	StageAwaitApproval: {StageRelease, StageFailed},
	StageRelease:       {StageVerify, StageFailed},
	StageVerify:        {StageSucceeded, StageFailed},
	StageSucceeded:     {},
	StageFailed:        {},
}

// ValidateStageTransition checks if a stage transition is valid.
func ValidateStageTransition(from, to Stage) error {
	for _, s := range validStageTransitions[from] {
		if s == to {
			return nil
		}
	}
	return ErrInvalidStageTransition
}

// =============================================================================
// Approval State
// =============================================================================

// ApprovalState tracks the approval gate decision for a run.
type ApprovalState string

const (
	ApprovalNotRequired ApprovalState = "not_required"
	ApprovalPending     ApprovalState = "pending"
	ApprovalApproved    ApprovalState = "approved"
	ApprovalRejected    ApprovalState = "rejected"
)

// Decision is an approval gate outcome delivered by an external actor.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// IsValid checks if the decision is one of the two allowed outcomes.
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// =============================================================================
// Deployment Run
// =============================================================================

// Run is one pipeline execution for an (environment, substrate) pair and an
// immutable artifact reference.
type Run struct {
	ID            string        `json:"id"`
	Environment   string        `json:"environment"`
	Substrate     Substrate     `json:"substrate"`
	ArtifactRef   string        `json:"artifact_ref"`
	Stage         Stage         `json:"stage"`
	ApprovalState ApprovalState `json:"approval_state"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// GenerateRunID generates a new run ID.
func GenerateRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// NewRun creates a run in the Build stage. protected decides whether the
// approval gate will activate.
func NewRun(environment string, substrate Substrate, artifactRef string, protected bool) (*Run, error) {
	if environment == "" {
		return nil, ErrEnvironmentRequired
	}
	if !substrate.IsValid() {
		return nil, ErrInvalidSubstrate
	}
	if artifactRef == "" {
		return nil, ErrArtifactRequired
	}
	approval := ApprovalNotRequired
	if protected {
		approval = ApprovalPending
	}
	now := time.Now()
	return &Run{
		ID:            GenerateRunID(),
		Environment:   environment,
		Substrate:     substrate,
		ArtifactRef:   artifactRef,
		Stage:         StageBuild,
		ApprovalState: approval,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// RequiresApproval reports whether the run must pass the approval gate
// before Release.
func (r *Run) RequiresApproval() bool {
	return r.ApprovalState != ApprovalNotRequired
}

// Transition moves the run to a new stage, enforcing monotonicity.
func (r *Run) Transition(to Stage) error {
	if err := ValidateStageTransition(r.Stage, to); err != nil {
		return err
	}
	r.Stage = to
	r.UpdatedAt = time.Now()
	if to.IsTerminal() {
		now := time.Now()
		r.CompletedAt = &now
	}
	return nil
}

// Fail transitions the run to Failed recording the cause. Failing a
// terminal run is a no-op so late errors cannot resurrect a finished run.
func (r *Run) Fail(message string) {
	if r.Stage.IsTerminal() {
		return
	}
	r.Stage = StageFailed
	r.ErrorMessage = message
	now := time.Now()
	r.UpdatedAt = now
	r.CompletedAt = &now
}

// Decide records the approval gate outcome.
func (r *Run) Decide(d Decision) error {
	if r.ApprovalState == ApprovalNotRequired {
		return ErrApprovalNotRequired
	}
	if r.ApprovalState != ApprovalPending {
		return ErrAlreadyDecided
	}
	switch d {
	case DecisionApproved:
		r.ApprovalState = ApprovalApproved
	case DecisionRejected:
		r.ApprovalState = ApprovalRejected
	default:
		return ErrApprovalNotRequired
	}
	r.UpdatedAt = time.Now()
	return nil
}
