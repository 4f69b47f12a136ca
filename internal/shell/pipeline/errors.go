package pipeline

import "errors"

var (
	// ErrPublishFailed is returned when the artifact could not be retagged
	// into the release channel within the attempt budget.
	ErrPublishFailed = errors.New("artifact publish failed")

	// ErrArtifactNotFound is returned when the artifact reference names an
	// image the registry does not hold.
	ErrArtifactNotFound = errors.New("artifact not found in registry")

	// ErrReleaseTimeout is returned when a release did not stabilize within
	// its timeout. Applied infrastructure is left in place.
	ErrReleaseTimeout = errors.New("release timed out")

	// ErrGateRejected marks a run stopped by an operator rejection. The stop
	// is terminal but intentional; nothing was mutated after the gate.
	ErrGateRejected = errors.New("release rejected at approval gate")

	// ErrNoPendingRun is returned when a decision arrives for a run that is
	// not waiting at the gate.
	ErrNoPendingRun = errors.New("run is not awaiting approval")

	// ErrMissingPipelineInput is returned when a required provisioning
	// output (registry address, cluster endpoint, messaging outputs) is
	// absent before the pipeline starts.
	ErrMissingPipelineInput = errors.New("missing pipeline input")
)
