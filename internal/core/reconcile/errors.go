// Package reconcile contains pure planning logic for converging remote
// resource state to declared state. This is part of the Functional Core -
// all functions are pure with no I/O; applying plans is the shell
// reconciler's job.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrImmutableConflict is returned when declared and observed state
	// diverge in an attribute that cannot be changed in place. Replacement
	// is only permitted as an explicit destroy-then-create operation.
	ErrImmutableConflict = errors.New("immutable attribute conflict")

	// ErrPartialApply is returned when some resources in a module were
	// applied before a failure. The error carries the succeeded resources
	// so a retry can skip them.
	ErrPartialApply = errors.New("module partially applied")

	// ErrReconciliationFailed is returned when transient-failure retries
	// are exhausted for a resource.
	ErrReconciliationFailed = errors.New("reconciliation failed")

	// ErrUnresolvedReference is returned when a ${resource.output}
	// placeholder names a sibling or output that produced no value.
	// Passing the raw placeholder to a cloud API is never correct.
	ErrUnresolvedReference = errors.New("unresolved resource reference")
)

// ImmutableConflictError identifies the resource and attribute that would
// require a destructive replace.
type ImmutableConflictError struct {
	Module    string
	Kind      string
	Resource  string
	Attribute string
	Declared  string
	Observed  string
}

func (e *ImmutableConflictError) Error() string {
	return fmt.Sprintf("module %s resource %s (%s): immutable attribute %s changed (declared %q, observed %q); replacement requires an explicit destroy",
		e.Module, e.Resource, e.Kind, e.Attribute, e.Declared, e.Observed)
}

func (e *ImmutableConflictError) Unwrap() error {
	return ErrImmutableConflict
}

// PartialApplyError reports a module apply that failed after some resources
// succeeded. Succeeded lists resource names in apply order.
type PartialApplyError struct {
	Module    string
	Succeeded []string
	Failed    string
	Err       error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("module %s partially applied (succeeded: %s; failed: %s): %v",
		e.Module, strings.Join(e.Succeeded, ", "), e.Failed, e.Err)
}

func (e *PartialApplyError) Unwrap() []error {
	return []error{ErrPartialApply, e.Err}
}
