// Package stack contains pure functions for declaring and resolving the
// infrastructure module graph. This is part of the Functional Core - all
// functions are pure with no I/O.
package stack

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Manifest validation errors
	ErrEmptyManifest        = errors.New("stack manifest is empty")
	ErrNoModules            = errors.New("stack manifest must declare at least one module")
	ErrDuplicateModule      = errors.New("duplicate module name")
	ErrModuleNameRequired   = errors.New("module name is required")
	ErrResourceNameRequired = errors.New("resource name is required")
	ErrDuplicateResource    = errors.New("duplicate resource name within module")

	// Resolution errors
	ErrCyclicDependency    = errors.New("cyclic dependency between modules")
	ErrUnresolvedReference = errors.New("reference to undefined module or output")
	ErrSelfReference       = errors.New("module references its own outputs")
)

// CycleError reports a dependency cycle and the modules that form it.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency between modules: %s", strings.Join(e.Members, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// ReferenceError reports a reference that cannot be satisfied by any
// declared module output.
type ReferenceError struct {
	Module    string // module whose input carries the reference
	Input     string // input name
	RefModule string // referenced module
	RefOutput string // referenced output
	Message   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("module %s input %s: unresolved reference %s.%s: %s",
		e.Module, e.Input, e.RefModule, e.RefOutput, e.Message)
}

func (e *ReferenceError) Unwrap() error {
	return ErrUnresolvedReference
}
