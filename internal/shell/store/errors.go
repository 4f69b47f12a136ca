// Package store persists reconciler state: resource markers, pipeline runs,
// and health attempts, backed by SQLite.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned when no marker or run matches the query.
	ErrNotFound = errors.New("no matching record")

	// ErrDuplicateID is returned when a run is created under an ID that
	// already exists.
	ErrDuplicateID = errors.New("run ID already exists")

	// ErrConnectionFailed is returned when the state database cannot be
	// opened or reached.
	ErrConnectionFailed = errors.New("state database unavailable")

	// ErrMigrationFailed is returned when applying schema migrations fails.
	ErrMigrationFailed = errors.New("schema migration failed")

	// ErrInvalidData is returned when a stored attribute or output map
	// cannot be encoded or decoded.
	ErrInvalidData = errors.New("malformed stored state")

	// ErrTxFailed is returned when a transaction cannot begin, commit, or
	// roll back.
	ErrTxFailed = errors.New("transaction failed")
)

// StoreError names the failed operation and the record it touched so one
// log line identifies what broke.
type StoreError struct {
	Op      string // e.g. "SaveResource"
	Entity  string // "resource", "run", "health_attempt"
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
