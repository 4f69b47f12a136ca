// Package health contains pure decision logic for liveness verification:
// attempt bookkeeping, polling policy, and exhaustion reporting. The HTTP
// polling itself lives in the shell. This is part of the Functional Core -
// all functions are pure with no I/O.
package health

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrExhausted is returned when the attempt budget or deadline is
	// exhausted without a successful attempt.
	ErrExhausted = errors.New("health check exhausted")

	ErrInvalidPolicy = errors.New("invalid health check policy")
)

// ExhaustedError carries the full attempt history for diagnosis.
type ExhaustedError struct {
	Target   string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("health check exhausted for %s after %d attempts", e.Target, len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// =============================================================================
// Attempts
// =============================================================================

// Outcome classifies one polling attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt records one poll of the liveness endpoint. StatusCode is nil when
// the attempt failed before receiving a response (connection failure,
// per-attempt timeout).
type Attempt struct {
	Target     string    `json:"target"`
	Number     int       `json:"number"`
	StatusCode *int      `json:"status_code,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Classify maps a received status code to an outcome. Only the expected
// status counts as success; anything else is a failed attempt.
func Classify(statusCode, expected int) Outcome {
	if statusCode == expected {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// =============================================================================
// Polling Policy
// =============================================================================

// Policy bounds a verification: attempt budget, per-attempt timeout, wait
// interval between attempts, and a hard overall deadline. The interval is
// fixed when BackoffFactor is 1 and exponential otherwise; both shapes
// exist in the wild, so the profile chooses rather than the code.
type Policy struct {
	ExpectedStatus int
	MaxAttempts    int
	Interval       time.Duration
	BackoffFactor  float64
	AttemptTimeout time.Duration
	Deadline       time.Duration
}

// DefaultPolicy returns the polling policy used when the profile does not
// override it.
func DefaultPolicy() Policy {
	return Policy{
		ExpectedStatus: http.StatusOK,
		MaxAttempts:    3,
		Interval:       5 * time.Second,
		BackoffFactor:  1,
		AttemptTimeout: 5 * time.Second,
		Deadline:       2 * time.Minute,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidPolicy)
	}
	if p.Interval < 0 || p.AttemptTimeout <= 0 || p.Deadline <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidPolicy)
	}
	if p.BackoffFactor < 1 {
		return fmt.Errorf("%w: backoff factor must be >= 1", ErrInvalidPolicy)
	}
	if p.ExpectedStatus < 100 || p.ExpectedStatus > 599 {
		return fmt.Errorf("%w: expected status %d", ErrInvalidPolicy, p.ExpectedStatus)
	}
	return nil
}

// Delay returns the wait before the given attempt number (1-based). The
// first attempt runs immediately.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.Interval
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffFactor)
	}
	return d
}

// =============================================================================
// Result
// =============================================================================

// Result is the outcome of a bounded verification. SucceededAt is the
// 1-based attempt number that passed; useful for telling slow-starting
// deployments from instantly-healthy ones.
type Result struct {
	Target      string
	Attempts    []Attempt
	SucceededAt int
}

// Healthy reports whether verification passed.
func (r Result) Healthy() bool {
	return r.SucceededAt > 0
}
