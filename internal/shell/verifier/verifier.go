// Package verifier polls a deployed service's liveness endpoint until the
// health policy is satisfied or exhausted. This is part of the Imperative
// Shell - it performs HTTP I/O and persists attempt history.
package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stackform/stackform/internal/core/health"
	"github.com/stackform/stackform/internal/shell/store"
)

// =============================================================================
// Verifier
// =============================================================================

// Verifier runs bounded health verification against an HTTP target. The
// decision logic (classification, budget, backoff) lives in the core health
// package; this type only executes it.
type Verifier struct {
	client *http.Client
	store  store.Store
	logger *slog.Logger
}

// New creates a verifier. The store may be nil when attempt history does not
// need to be persisted (tests, ad-hoc checks).
func New(st store.Store, logger *slog.Logger) *Verifier {
	return &Verifier{
		client: &http.Client{},
		store:  st,
		logger: logger.With("component", "verifier"),
	}
}

// Verify polls target until an attempt succeeds or the policy is exhausted.
// Every attempt is recorded against the run. A failed verification returns
// an ExhaustedError carrying the attempt history.
func (v *Verifier) Verify(ctx context.Context, runID, target string, policy health.Policy) (*health.Result, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, policy.Deadline)
	defer cancel()

	result := &health.Result{Target: target}
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if delay := policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("verification deadline reached for %s: %w", target, ctx.Err())
			case <-time.After(delay):
			}
		}

		rec := v.poll(ctx, target, attempt, policy)
		result.Attempts = append(result.Attempts, rec)
		v.record(ctx, runID, rec)

		if rec.Outcome == health.OutcomeSuccess {
			result.SucceededAt = attempt
			v.logger.Info("health check passed",
				"target", target, "attempt", attempt)
			return result, nil
		}

		v.logger.Warn("health check attempt failed",
			"target", target, "attempt", attempt, "error", rec.Error)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &health.ExhaustedError{Target: target, Attempts: result.Attempts}
}

func (v *Verifier) poll(ctx context.Context, target string, number int, policy health.Policy) health.Attempt {
	rec := health.Attempt{
		Target: target,
		Number: number,
		At:     time.Now().UTC(),
	}

	attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		rec.Outcome = health.OutcomeFailure
		rec.Error = err.Error()
		return rec
	}

	resp, err := v.client.Do(req)
	if err != nil {
		rec.Outcome = health.OutcomeFailure
		rec.Error = err.Error()
		return rec
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	rec.StatusCode = &status
	rec.Outcome = health.Classify(status, policy.ExpectedStatus)
	if rec.Outcome == health.OutcomeFailure {
		rec.Error = fmt.Sprintf("unexpected status %d", status)
	}
	return rec
}

func (v *Verifier) record(ctx context.Context, runID string, rec health.Attempt) {
	if v.store == nil || runID == "" {
		return
	}
	if err := v.store.CreateHealthAttempt(ctx, runID, rec); err != nil {
		v.logger.Warn("failed to persist health attempt",
			"run_id", runID, "attempt", rec.Number, "error", err)
	}
}
