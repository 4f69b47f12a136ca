package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackform/stackform/internal/core/rollout"
)

// =============================================================================
// Approval Gate
// =============================================================================

// Gate blocks protected pipelines until an operator decision arrives. There
// is no deadline: a run waits at the gate until approved, rejected, or the
// run's context is cancelled. Each run receives exactly one decision.
type Gate struct {
	mu      sync.Mutex
	waiters map[string]chan rollout.Decision
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{waiters: make(map[string]chan rollout.Decision)}
}

// Await registers the run and blocks until Deliver hands over a decision.
func (g *Gate) Await(ctx context.Context, runID string) (rollout.Decision, error) {
	g.mu.Lock()
	ch, ok := g.waiters[runID]
	if !ok {
		ch = make(chan rollout.Decision, 1)
		g.waiters[runID] = ch
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.waiters, runID)
		g.mu.Unlock()
	}()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return "", fmt.Errorf("approval wait aborted for %s: %w", runID, ctx.Err())
	}
}

// Deliver hands a decision to the waiting run. Delivering to a run that is
// not waiting, or delivering twice, returns ErrNoPendingRun.
func (g *Gate) Deliver(runID string, d rollout.Decision) error {
	if !d.IsValid() {
		return fmt.Errorf("invalid decision %q", d)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.waiters[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingRun, runID)
	}

	select {
	case ch <- d:
		return nil
	default:
		return fmt.Errorf("%w: %s already decided", ErrNoPendingRun, runID)
	}
}

// Pending reports whether the run is currently waiting at the gate.
func (g *Gate) Pending(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.waiters[runID]
	return ok
}
