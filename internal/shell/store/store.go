package store

import (
	"context"

	"github.com/stackform/stackform/internal/core/health"
	"github.com/stackform/stackform/internal/core/reconcile"
	"github.com/stackform/stackform/internal/core/rollout"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for stackform state: resource
// completion markers, deployment runs, and health attempt history.
type Store interface {
	// Resource completion markers (keyed environment+module+name)
	SaveResource(ctx context.Context, res *reconcile.Resource) error
	GetResource(ctx context.Context, environment, module, name string) (*reconcile.Resource, error)
	ListResourcesByModule(ctx context.Context, environment, module string) ([]reconcile.Resource, error)
	ListResources(ctx context.Context, environment string) ([]reconcile.Resource, error)
	DeleteResource(ctx context.Context, environment, module, name string) error

	// Deployment run operations
	CreateRun(ctx context.Context, run *rollout.Run) error
	UpdateRun(ctx context.Context, run *rollout.Run) error
	GetRun(ctx context.Context, id string) (*rollout.Run, error)
	ListRuns(ctx context.Context, environment string) ([]rollout.Run, error)

	// Health attempt history (owned by a run's Verify stage)
	CreateHealthAttempt(ctx context.Context, runID string, attempt health.Attempt) error
	ListHealthAttempts(ctx context.Context, runID string) ([]health.Attempt, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}
