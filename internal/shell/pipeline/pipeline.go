// Package pipeline drives deployment runs through their stages: build,
// publish, the approval gate, release, and health verification. This is part
// of the Imperative Shell - it talks to the registry, the substrates, and
// the store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stackform/stackform/internal/core/health"
	"github.com/stackform/stackform/internal/core/rollout"
	"github.com/stackform/stackform/internal/shell/store"
)

// =============================================================================
// Pipeline
// =============================================================================

// HealthVerifier is the slice of the verifier the pipeline needs.
type HealthVerifier interface {
	Verify(ctx context.Context, runID, target string, policy health.Policy) (*health.Result, error)
}

// Config wires one substrate pipeline.
type Config struct {
	Substrate    rollout.Substrate
	Builder      Builder
	Publisher    Publisher
	Releaser     Releaser
	Gate         *Gate
	Verifier     HealthVerifier
	HealthTarget string
	HealthPolicy health.Policy
}

// Pipeline executes deployment runs for one substrate. Every stage
// transition is persisted before the stage's work begins, so an interrupted
// run is inspectable afterwards.
type Pipeline struct {
	cfg    Config
	store  store.Store
	logger *slog.Logger
}

// New creates a pipeline.
func New(cfg Config, st store.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		store: st,
		logger: logger.With(
			"component", "pipeline",
			"substrate", string(cfg.Substrate)),
	}
}

// Execute runs one deployment end to end. The returned run reflects the
// final persisted state; err carries the failing stage's cause. A gate
// rejection fails the run with ErrGateRejected and touches nothing after
// the gate.
func (p *Pipeline) Execute(ctx context.Context, environment string, protected bool) (*rollout.Run, error) {
	artifactRef, err := p.cfg.Builder.Build(ctx, environment)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	run, err := rollout.NewRun(environment, p.cfg.Substrate, artifactRef, protected)
	if err != nil {
		return nil, err
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	p.logger.Info("deployment run started",
		"run_id", run.ID, "environment", environment, "artifact", artifactRef)

	releaseRef, err := p.publish(ctx, run)
	if err != nil {
		return p.fail(ctx, run, err)
	}

	if run.RequiresApproval() {
		if err := p.awaitApproval(ctx, run); err != nil {
			return p.fail(ctx, run, err)
		}
	}

	if err := p.release(ctx, run, releaseRef); err != nil {
		return p.fail(ctx, run, err)
	}

	if err := p.verify(ctx, run); err != nil {
		return p.fail(ctx, run, err)
	}

	if err := p.transition(ctx, run, rollout.StageSucceeded); err != nil {
		return p.fail(ctx, run, err)
	}
	p.logger.Info("deployment run succeeded", "run_id", run.ID)
	return run, nil
}

func (p *Pipeline) publish(ctx context.Context, run *rollout.Run) (string, error) {
	if err := p.transition(ctx, run, rollout.StagePublish); err != nil {
		return "", err
	}
	releaseRef, err := p.cfg.Publisher.Publish(ctx, run.ArtifactRef)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return releaseRef, nil
}

func (p *Pipeline) awaitApproval(ctx context.Context, run *rollout.Run) error {
	if err := p.transition(ctx, run, rollout.StageAwaitApproval); err != nil {
		return err
	}
	p.logger.Info("awaiting operator approval", "run_id", run.ID)

	decision, err := p.cfg.Gate.Await(ctx, run.ID)
	if err != nil {
		return err
	}
	if err := run.Decide(decision); err != nil {
		return err
	}
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	if decision == rollout.DecisionRejected {
		p.logger.Info("release rejected by operator", "run_id", run.ID)
		return ErrGateRejected
	}
	p.logger.Info("release approved by operator", "run_id", run.ID)
	return nil
}

func (p *Pipeline) release(ctx context.Context, run *rollout.Run, releaseRef string) error {
	if err := p.transition(ctx, run, rollout.StageRelease); err != nil {
		return err
	}
	if err := p.cfg.Releaser.Release(ctx, releaseRef); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

func (p *Pipeline) verify(ctx context.Context, run *rollout.Run) error {
	if err := p.transition(ctx, run, rollout.StageVerify); err != nil {
		return err
	}
	result, err := p.cfg.Verifier.Verify(ctx, run.ID, p.cfg.HealthTarget, p.cfg.HealthPolicy)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	p.logger.Info("verification passed",
		"run_id", run.ID, "attempt", result.SucceededAt)
	return nil
}

func (p *Pipeline) transition(ctx context.Context, run *rollout.Run, to rollout.Stage) error {
	if err := run.Transition(to); err != nil {
		return err
	}
	return p.store.UpdateRun(ctx, run)
}

func (p *Pipeline) fail(ctx context.Context, run *rollout.Run, cause error) (*rollout.Run, error) {
	run.Fail(cause.Error())
	if err := p.store.UpdateRun(ctx, run); err != nil {
		p.logger.Error("failed to persist run failure", "run_id", run.ID, "error", err)
	}
	p.logger.Error("deployment run failed", "run_id", run.ID, "error", cause)
	return run, cause
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs the substrate pipelines of an environment concurrently
// and aggregates their outcomes. Pipelines share only the immutable
// provisioning outputs baked into their configs.
type Orchestrator struct {
	pipelines []*Pipeline
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given pipelines.
func NewOrchestrator(logger *slog.Logger, pipelines ...*Pipeline) *Orchestrator {
	return &Orchestrator{
		pipelines: pipelines,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Outcome is one pipeline's result within a report.
type Outcome struct {
	Substrate rollout.Substrate
	Run       *rollout.Run
	Err       error
}

// Report aggregates the outcomes of one deployment.
type Report struct {
	Environment string
	Outcomes    []Outcome
}

// Succeeded reports whether every pipeline reached the Succeeded stage.
func (r *Report) Succeeded() bool {
	if len(r.Outcomes) == 0 {
		return false
	}
	for _, o := range r.Outcomes {
		if o.Run == nil || o.Run.Stage != rollout.StageSucceeded {
			return false
		}
	}
	return true
}

// Failures lists human-readable failure lines, one per failed pipeline.
func (r *Report) Failures() []string {
	var failures []string
	for _, o := range r.Outcomes {
		switch {
		case o.Run == nil:
			failures = append(failures, fmt.Sprintf("substrate %s: %v", o.Substrate, o.Err))
		case o.Run.Stage != rollout.StageSucceeded:
			failures = append(failures, fmt.Sprintf("substrate %s: run %s failed: %s",
				o.Substrate, o.Run.ID, o.Run.ErrorMessage))
		}
	}
	return failures
}

// Deploy executes every pipeline concurrently and joins them.
func (o *Orchestrator) Deploy(ctx context.Context, environment string, protected bool) *Report {
	report := &Report{
		Environment: environment,
		Outcomes:    make([]Outcome, len(o.pipelines)),
	}

	var wg sync.WaitGroup
	for i, p := range o.pipelines {
		wg.Add(1)
		go func(i int, p *Pipeline) {
			defer wg.Done()
			run, err := p.Execute(ctx, environment, protected)
			report.Outcomes[i] = Outcome{Substrate: p.cfg.Substrate, Run: run, Err: err}
		}(i, p)
	}
	wg.Wait()

	if report.Succeeded() {
		o.logger.Info("deployment succeeded", "environment", environment)
	} else {
		o.logger.Error("deployment failed",
			"environment", environment, "failures", report.Failures())
	}
	return report
}
