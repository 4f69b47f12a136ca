// Package reconciler drives declared infrastructure toward its remote state.
// This is part of the Imperative Shell - the only component that mutates
// cloud resources.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stackform/stackform/internal/core/reconcile"
	"github.com/stackform/stackform/internal/core/stack"
	"github.com/stackform/stackform/internal/core/topology"
	"github.com/stackform/stackform/internal/shell/cloud"
	"github.com/stackform/stackform/internal/shell/store"
)

// =============================================================================
// Reconciler
// =============================================================================

// RetryPolicy bounds the retries around transient cloud failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries transient failures up to 4 times with
// exponential backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// Reconciler applies a resolved stack against the cloud, persisting a
// completion marker per resource so interrupted runs resume where they
// stopped. One reconciler is the single writer for its environment.
type Reconciler struct {
	store   store.Store
	clients cloud.Registry
	retry   RetryPolicy
	logger  *slog.Logger
}

// New creates a reconciler.
func New(st store.Store, clients cloud.Registry, retry RetryPolicy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:   st,
		clients: clients,
		retry:   retry,
		logger:  logger.With("component", "reconciler"),
	}
}

// Result summarizes a completed apply.
type Result struct {
	Environment string

	// Outputs maps module name to its exported outputs.
	Outputs map[string]map[string]string

	Created int
	Updated int
	Noop    int
	Skipped int
}

// Apply reconciles every module in resolved order. Validation that needs no
// I/O (messaging topology) runs up front so nothing is mutated when the
// declaration is invalid. A module failure stops the walk; already-applied
// modules stay provisioned.
func (r *Reconciler) Apply(ctx context.Context, environment string, res *stack.Resolution) (*Result, error) {
	for _, mod := range res.Order {
		if topology.IsMessagingModule(mod) {
			if _, err := topology.Validate(mod); err != nil {
				return nil, fmt.Errorf("module %s: %w", mod.Name, err)
			}
		}
	}

	result := &Result{
		Environment: environment,
		Outputs:     make(map[string]map[string]string, len(res.Order)),
	}

	for _, mod := range res.Order {
		inputs, err := res.Substitute(mod, result.Outputs)
		if err != nil {
			return nil, err
		}

		moduleOutputs, err := r.applyModule(ctx, environment, mod, inputs, result)
		if err != nil {
			return nil, err
		}
		result.Outputs[mod.Name] = moduleOutputs

		r.logger.Info("module reconciled",
			"environment", environment,
			"module", mod.Name,
			"resources", len(mod.Resources))
	}

	return result, nil
}

func (r *Reconciler) applyModule(ctx context.Context, environment string, mod stack.Module, inputs map[string]string, result *Result) (map[string]string, error) {
	applied := make(map[string]map[string]string, len(mod.Resources))
	var succeeded []string

	fail := func(spec stack.ResourceSpec, err error) error {
		return &reconcile.PartialApplyError{
			Module:    mod.Name,
			Succeeded: succeeded,
			Failed:    spec.Name,
			Err:       err,
		}
	}

	for _, spec := range mod.Resources {
		declared, err := renderSiblings(stack.RenderAttributes(spec, inputs), applied)
		if err != nil {
			return nil, fail(spec, err)
		}
		hash := reconcile.DeclaredHash(declared)

		marker, err := r.store.GetResource(ctx, environment, mod.Name, spec.Name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fail(spec, err)
		}
		if marker != nil && marker.DeclaredHash == hash {
			applied[spec.Name] = marker.Outputs
			succeeded = append(succeeded, spec.Name)
			result.Skipped++
			continue
		}

		client, err := r.clients.For(spec.Kind)
		if err != nil {
			return nil, fail(spec, err)
		}

		remote, err := r.reconcileResource(ctx, mod.Name, spec, client, declared, result)
		if err != nil {
			return nil, fail(spec, err)
		}

		now := time.Now().UTC()
		record := &reconcile.Resource{
			Environment:  environment,
			Module:       mod.Name,
			Kind:         spec.Kind,
			Name:         spec.Name,
			RemoteID:     remote.ID,
			DeclaredHash: hash,
			Attributes:   declared,
			Outputs:      remote.Outputs,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if marker != nil {
			record.CreatedAt = marker.CreatedAt
		}
		if err := r.store.SaveResource(ctx, record); err != nil {
			return nil, fail(spec, err)
		}

		applied[spec.Name] = remote.Outputs
		succeeded = append(succeeded, spec.Name)
	}

	return exportOutputs(mod, applied)
}

func (r *Reconciler) reconcileResource(ctx context.Context, module string, spec stack.ResourceSpec, client cloud.Client, declared map[string]string, result *Result) (*cloud.Remote, error) {
	var remote *cloud.Remote
	err := r.withRetry(ctx, "observe "+spec.Name, func() error {
		var err error
		remote, err = client.Observe(ctx, spec.Name, declared)
		return err
	})
	if err != nil {
		return nil, err
	}

	var observed map[string]string
	if remote != nil {
		observed = remote.Attributes
	}
	step, err := reconcile.Plan(module, spec.Kind, spec.Name, declared, observed, reconcile.ImmutableAttributes(spec.Kind))
	if err != nil {
		return nil, err
	}

	switch step.Op {
	case reconcile.OpCreate:
		err = r.withRetry(ctx, "create "+spec.Name, func() error {
			var err error
			remote, err = client.Create(ctx, spec.Name, declared)
			return err
		})
		if err != nil {
			return nil, err
		}
		result.Created++

	case reconcile.OpUpdate:
		r.logger.Info("updating resource",
			"module", module, "resource", spec.Name, "changed", step.Changed)
		err = r.withRetry(ctx, "update "+spec.Name, func() error {
			var err error
			remote, err = client.Update(ctx, remote.ID, declared)
			return err
		})
		if err != nil {
			return nil, err
		}
		result.Updated++

	case reconcile.OpNoop:
		result.Noop++
	}

	return remote, nil
}

// Destroy deletes recorded resources in reverse resolved order. Resources
// that are already gone remotely count as deleted; markers are removed as
// each deletion lands.
func (r *Reconciler) Destroy(ctx context.Context, environment string, res *stack.Resolution) error {
	for i := len(res.Order) - 1; i >= 0; i-- {
		mod := res.Order[i]

		for j := len(mod.Resources) - 1; j >= 0; j-- {
			spec := mod.Resources[j]

			marker, err := r.store.GetResource(ctx, environment, mod.Name, spec.Name)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("module %s resource %s: %w", mod.Name, spec.Name, err)
			}

			client, err := r.clients.For(spec.Kind)
			if err != nil {
				return fmt.Errorf("module %s resource %s: %w", mod.Name, spec.Name, err)
			}

			err = r.withRetry(ctx, "delete "+spec.Name, func() error {
				return client.Delete(ctx, marker.RemoteID, marker.Attributes)
			})
			if err != nil {
				return fmt.Errorf("module %s resource %s: %w", mod.Name, spec.Name, err)
			}
			if err := r.store.DeleteResource(ctx, environment, mod.Name, spec.Name); err != nil {
				return fmt.Errorf("module %s resource %s: %w", mod.Name, spec.Name, err)
			}

			r.logger.Info("resource destroyed",
				"environment", environment, "module", mod.Name, "resource", spec.Name)
		}
	}
	return nil
}

// withRetry runs fn, retrying transient failures with exponential backoff.
// Non-transient failures return immediately; exhausting the budget escalates
// to ReconciliationFailed.
func (r *Reconciler) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := r.retry.BaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !cloud.IsTransient(err) {
			return err
		}
		if attempt >= r.retry.MaxAttempts {
			return fmt.Errorf("%s: %w after %d attempts: %w",
				op, reconcile.ErrReconciliationFailed, attempt, err)
		}

		r.logger.Warn("transient cloud failure, retrying",
			"op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.retry.MaxDelay {
			delay = r.retry.MaxDelay
		}
	}
}

// renderSiblings resolves ${resource.key} placeholders against outputs of
// resources already applied within the same module. Declaration order makes
// the referenced resource available by the time its consumer renders. A
// placeholder that survives rendering is an error; remote APIs would accept
// the literal text and provision against it.
func renderSiblings(attrs map[string]string, applied map[string]map[string]string) (map[string]string, error) {
	rendered := make(map[string]string, len(attrs))
	for key, value := range attrs {
		out := value
		for _, ref := range stack.ParseReferences(value) {
			outputs, ok := applied[ref.Module]
			if !ok {
				return nil, fmt.Errorf("attribute %s: %w: resource %q has not been applied",
					key, reconcile.ErrUnresolvedReference, ref.Module)
			}
			v, ok := outputs[ref.Output]
			if !ok {
				return nil, fmt.Errorf("attribute %s: %w: resource %q exported no output %q",
					key, reconcile.ErrUnresolvedReference, ref.Module, ref.Output)
			}
			out = strings.ReplaceAll(out, fmt.Sprintf("${%s.%s}", ref.Module, ref.Output), v)
		}
		rendered[key] = out
	}
	return rendered, nil
}

// exportOutputs materializes the module's declared output wiring from the
// outputs its resources produced.
func exportOutputs(mod stack.Module, applied map[string]map[string]string) (map[string]string, error) {
	exported := make(map[string]string, len(mod.Outputs))
	for output := range mod.Outputs {
		resource, key, ok := mod.Export(output)
		if !ok {
			return nil, fmt.Errorf("module %s output %s: malformed wiring", mod.Name, output)
		}
		outputs, ok := applied[resource]
		if !ok {
			return nil, fmt.Errorf("module %s output %s: resource %s was not applied", mod.Name, output, resource)
		}
		value, ok := outputs[key]
		if !ok {
			return nil, fmt.Errorf("module %s output %s: resource %s produced no %s", mod.Name, output, resource, key)
		}
		exported[output] = value
	}
	return exported, nil
}
