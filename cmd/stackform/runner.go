package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/stackform/stackform/internal/core/health"
	"github.com/stackform/stackform/internal/core/profile"
	"github.com/stackform/stackform/internal/core/rollout"
	"github.com/stackform/stackform/internal/core/stack"
	"github.com/stackform/stackform/internal/shell/api"
	"github.com/stackform/stackform/internal/shell/cloud"
	"github.com/stackform/stackform/internal/shell/pipeline"
	"github.com/stackform/stackform/internal/shell/reconciler"
	"github.com/stackform/stackform/internal/shell/store"
	"github.com/stackform/stackform/internal/shell/verifier"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitReconcileError  = 3
	ExitDeployError     = 4
	ExitHTTPServerError = 5
)

// =============================================================================
// Runner
// =============================================================================

// Runner wires the store, cloud registry, reconciler, pipelines and the
// operator API together and drives one environment end to end.
type Runner struct {
	config *Config
	store  store.Store
	gate   *pipeline.Gate
	logger *slog.Logger
}

// NewRunner creates a runner with the given config.
func NewRunner(cfg *Config, logger *slog.Logger) (*Runner, error) {
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &RunnerError{
			Op:       "NewRunner",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	return &Runner{
		config: cfg,
		store:  s,
		gate:   pipeline.NewGate(),
		logger: logger,
	}, nil
}

// Close releases the runner's resources.
func (r *Runner) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Error("store close error", "error", err)
	}
}

// Run reconciles the environment's infrastructure and, unless destroying,
// executes both substrate pipelines against it. The operator API serves
// approval decisions for the whole run.
func (r *Runner) Run(ctx context.Context, environment string, destroy bool) error {
	prof, resolution, err := r.loadStack(environment)
	if err != nil {
		return err
	}

	registry := cloud.NewAWSRegistry(cloud.AWSConfig{
		AccessKeyID:     r.config.AWS.AccessKeyID,
		SecretAccessKey: r.config.AWS.SecretAccessKey,
		Region:          r.config.AWS.Region,
	}, r.logger)
	rec := reconciler.New(r.store, registry, reconciler.DefaultRetryPolicy(), r.logger)

	if destroy {
		r.logger.Info("destroying environment", "environment", environment)
		if err := rec.Destroy(ctx, environment, resolution); err != nil {
			return &RunnerError{Op: "Destroy", Err: err, ExitCode: ExitReconcileError}
		}
		r.logger.Info("environment destroyed", "environment", environment)
		return nil
	}

	// Config-borne pipeline inputs are checked before anything is mutated.
	if err := r.validatePipelineInputs(); err != nil {
		return err
	}

	// Operator API serves run status and the approval gate while the
	// deployment is in flight.
	shutdownAPI, err := r.startOperatorAPI()
	if err != nil {
		return err
	}
	defer shutdownAPI()

	r.logger.Info("reconciling infrastructure",
		"environment", environment,
		"modules", len(resolution.Order),
	)
	result, err := rec.Apply(ctx, environment, resolution)
	if err != nil {
		return &RunnerError{Op: "Apply", Err: err, ExitCode: ExitReconcileError}
	}
	r.logger.Info("infrastructure reconciled",
		"environment", environment,
		"created", result.Created,
		"updated", result.Updated,
		"noop", result.Noop,
		"skipped", result.Skipped,
	)

	pipelineA, pipelineB, err := r.buildPipelines(prof, result)
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(r.logger, pipelineA, pipelineB)
	report := orch.Deploy(ctx, environment, prof.Protected)
	if !report.Succeeded() {
		for _, failure := range report.Failures() {
			r.logger.Error("pipeline failed", "environment", environment, "failure", failure)
		}
		return &RunnerError{
			Op:       "Deploy",
			Err:      fmt.Errorf("%d of %d pipelines failed", len(report.Failures()), len(report.Outcomes)),
			ExitCode: ExitDeployError,
		}
	}

	r.logger.Info("deployment complete", "environment", environment)
	return nil
}

// loadStack reads and resolves the stack manifest and looks up the
// environment profile. Every failure here is a configuration error caught
// before anything is mutated.
func (r *Runner) loadStack(environment string) (profile.Profile, *stack.Resolution, error) {
	fail := func(op string, err error) (profile.Profile, *stack.Resolution, error) {
		return profile.Profile{}, nil, &RunnerError{Op: op, Err: err, ExitCode: ExitConfigError}
	}

	data, err := os.ReadFile(r.config.Stack.ManifestPath)
	if err != nil {
		return fail("loadStack", fmt.Errorf("failed to read manifest %s: %w", r.config.Stack.ManifestPath, err))
	}

	manifest, err := stack.ParseManifest(data)
	if err != nil {
		return fail("loadStack", err)
	}

	profiles, err := profile.NewSet(manifest.Profiles)
	if err != nil {
		return fail("loadStack", err)
	}
	prof, err := profiles.Get(environment)
	if err != nil {
		return fail("loadStack", err)
	}

	resolution, err := stack.Resolve(manifest.Modules)
	if err != nil {
		return fail("loadStack", err)
	}

	return prof, resolution, nil
}

// validatePipelineInputs rejects a deploy whose config is missing inputs the
// pipelines will need, before any infrastructure is touched.
func (r *Runner) validatePipelineInputs() error {
	fail := func(field string) error {
		return &RunnerError{
			Op:       "validatePipelineInputs",
			Err:      fmt.Errorf("%w: %s", pipeline.ErrMissingPipelineInput, field),
			ExitCode: ExitConfigError,
		}
	}
	if r.config.Pipeline.ArtifactRef == "" {
		return fail("pipeline.artifact_ref")
	}
	if r.config.Pipeline.HealthTargetB == "" {
		return fail("pipeline.health_target_b")
	}
	if len(r.config.Pipeline.ReleaseCommand) == 0 {
		return fail("pipeline.release_command")
	}
	return nil
}

// startOperatorAPI binds the operator HTTP server and serves it in the
// background until the returned shutdown function is called.
func (r *Runner) startOperatorAPI() (func(), error) {
	handler := api.NewHandler(r.store, r.gate, r.logger)
	server := &http.Server{
		Addr:         r.config.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  r.config.Server.ReadTimeout,
		WriteTimeout: r.config.Server.WriteTimeout,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, &RunnerError{Op: "startOperatorAPI", Err: err, ExitCode: ExitHTTPServerError}
	}

	go func() {
		r.logger.Info("operator API listening", "address", server.Addr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("operator API server error", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("operator API shutdown error", "error", err)
		}
	}, nil
}

// buildPipelines assembles the two substrate pipelines from the provisioning
// outputs and the profile's orchestration knobs.
func (r *Runner) buildPipelines(prof profile.Profile, result *reconciler.Result) (*pipeline.Pipeline, *pipeline.Pipeline, error) {
	fail := func(err error) (*pipeline.Pipeline, *pipeline.Pipeline, error) {
		return nil, nil, &RunnerError{Op: "buildPipelines", Err: err, ExitCode: ExitConfigError}
	}

	if r.config.Pipeline.ArtifactRef == "" {
		return fail(fmt.Errorf("%w: pipeline.artifact_ref", pipeline.ErrMissingPipelineInput))
	}

	repoName, err := requireOutput(result.Outputs, "registry", "repository_name")
	if err != nil {
		return fail(err)
	}
	registryURL, err := requireOutput(result.Outputs, "registry", "registry_url")
	if err != nil {
		return fail(err)
	}
	lbDNS, err := requireOutput(result.Outputs, "loadbalancer", "lb_dns")
	if err != nil {
		return fail(err)
	}
	clusterA, err := requireOutput(result.Outputs, "substrate_a", "cluster_name")
	if err != nil {
		return fail(err)
	}
	serviceA, err := requireOutput(result.Outputs, "substrate_a", "service_name")
	if err != nil {
		return fail(err)
	}
	if _, err := requireOutput(result.Outputs, "substrate_b", "endpoint"); err != nil {
		return fail(err)
	}
	executionRole := result.Outputs["identity"]["execution_role_arn"]
	taskRole := result.Outputs["identity"]["task_role_arn"]

	envVars := map[string]string{
		"S3_BUCKET_NAME": result.Outputs["messaging"]["bucket_name"],
		"SNS_TOPIC_ARN":  result.Outputs["messaging"]["topic_arn"],
		"SQS_QUEUE_URL":  result.Outputs["messaging"]["queue_url"],
		"DATABASE_URL":   r.config.Pipeline.DatabaseURL,
	}

	policy, err := r.healthPolicy(prof)
	if err != nil {
		return fail(err)
	}
	publishAttempts, err := prof.IntParam("publish_max_attempts", 3)
	if err != nil {
		return fail(err)
	}
	releaseTimeout, err := prof.DurationParam("release_timeout", 5*time.Minute)
	if err != nil {
		return fail(err)
	}

	awsCfg := cloud.AWSConfig{
		AccessKeyID:     r.config.AWS.AccessKeyID,
		SecretAccessKey: r.config.AWS.SecretAccessKey,
		Region:          r.config.AWS.Region,
	}
	builder := pipeline.StaticBuilder{ArtifactRef: r.config.Pipeline.ArtifactRef}
	publisher := pipeline.NewECRPublisher(
		cloud.NewECRClient(awsCfg),
		repoName,
		registryURL,
		r.config.Pipeline.ReleaseTag,
		publishAttempts,
		r.config.Pipeline.PublishBaseDelay,
		r.logger,
	)
	healthVerifier := verifier.New(r.store, r.logger)

	releaserA := pipeline.NewECSReleaser(cloud.NewECSClient(awsCfg), pipeline.ECSReleaserConfig{
		Cluster:       clusterA,
		Service:       serviceA,
		Family:        serviceA,
		ContainerName: "app",
		ExecutionRole: executionRole,
		TaskRole:      taskRole,
		CPU:           prof.Param("cpu", "256"),
		Memory:        prof.Param("memory", "512"),
		ContainerPort: 8000,
		EnvVars:       envVars,
		StabilizeWait: releaseTimeout,
	}, r.logger)

	pipelineA := pipeline.New(pipeline.Config{
		Substrate:    rollout.SubstrateA,
		Builder:      builder,
		Publisher:    publisher,
		Releaser:     releaserA,
		Gate:         r.gate,
		Verifier:     healthVerifier,
		HealthTarget: "http://" + lbDNS + "/health",
		HealthPolicy: policy,
	}, r.store, r.logger)

	healthTargetB := r.config.Pipeline.HealthTargetB
	if healthTargetB == "" {
		return fail(fmt.Errorf("%w: pipeline.health_target_b", pipeline.ErrMissingPipelineInput))
	}
	releaserB := pipeline.NewClusterReleaser(
		r.config.Pipeline.ReleaseCommand, envVars, releaseTimeout, r.logger)

	pipelineB := pipeline.New(pipeline.Config{
		Substrate:    rollout.SubstrateB,
		Builder:      builder,
		Publisher:    publisher,
		Releaser:     releaserB,
		Gate:         r.gate,
		Verifier:     healthVerifier,
		HealthTarget: healthTargetB,
		HealthPolicy: policy,
	}, r.store, r.logger)

	return pipelineA, pipelineB, nil
}

// healthPolicy derives the verifier policy from the profile's knobs.
func (r *Runner) healthPolicy(prof profile.Profile) (health.Policy, error) {
	policy := health.DefaultPolicy()

	attempts, err := prof.IntParam("health_attempts", policy.MaxAttempts)
	if err != nil {
		return health.Policy{}, err
	}
	interval, err := prof.DurationParam("health_interval", policy.Interval)
	if err != nil {
		return health.Policy{}, err
	}
	timeout, err := prof.DurationParam("health_timeout", policy.AttemptTimeout)
	if err != nil {
		return health.Policy{}, err
	}
	deadline, err := prof.DurationParam("health_deadline", policy.Deadline)
	if err != nil {
		return health.Policy{}, err
	}

	policy.MaxAttempts = attempts
	policy.Interval = interval
	policy.AttemptTimeout = timeout
	policy.Deadline = deadline
	return policy, nil
}

// requireOutput fetches a provisioning output a pipeline cannot run without.
func requireOutput(outputs map[string]map[string]string, module, key string) (string, error) {
	v := outputs[module][key]
	if v == "" {
		return "", fmt.Errorf("%w: output %s.%s", pipeline.ErrMissingPipelineInput, module, key)
	}
	return v, nil
}

// =============================================================================
// Runner Error
// =============================================================================

// RunnerError represents a failure during a run, carrying the process exit
// code for main.
type RunnerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *RunnerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RunnerError) Unwrap() error {
	return e.Err
}
