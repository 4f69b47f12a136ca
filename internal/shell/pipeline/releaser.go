package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// =============================================================================
// Releasers
// =============================================================================

// Releaser rolls the published artifact out to one substrate.
type Releaser interface {
	Release(ctx context.Context, releaseRef string) error
}

// ecsReleaseAPI is the slice of the scheduler client the releaser needs.
type ecsReleaseAPI interface {
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
}

// ECSReleaser deploys to substrate A: registers a new task definition
// revision carrying the release image and the collaborator's environment
// variables, then forces a new service deployment and waits for it to
// stabilize.
type ECSReleaser struct {
	api           ecsReleaseAPI
	cluster       string
	service       string
	family        string
	containerName string
	executionRole string
	taskRole      string
	cpu           string
	memory        string
	containerPort int32
	envVars       map[string]string
	stabilizeWait time.Duration
	pollInterval  time.Duration
	logger        *slog.Logger
}

// ECSReleaserConfig wires an ECSReleaser from provisioning outputs.
type ECSReleaserConfig struct {
	Cluster       string
	Service       string
	Family        string
	ContainerName string
	ExecutionRole string
	TaskRole      string
	CPU           string
	Memory        string
	ContainerPort int32
	EnvVars       map[string]string
	StabilizeWait time.Duration
	PollInterval  time.Duration
}

// NewECSReleaser creates a releaser for one service.
func NewECSReleaser(api ecsReleaseAPI, cfg ECSReleaserConfig, logger *slog.Logger) *ECSReleaser {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &ECSReleaser{
		api:           api,
		cluster:       cfg.Cluster,
		service:       cfg.Service,
		family:        cfg.Family,
		containerName: cfg.ContainerName,
		executionRole: cfg.ExecutionRole,
		taskRole:      cfg.TaskRole,
		cpu:           cfg.CPU,
		memory:        cfg.Memory,
		containerPort: cfg.ContainerPort,
		envVars:       cfg.EnvVars,
		stabilizeWait: cfg.StabilizeWait,
		pollInterval:  cfg.PollInterval,
		logger:        logger.With("component", "releaser", "substrate", "a"),
	}
}

func (r *ECSReleaser) Release(ctx context.Context, releaseRef string) error {
	env := make([]ecstypes.KeyValuePair, 0, len(r.envVars))
	names := make([]string, 0, len(r.envVars))
	for name := range r.envVars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, ecstypes.KeyValuePair{
			Name:  aws.String(name),
			Value: aws.String(r.envVars[name]),
		})
	}

	taskDef, err := r.api.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(r.family),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String(r.cpu),
		Memory:                  aws.String(r.memory),
		ExecutionRoleArn:        aws.String(r.executionRole),
		TaskRoleArn:             aws.String(r.taskRole),
		ContainerDefinitions: []ecstypes.ContainerDefinition{{
			Name:        aws.String(r.containerName),
			Image:       aws.String(releaseRef),
			Essential:   aws.Bool(true),
			Environment: env,
			PortMappings: []ecstypes.PortMapping{{
				ContainerPort: aws.Int32(r.containerPort),
				Protocol:      ecstypes.TransportProtocolTcp,
			}},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to register task definition %s: %w", r.family, err)
	}

	revision := aws.ToString(taskDef.TaskDefinition.TaskDefinitionArn)
	_, err = r.api.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(r.cluster),
		Service:            aws.String(r.service),
		TaskDefinition:     aws.String(revision),
		ForceNewDeployment: true,
	})
	if err != nil {
		return fmt.Errorf("failed to roll service %s: %w", r.service, err)
	}

	r.logger.Info("service rollout started",
		"service", r.service, "task_definition", revision, "image", releaseRef)
	return r.waitStable(ctx)
}

// waitStable polls the service until a single deployment is running at the
// desired count, bounded by the release timeout.
func (r *ECSReleaser) waitStable(ctx context.Context) error {
	deadline := time.Now().Add(r.stabilizeWait)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: service %s did not stabilize within %s",
				ErrReleaseTimeout, r.service, r.stabilizeWait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}

		out, err := r.api.DescribeServices(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(r.cluster),
			Services: []string{r.service},
		})
		if err != nil {
			r.logger.Warn("failed to poll service during rollout", "error", err)
			continue
		}
		for _, svc := range out.Services {
			if len(svc.Deployments) == 1 && svc.RunningCount == svc.DesiredCount {
				r.logger.Info("service rollout stabilized", "service", r.service)
				return nil
			}
		}
	}
}

// ClusterReleaser deploys to substrate B by invoking the cluster's
// declarative release tool (an upgrade-and-wait style command). The release
// image replaces the {image} placeholder in the configured argument list and
// the collaborator env vars are exported into the tool's environment.
type ClusterReleaser struct {
	command []string
	envVars map[string]string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClusterReleaser creates a releaser around the given command line.
func NewClusterReleaser(command []string, envVars map[string]string, timeout time.Duration, logger *slog.Logger) *ClusterReleaser {
	return &ClusterReleaser{
		command: command,
		envVars: envVars,
		timeout: timeout,
		logger:  logger.With("component", "releaser", "substrate", "b"),
	}
}

func (r *ClusterReleaser) Release(ctx context.Context, releaseRef string) error {
	if len(r.command) == 0 {
		return fmt.Errorf("%w: release command", ErrMissingPipelineInput)
	}

	args := make([]string, len(r.command))
	for i, a := range r.command {
		args[i] = strings.ReplaceAll(a, "{image}", releaseRef)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = os.Environ()
	names := make([]string, 0, len(r.envVars))
	for name := range r.envVars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.Env = append(cmd.Env, name+"="+r.envVars[name])
	}

	r.logger.Info("running cluster release", "command", args[0], "image", releaseRef)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: release command exceeded %s", ErrReleaseTimeout, r.timeout)
		}
		return fmt.Errorf("release command failed: %w: %s", err, string(output))
	}

	r.logger.Info("cluster release completed", "image", releaseRef)
	return nil
}
