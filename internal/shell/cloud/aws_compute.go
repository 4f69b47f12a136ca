package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
)

// =============================================================================
// Container Cluster (ECS)
// =============================================================================

type ecsClusterClient struct {
	aws *awsClients
}

func (c *ecsClusterClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ecs.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{attrs["cluster_name"]},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe cluster %s: %w", attrs["cluster_name"], err)
	}
	for _, cluster := range out.Clusters {
		if aws.ToString(cluster.Status) == "INACTIVE" {
			continue
		}
		arn := aws.ToString(cluster.ClusterArn)
		return &Remote{
			ID:         arn,
			Attributes: map[string]string{"cluster_name": aws.ToString(cluster.ClusterName)},
			Outputs: map[string]string{
				"cluster_arn":  arn,
				"cluster_name": aws.ToString(cluster.ClusterName),
			},
		}, nil
	}
	return nil, nil
}

func (c *ecsClusterClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ecs.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: aws.String(attrs["cluster_name"]),
		Tags: []ecstypes.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
			{Key: aws.String("ManagedBy"), Value: aws.String(managedByTag)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster %s: %w", attrs["cluster_name"], err)
	}

	arn := aws.ToString(out.Cluster.ClusterArn)
	c.aws.logger.Info("container cluster created", "name", name, "cluster_arn", arn)
	return &Remote{
		ID:         arn,
		Attributes: attrs,
		Outputs: map[string]string{
			"cluster_arn":  arn,
			"cluster_name": attrs["cluster_name"],
		},
	}, nil
}

func (c *ecsClusterClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	return nil, fmt.Errorf("cluster %s has no attributes that can change in place", remoteID)
}

func (c *ecsClusterClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.ecs.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete cluster %s: %w", remoteID, err)
	}
	return nil
}

// =============================================================================
// Container Service (ECS)
// =============================================================================

// ecsServiceAPI is the slice of the ECS client the service client calls.
// Narrowed so tests can fake it.
type ecsServiceAPI interface {
	DescribeServices(ctx context.Context, in *ecs.DescribeServicesInput, opts ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	RegisterTaskDefinition(ctx context.Context, in *ecs.RegisterTaskDefinitionInput, opts ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	CreateService(ctx context.Context, in *ecs.CreateServiceInput, opts ...func(*ecs.Options)) (*ecs.CreateServiceOutput, error)
	UpdateService(ctx context.Context, in *ecs.UpdateServiceInput, opts ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	DeleteService(ctx context.Context, in *ecs.DeleteServiceInput, opts ...func(*ecs.Options)) (*ecs.DeleteServiceOutput, error)
}

// bootstrapImage keeps the service healthy until the first release promotes
// a real application image into the task family.
const bootstrapImage = "public.ecr.aws/docker/library/nginx:stable"

type ecsServiceClient struct {
	api    ecsServiceAPI
	logger *slog.Logger
}

func (c *ecsServiceClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.api.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(attrs["cluster"]),
		Services: []string{attrs["service_name"]},
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe service %s: %w", attrs["service_name"], err)
	}
	for _, svc := range out.Services {
		if aws.ToString(svc.Status) == "INACTIVE" {
			continue
		}
		observed := map[string]string{
			"service_name":  aws.ToString(svc.ServiceName),
			"cluster":       attrs["cluster"],
			"desired_count": strconv.Itoa(int(svc.DesiredCount)),
		}
		if cfg := svc.NetworkConfiguration; cfg != nil && cfg.AwsvpcConfiguration != nil {
			observed["subnet_ids"] = strings.Join(cfg.AwsvpcConfiguration.Subnets, ",")
			observed["sg_id"] = strings.Join(cfg.AwsvpcConfiguration.SecurityGroups, ",")
		}
		for _, lb := range svc.LoadBalancers {
			observed["target_group_arn"] = aws.ToString(lb.TargetGroupArn)
		}
		// The running task definition revision advances outside the
		// reconciler, so only the family is compared. The execution role
		// lives on the revision, not the service, and follows the same rule.
		observed["task_family"] = attrs["task_family"]
		if v, ok := attrs["execution_role_arn"]; ok {
			observed["execution_role_arn"] = v
		}

		arn := aws.ToString(svc.ServiceArn)
		return &Remote{
			ID:         arn,
			Attributes: observed,
			Outputs: map[string]string{
				"service_arn":  arn,
				"service_name": aws.ToString(svc.ServiceName),
			},
		}, nil
	}
	return nil, nil
}

func (c *ecsServiceClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	desired, err := strconv.Atoi(strOrDefault(attrs, "desired_count", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid desired_count %q: %w", attrs["desired_count"], err)
	}
	port, err := strconv.Atoi(strOrDefault(attrs, "container_port", "80"))
	if err != nil {
		return nil, fmt.Errorf("invalid container_port %q: %w", attrs["container_port"], err)
	}

	// CreateService refuses a family with no ACTIVE revision, so an initial
	// revision is registered here. Releases register later revisions against
	// the same family.
	tdIn := &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(attrs["task_family"]),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String(strOrDefault(attrs, "cpu", "256")),
		Memory:                  aws.String(strOrDefault(attrs, "memory", "512")),
		ContainerDefinitions: []ecstypes.ContainerDefinition{{
			Name:      aws.String(strOrDefault(attrs, "container_name", "app")),
			Image:     aws.String(strOrDefault(attrs, "bootstrap_image", bootstrapImage)),
			Essential: aws.Bool(true),
			PortMappings: []ecstypes.PortMapping{{
				ContainerPort: aws.Int32(int32(port)),
				Protocol:      ecstypes.TransportProtocolTcp,
			}},
		}},
	}
	if attrs["execution_role_arn"] != "" {
		tdIn.ExecutionRoleArn = aws.String(attrs["execution_role_arn"])
	}
	td, err := c.api.RegisterTaskDefinition(ctx, tdIn)
	if err != nil {
		return nil, fmt.Errorf("failed to register task definition %s: %w", attrs["task_family"], err)
	}

	in := &ecs.CreateServiceInput{
		ServiceName:    aws.String(attrs["service_name"]),
		Cluster:        aws.String(attrs["cluster"]),
		TaskDefinition: td.TaskDefinition.TaskDefinitionArn,
		DesiredCount:   aws.Int32(int32(desired)),
		LaunchType:     ecstypes.LaunchTypeFargate,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        splitList(attrs["subnet_ids"]),
				SecurityGroups: splitList(attrs["sg_id"]),
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
		Tags: []ecstypes.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
			{Key: aws.String("ManagedBy"), Value: aws.String(managedByTag)},
		},
	}
	if attrs["target_group_arn"] != "" {
		in.LoadBalancers = []ecstypes.LoadBalancer{{
			TargetGroupArn: aws.String(attrs["target_group_arn"]),
			ContainerName:  aws.String(strOrDefault(attrs, "container_name", "app")),
			ContainerPort:  aws.Int32(int32(port)),
		}}
	}

	out, err := c.api.CreateService(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", attrs["service_name"], err)
	}

	arn := aws.ToString(out.Service.ServiceArn)
	c.logger.Info("container service created", "name", name, "service_arn", arn,
		"task_definition", aws.ToString(td.TaskDefinition.TaskDefinitionArn))
	return &Remote{
		ID:         arn,
		Attributes: attrs,
		Outputs: map[string]string{
			"service_arn":  arn,
			"service_name": attrs["service_name"],
		},
	}, nil
}

func (c *ecsServiceClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	desired, err := strconv.Atoi(strOrDefault(attrs, "desired_count", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid desired_count %q: %w", attrs["desired_count"], err)
	}
	_, err = c.api.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(attrs["cluster"]),
		Service:      aws.String(attrs["service_name"]),
		DesiredCount: aws.Int32(int32(desired)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update service %s: %w", attrs["service_name"], err)
	}
	return c.Observe(ctx, attrs["service_name"], attrs)
}

func (c *ecsServiceClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.api.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: aws.String(attrs["cluster"]),
		Service: aws.String(attrs["service_name"]),
		Force:   aws.Bool(true),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete service %s: %w", remoteID, err)
	}
	return nil
}

// =============================================================================
// Managed Cluster (EKS)
// =============================================================================

// eksAPI is the slice of the EKS client the managed-cluster client calls.
type eksAPI interface {
	DescribeCluster(ctx context.Context, in *eks.DescribeClusterInput, opts ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
	CreateCluster(ctx context.Context, in *eks.CreateClusterInput, opts ...func(*eks.Options)) (*eks.CreateClusterOutput, error)
	UpdateClusterVersion(ctx context.Context, in *eks.UpdateClusterVersionInput, opts ...func(*eks.Options)) (*eks.UpdateClusterVersionOutput, error)
	DeleteCluster(ctx context.Context, in *eks.DeleteClusterInput, opts ...func(*eks.Options)) (*eks.DeleteClusterOutput, error)
}

type eksClusterClient struct {
	api          eksAPI
	logger       *slog.Logger
	pollInterval time.Duration
}

func (c *eksClusterClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.api.DescribeCluster(ctx, &eks.DescribeClusterInput{
		Name: aws.String(attrs["cluster_name"]),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe managed cluster %s: %w", attrs["cluster_name"], err)
	}

	cluster := out.Cluster
	observed := map[string]string{
		"cluster_name": aws.ToString(cluster.Name),
		"version":      aws.ToString(cluster.Version),
		"role_arn":     aws.ToString(cluster.RoleArn),
	}
	if cluster.ResourcesVpcConfig != nil {
		observed["subnet_ids"] = strings.Join(cluster.ResourcesVpcConfig.SubnetIds, ",")
	}

	return &Remote{
		ID:         aws.ToString(cluster.Name),
		Attributes: observed,
		Outputs:    eksClusterOutputs(cluster),
	}, nil
}

func (c *eksClusterClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	in := &eks.CreateClusterInput{
		Name:    aws.String(attrs["cluster_name"]),
		RoleArn: aws.String(attrs["role_arn"]),
		ResourcesVpcConfig: &ekstypes.VpcConfigRequest{
			SubnetIds: splitList(attrs["subnet_ids"]),
		},
		Tags: map[string]string{
			"Name":      name,
			"ManagedBy": managedByTag,
		},
	}
	if attrs["version"] != "" {
		in.Version = aws.String(attrs["version"])
	}

	out, err := c.api.CreateCluster(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create managed cluster %s: %w", attrs["cluster_name"], err)
	}

	c.logger.Info("managed cluster creating",
		"name", name, "cluster_arn", aws.ToString(out.Cluster.Arn))

	// Endpoint and OIDC issuer stay empty until the control plane reaches
	// ACTIVE, and federated role trusts downstream need both.
	cluster, err := c.waitActive(ctx, attrs["cluster_name"])
	if err != nil {
		return nil, err
	}

	c.logger.Info("managed cluster active", "name", name,
		"endpoint", aws.ToString(cluster.Endpoint))
	return &Remote{
		ID:         attrs["cluster_name"],
		Attributes: attrs,
		Outputs:    eksClusterOutputs(cluster),
	}, nil
}

// waitActive polls the control plane until creation finishes. The caller's
// context bounds the wait.
func (c *eksClusterClient) waitActive(ctx context.Context, clusterName string) (*ekstypes.Cluster, error) {
	for {
		out, err := c.api.DescribeCluster(ctx, &eks.DescribeClusterInput{
			Name: aws.String(clusterName),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe managed cluster %s: %w", clusterName, err)
		}
		switch out.Cluster.Status {
		case ekstypes.ClusterStatusActive:
			return out.Cluster, nil
		case ekstypes.ClusterStatusCreating, ekstypes.ClusterStatusPending:
		default:
			return nil, fmt.Errorf("managed cluster %s entered status %s during creation",
				clusterName, out.Cluster.Status)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *eksClusterClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	if attrs["version"] == "" {
		return nil, fmt.Errorf("managed cluster %s: only version can change in place", remoteID)
	}
	_, err := c.api.UpdateClusterVersion(ctx, &eks.UpdateClusterVersionInput{
		Name:    aws.String(remoteID),
		Version: aws.String(attrs["version"]),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update managed cluster %s: %w", remoteID, err)
	}
	return c.Observe(ctx, remoteID, attrs)
}

func (c *eksClusterClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.api.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete managed cluster %s: %w", remoteID, err)
	}
	return nil
}

func eksClusterOutputs(cluster *ekstypes.Cluster) map[string]string {
	outputs := map[string]string{
		"cluster_arn":  aws.ToString(cluster.Arn),
		"cluster_name": aws.ToString(cluster.Name),
		"endpoint":     aws.ToString(cluster.Endpoint),
	}
	if cluster.Identity != nil && cluster.Identity.Oidc != nil {
		outputs["oidc_issuer"] = strings.TrimPrefix(aws.ToString(cluster.Identity.Oidc.Issuer), "https://")
	}
	return outputs
}
