package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

// =============================================================================
// Container Registry (ECR)
// =============================================================================

type registryClient struct {
	aws *awsClients
}

func (c *registryClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{attrs["repository_name"]},
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe repository %s: %w", attrs["repository_name"], err)
	}
	if len(out.Repositories) == 0 {
		return nil, nil
	}

	repo := out.Repositories[0]
	scanOnPush := "false"
	if repo.ImageScanningConfiguration != nil && repo.ImageScanningConfiguration.ScanOnPush {
		scanOnPush = "true"
	}
	return &Remote{
		ID: aws.ToString(repo.RepositoryName),
		Attributes: map[string]string{
			"repository_name": aws.ToString(repo.RepositoryName),
			"scan_on_push":    scanOnPush,
		},
		Outputs: repositoryOutputs(repo),
	}, nil
}

func (c *registryClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(attrs["repository_name"]),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: attrs["scan_on_push"] == "true",
		},
		Tags: []ecrtypes.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
			{Key: aws.String("ManagedBy"), Value: aws.String(managedByTag)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository %s: %w", attrs["repository_name"], err)
	}

	repo := *out.Repository
	c.aws.logger.Info("container repository created",
		"name", name, "repository_url", aws.ToString(repo.RepositoryUri))
	return &Remote{
		ID:         aws.ToString(repo.RepositoryName),
		Attributes: attrs,
		Outputs:    repositoryOutputs(repo),
	}, nil
}

func (c *registryClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	_, err := c.aws.ecr.PutImageScanningConfiguration(ctx, &ecr.PutImageScanningConfigurationInput{
		RepositoryName: aws.String(remoteID),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: attrs["scan_on_push"] == "true",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update repository %s: %w", remoteID, err)
	}
	return c.Observe(ctx, remoteID, attrs)
}

func (c *registryClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.ecr.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: aws.String(remoteID),
		Force:          true,
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete repository %s: %w", remoteID, err)
	}
	return nil
}

func repositoryOutputs(repo ecrtypes.Repository) map[string]string {
	return map[string]string{
		"repository_name": aws.ToString(repo.RepositoryName),
		"repository_url":  aws.ToString(repo.RepositoryUri),
		"repository_arn":  aws.ToString(repo.RepositoryArn),
		"registry_id":     aws.ToString(repo.RegistryId),
	}
}
