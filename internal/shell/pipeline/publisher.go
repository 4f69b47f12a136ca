package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	smithy "github.com/aws/smithy-go"

	"github.com/stackform/stackform/internal/shell/cloud"
)

// =============================================================================
// Publisher
// =============================================================================

// Publisher promotes a built artifact into the release channel and returns
// the reference the release stage deploys.
type Publisher interface {
	Publish(ctx context.Context, artifactRef string) (string, error)
}

// ecrAPI is the slice of the registry client the publisher needs.
type ecrAPI interface {
	BatchGetImage(ctx context.Context, params *ecr.BatchGetImageInput, optFns ...func(*ecr.Options)) (*ecr.BatchGetImageOutput, error)
	PutImage(ctx context.Context, params *ecr.PutImageInput, optFns ...func(*ecr.Options)) (*ecr.PutImageOutput, error)
}

// ECRPublisher retags an existing image under the release tag: the manifest
// is fetched and put back under the new tag, so no image bytes move. The
// attempt budget and backoff come from the environment profile.
type ECRPublisher struct {
	api           ecrAPI
	repository    string
	repositoryURL string
	releaseTag    string
	maxAttempts   int
	baseDelay     time.Duration
	logger        *slog.Logger
}

// NewECRPublisher creates a publisher for one repository.
func NewECRPublisher(api ecrAPI, repository, repositoryURL, releaseTag string, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *ECRPublisher {
	return &ECRPublisher{
		api:           api,
		repository:    repository,
		repositoryURL: repositoryURL,
		releaseTag:    releaseTag,
		maxAttempts:   maxAttempts,
		baseDelay:     baseDelay,
		logger:        logger.With("component", "publisher"),
	}
}

// Publish retags artifactRef under the release tag. Transient registry
// failures are retried up to the attempt budget; exhaustion reports
// PublishFailed. A release tag that already points at the manifest is
// success, keeping the stage idempotent.
func (p *ECRPublisher) Publish(ctx context.Context, artifactRef string) (string, error) {
	sourceTag := artifactTag(artifactRef)
	releaseRef := fmt.Sprintf("%s:%s", p.repositoryURL, p.releaseTag)

	delay := p.baseDelay
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := p.retag(ctx, sourceTag)
		if err == nil {
			p.logger.Info("artifact published",
				"artifact", artifactRef, "release_ref", releaseRef, "attempt", attempt)
			return releaseRef, nil
		}
		if !cloud.IsTransient(err) {
			return "", err
		}

		lastErr = err
		p.logger.Warn("transient publish failure, retrying",
			"artifact", artifactRef, "attempt", attempt, "error", err)
	}

	return "", fmt.Errorf("%w: %s after %d attempts: %w",
		ErrPublishFailed, artifactRef, p.maxAttempts, lastErr)
}

func (p *ECRPublisher) retag(ctx context.Context, sourceTag string) error {
	out, err := p.api.BatchGetImage(ctx, &ecr.BatchGetImageInput{
		RepositoryName: aws.String(p.repository),
		ImageIds:       []ecrtypes.ImageIdentifier{{ImageTag: aws.String(sourceTag)}},
	})
	if err != nil {
		return fmt.Errorf("failed to fetch manifest of %s:%s: %w", p.repository, sourceTag, err)
	}
	if len(out.Images) == 0 {
		return fmt.Errorf("%w: %s:%s", ErrArtifactNotFound, p.repository, sourceTag)
	}

	_, err = p.api.PutImage(ctx, &ecr.PutImageInput{
		RepositoryName: aws.String(p.repository),
		ImageManifest:  out.Images[0].ImageManifest,
		ImageTag:       aws.String(p.releaseTag),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ImageAlreadyExistsException" {
			return nil
		}
		return fmt.Errorf("failed to tag %s as %s: %w", p.repository, p.releaseTag, err)
	}
	return nil
}

// artifactTag extracts the tag from an image reference, defaulting to
// "latest" for untagged references.
func artifactTag(ref string) string {
	// Digests and registry ports both use ':'; the tag is the segment after
	// the last colon that follows the last slash.
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[colon+1:]
	}
	return "latest"
}
