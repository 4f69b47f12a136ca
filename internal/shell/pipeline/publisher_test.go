package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeECR struct {
	getErrs []error
	putErrs []error

	getCalls int
	putCalls int
	putTags  []string
}

func (f *fakeECR) BatchGetImage(ctx context.Context, params *ecr.BatchGetImageInput, optFns ...func(*ecr.Options)) (*ecr.BatchGetImageOutput, error) {
	f.getCalls++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ecr.BatchGetImageOutput{
		Images: []ecrtypes.Image{{ImageManifest: aws.String(`{"schemaVersion":2}`)}},
	}, nil
}

func (f *fakeECR) PutImage(ctx context.Context, params *ecr.PutImageInput, optFns ...func(*ecr.Options)) (*ecr.PutImageOutput, error) {
	f.putCalls++
	f.putTags = append(f.putTags, aws.ToString(params.ImageTag))
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ecr.PutImageOutput{}, nil
}

func newTestPublisher(api ecrAPI, maxAttempts int) *ECRPublisher {
	return NewECRPublisher(api, "app/service", "123.dkr.ecr.eu-west-1.amazonaws.com/app/service",
		"release", maxAttempts, time.Millisecond, slog.Default())
}

func TestPublish_RetagsUnderReleaseTag(t *testing.T) {
	api := &fakeECR{}
	p := newTestPublisher(api, 3)

	ref, err := p.Publish(context.Background(), "123.dkr.ecr.eu-west-1.amazonaws.com/app/service:build-42")
	require.NoError(t, err)

	assert.Equal(t, "123.dkr.ecr.eu-west-1.amazonaws.com/app/service:release", ref)
	assert.Equal(t, []string{"release"}, api.putTags)
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	api := &fakeECR{
		getErrs: []error{
			&smithy.GenericAPIError{Code: "ThrottlingException"},
			&smithy.GenericAPIError{Code: "ThrottlingException"},
		},
	}
	p := newTestPublisher(api, 3)

	_, err := p.Publish(context.Background(), "app/service:build-42")
	require.NoError(t, err)
	assert.Equal(t, 3, api.getCalls)
}

func TestPublish_ExhaustionReportsPublishFailed(t *testing.T) {
	api := &fakeECR{
		getErrs: []error{
			&smithy.GenericAPIError{Code: "ThrottlingException"},
			&smithy.GenericAPIError{Code: "ThrottlingException"},
			&smithy.GenericAPIError{Code: "ThrottlingException"},
		},
	}
	p := newTestPublisher(api, 3)

	_, err := p.Publish(context.Background(), "app/service:build-42")
	require.ErrorIs(t, err, ErrPublishFailed)
	assert.Equal(t, 3, api.getCalls)
}

func TestPublish_NonTransientFailureIsImmediate(t *testing.T) {
	api := &fakeECR{getErrs: []error{&smithy.GenericAPIError{Code: "AccessDeniedException"}}}
	p := newTestPublisher(api, 3)

	_, err := p.Publish(context.Background(), "app/service:build-42")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPublishFailed)
	assert.Equal(t, 1, api.getCalls)
}

func TestPublish_ExistingReleaseTagIsSuccess(t *testing.T) {
	api := &fakeECR{putErrs: []error{&smithy.GenericAPIError{Code: "ImageAlreadyExistsException"}}}
	p := newTestPublisher(api, 3)

	_, err := p.Publish(context.Background(), "app/service:build-42")
	assert.NoError(t, err)
}

func TestArtifactTag(t *testing.T) {
	assert.Equal(t, "build-42", artifactTag("registry.example/app:build-42"))
	assert.Equal(t, "v1.2.3", artifactTag("registry.example:5000/app:v1.2.3"))
	assert.Equal(t, "latest", artifactTag("registry.example:5000/app"))
	assert.Equal(t, "latest", artifactTag("app"))
}
