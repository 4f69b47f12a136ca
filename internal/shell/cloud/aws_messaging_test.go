package cloud

import (
	"context"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform/stackform/internal/core/reconcile"
)

type fakeSNS struct {
	subscriptions []snstypes.Subscription
}

func (f *fakeSNS) ListSubscriptionsByTopic(ctx context.Context, in *sns.ListSubscriptionsByTopicInput, _ ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error) {
	return &sns.ListSubscriptionsByTopicOutput{Subscriptions: f.subscriptions}, nil
}

func (f *fakeSNS) Subscribe(ctx context.Context, in *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	return &sns.SubscribeOutput{SubscriptionArn: aws.String("arn:aws:sns:eu-west-1:1:events:sub-1")}, nil
}

func (f *fakeSNS) Unsubscribe(ctx context.Context, in *sns.UnsubscribeInput, _ ...func(*sns.Options)) (*sns.UnsubscribeOutput, error) {
	return &sns.UnsubscribeOutput{}, nil
}

// An unchanged subscription found without a stored marker must plan a noop;
// the symbolic topic name never exists on the provider side.
func TestSubscriptionObserve_UnchangedSubscriptionPlansNoop(t *testing.T) {
	fake := &fakeSNS{subscriptions: []snstypes.Subscription{{
		SubscriptionArn: aws.String("arn:aws:sns:eu-west-1:1:events:sub-1"),
		Protocol:        aws.String("sqs"),
		Endpoint:        aws.String("arn:aws:sqs:eu-west-1:1:jobs"),
	}}}
	client := &subscriptionClient{api: fake, logger: slog.Default()}

	declared := map[string]string{
		"topic":        "events",
		"protocol":     "sqs",
		"endpoint":     "jobs",
		"topic_arn":    "arn:aws:sns:eu-west-1:1:events",
		"endpoint_arn": "arn:aws:sqs:eu-west-1:1:jobs",
	}
	remote, err := client.Observe(context.Background(), "events_to_jobs", declared)
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, "events", remote.Attributes["topic"])

	step, err := reconcile.Plan("messaging", reconcile.KindSubscription, "events_to_jobs",
		declared, remote.Attributes, reconcile.ImmutableAttributes(reconcile.KindSubscription))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OpNoop, step.Op)
}
