package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// =============================================================================
// Object Bucket (S3)
// =============================================================================

type bucketClient struct {
	aws *awsClients
}

func (c *bucketClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	bucket := attrs["bucket_name"]
	_, err := c.aws.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to head bucket %s: %w", bucket, err)
	}

	versioning := "false"
	ver, err := c.aws.s3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(bucket)})
	if err == nil && ver.Status == s3types.BucketVersioningStatusEnabled {
		versioning = "true"
	}

	return &Remote{
		ID: bucket,
		Attributes: map[string]string{
			"bucket_name": bucket,
			"region":      c.aws.region,
			"versioning":  versioning,
		},
		Outputs: bucketOutputs(bucket),
	}, nil
}

func (c *bucketClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	bucket := attrs["bucket_name"]
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if c.aws.region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(c.aws.region),
		}
	}
	if _, err := c.aws.s3.CreateBucket(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	if attrs["versioning"] == "true" {
		if err := c.setVersioning(ctx, bucket, true); err != nil {
			return nil, err
		}
	}

	c.aws.logger.Info("bucket created", "name", name, "bucket", bucket)
	return &Remote{ID: bucket, Attributes: attrs, Outputs: bucketOutputs(bucket)}, nil
}

func (c *bucketClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	if err := c.setVersioning(ctx, remoteID, attrs["versioning"] == "true"); err != nil {
		return nil, err
	}
	return &Remote{ID: remoteID, Attributes: attrs, Outputs: bucketOutputs(remoteID)}, nil
}

func (c *bucketClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.s3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete bucket %s: %w", remoteID, err)
	}
	return nil
}

func (c *bucketClient) setVersioning(ctx context.Context, bucket string, enabled bool) error {
	status := s3types.BucketVersioningStatusSuspended
	if enabled {
		status = s3types.BucketVersioningStatusEnabled
	}
	_, err := c.aws.s3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket:                  aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{Status: status},
	})
	if err != nil {
		return fmt.Errorf("failed to set versioning on bucket %s: %w", bucket, err)
	}
	return nil
}

func bucketOutputs(bucket string) map[string]string {
	return map[string]string{
		"bucket_name": bucket,
		"bucket_arn":  "arn:aws:s3:::" + bucket,
	}
}

// =============================================================================
// Notification Topic (SNS)
// =============================================================================

type topicClient struct {
	aws *awsClients
}

func (c *topicClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	arn, err := c.findTopicARN(ctx, attrs["topic_name"])
	if err != nil {
		return nil, err
	}
	if arn == "" {
		return nil, nil
	}

	out, err := c.aws.sns.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(arn)})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get topic attributes %s: %w", arn, err)
	}

	observed := map[string]string{
		"topic_name":   attrs["topic_name"],
		"fifo":         boolAttr(out.Attributes["FifoTopic"] == "true"),
		"display_name": out.Attributes["DisplayName"],
	}
	return &Remote{
		ID:         arn,
		Attributes: observed,
		Outputs:    map[string]string{"topic_arn": arn},
	}, nil
}

func (c *topicClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	topicAttrs := map[string]string{}
	if attrs["fifo"] == "true" {
		topicAttrs["FifoTopic"] = "true"
	}
	if attrs["display_name"] != "" {
		topicAttrs["DisplayName"] = attrs["display_name"]
	}

	out, err := c.aws.sns.CreateTopic(ctx, &sns.CreateTopicInput{
		Name:       aws.String(attrs["topic_name"]),
		Attributes: topicAttrs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create topic %s: %w", attrs["topic_name"], err)
	}

	arn := aws.ToString(out.TopicArn)
	c.aws.logger.Info("topic created", "name", name, "topic_arn", arn)
	return &Remote{
		ID:         arn,
		Attributes: attrs,
		Outputs:    map[string]string{"topic_arn": arn},
	}, nil
}

func (c *topicClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	_, err := c.aws.sns.SetTopicAttributes(ctx, &sns.SetTopicAttributesInput{
		TopicArn:       aws.String(remoteID),
		AttributeName:  aws.String("DisplayName"),
		AttributeValue: aws.String(attrs["display_name"]),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update topic %s: %w", remoteID, err)
	}
	return &Remote{
		ID:         remoteID,
		Attributes: attrs,
		Outputs:    map[string]string{"topic_arn": remoteID},
	}, nil
}

func (c *topicClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.sns.DeleteTopic(ctx, &sns.DeleteTopicInput{TopicArn: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete topic %s: %w", remoteID, err)
	}
	return nil
}

func (c *topicClient) findTopicARN(ctx context.Context, topicName string) (string, error) {
	suffix := ":" + topicName
	var next *string
	for {
		out, err := c.aws.sns.ListTopics(ctx, &sns.ListTopicsInput{NextToken: next})
		if err != nil {
			return "", fmt.Errorf("failed to list topics: %w", err)
		}
		for _, t := range out.Topics {
			arn := aws.ToString(t.TopicArn)
			if len(arn) > len(suffix) && arn[len(arn)-len(suffix):] == suffix {
				return arn, nil
			}
		}
		if out.NextToken == nil {
			return "", nil
		}
		next = out.NextToken
	}
}

// =============================================================================
// Work Queue (SQS)
// =============================================================================

type queueClient struct {
	aws *awsClients
}

func (c *queueClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	urlOut, err := c.aws.sqs.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(attrs["queue_name"]),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get queue URL %s: %w", attrs["queue_name"], err)
	}

	queueURL := aws.ToString(urlOut.QueueUrl)
	attrOut, err := c.aws.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get queue attributes %s: %w", queueURL, err)
	}

	raw := attrOut.Attributes
	observed := map[string]string{
		"queue_name":         attrs["queue_name"],
		"fifo":               boolAttr(raw["FifoQueue"] == "true"),
		"visibility_timeout": raw["VisibilityTimeout"],
		"retention":          raw["MessageRetentionPeriod"],
	}
	if policyJSON, ok := raw["RedrivePolicy"]; ok && policyJSON != "" {
		var rp redrivePolicy
		if err := json.Unmarshal([]byte(policyJSON), &rp); err != nil {
			return nil, fmt.Errorf("queue %s has malformed redrive policy: %w", queueURL, err)
		}
		observed["dlq_arn"] = rp.DeadLetterTargetArn
		observed["max_receive_count"] = fmt.Sprintf("%d", rp.MaxReceiveCount)
		// redrive_target names a sibling resource, not anything the provider
		// stores; carry the declaration through when the remote side matches.
		if attrs["dlq_arn"] == rp.DeadLetterTargetArn {
			observed["redrive_target"] = attrs["redrive_target"]
		}
	}

	return &Remote{
		ID:         queueURL,
		Attributes: observed,
		Outputs: map[string]string{
			"queue_url": queueURL,
			"queue_arn": raw["QueueArn"],
		},
	}, nil
}

func (c *queueClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.sqs.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(attrs["queue_name"]),
		Attributes: queueCreateAttributes(attrs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue %s: %w", attrs["queue_name"], err)
	}

	queueURL := aws.ToString(out.QueueUrl)
	arnOut, err := c.aws.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ARN of queue %s: %w", queueURL, err)
	}

	c.aws.logger.Info("queue created", "name", name, "queue_url", queueURL)
	return &Remote{
		ID:         queueURL,
		Attributes: attrs,
		Outputs: map[string]string{
			"queue_url": queueURL,
			"queue_arn": arnOut.Attributes["QueueArn"],
		},
	}, nil
}

func (c *queueClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	_, err := c.aws.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(remoteID),
		Attributes: queueCreateAttributes(attrs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update queue %s: %w", remoteID, err)
	}
	return c.Observe(ctx, remoteID, attrs)
}

func (c *queueClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.sqs.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete queue %s: %w", remoteID, err)
	}
	return nil
}

type redrivePolicy struct {
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	MaxReceiveCount     int    `json:"maxReceiveCount,string"`
}

func queueCreateAttributes(attrs map[string]string) map[string]string {
	out := map[string]string{}
	if attrs["fifo"] == "true" {
		out["FifoQueue"] = "true"
	}
	if v := attrs["visibility_timeout"]; v != "" {
		out["VisibilityTimeout"] = v
	}
	if v := attrs["retention"]; v != "" {
		out["MessageRetentionPeriod"] = v
	}
	if arn := attrs["dlq_arn"]; arn != "" {
		rp, _ := json.Marshal(map[string]string{
			"deadLetterTargetArn": arn,
			"maxReceiveCount":     attrs["max_receive_count"],
		})
		out["RedrivePolicy"] = string(rp)
	}
	return out
}

// =============================================================================
// Topic Subscription (SNS -> SQS)
// =============================================================================

// snsSubscriptionAPI is the slice of the SNS client the subscription client
// calls. Narrowed so tests can fake it.
type snsSubscriptionAPI interface {
	ListSubscriptionsByTopic(ctx context.Context, in *sns.ListSubscriptionsByTopicInput, opts ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	Subscribe(ctx context.Context, in *sns.SubscribeInput, opts ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Unsubscribe(ctx context.Context, in *sns.UnsubscribeInput, opts ...func(*sns.Options)) (*sns.UnsubscribeOutput, error)
}

type subscriptionClient struct {
	api    snsSubscriptionAPI
	logger *slog.Logger
}

func (c *subscriptionClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	var next *string
	for {
		out, err := c.api.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(attrs["topic_arn"]),
			NextToken: next,
		})
		if err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to list subscriptions for %s: %w", attrs["topic_arn"], err)
		}
		for _, sub := range out.Subscriptions {
			if aws.ToString(sub.Endpoint) != attrs["endpoint_arn"] {
				continue
			}
			arn := aws.ToString(sub.SubscriptionArn)
			// topic names a sibling resource, not anything the provider
			// stores; the listing was scoped to the declared topic ARN, so
			// the declaration holds for any match.
			return &Remote{
				ID: arn,
				Attributes: map[string]string{
					"topic":        attrs["topic"],
					"topic_arn":    attrs["topic_arn"],
					"protocol":     aws.ToString(sub.Protocol),
					"endpoint":     attrs["endpoint"],
					"endpoint_arn": aws.ToString(sub.Endpoint),
				},
				Outputs: map[string]string{"subscription_arn": arn},
			}, nil
		}
		if out.NextToken == nil {
			return nil, nil
		}
		next = out.NextToken
	}
}

func (c *subscriptionClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.api.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(attrs["topic_arn"]),
		Protocol:              aws.String(attrs["protocol"]),
		Endpoint:              aws.String(attrs["endpoint_arn"]),
		ReturnSubscriptionArn: true,
		Attributes:            map[string]string{"RawMessageDelivery": "true"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s to %s: %w", attrs["endpoint_arn"], attrs["topic_arn"], err)
	}

	arn := aws.ToString(out.SubscriptionArn)
	c.logger.Info("subscription created", "name", name, "subscription_arn", arn)
	return &Remote{
		ID:         arn,
		Attributes: attrs,
		Outputs:    map[string]string{"subscription_arn": arn},
	}, nil
}

func (c *subscriptionClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	return nil, fmt.Errorf("subscription %s has no attributes that can change in place", remoteID)
}

func (c *subscriptionClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.api.Unsubscribe(ctx, &sns.UnsubscribeInput{SubscriptionArn: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to unsubscribe %s: %w", remoteID, err)
	}
	return nil
}

// =============================================================================
// Queue Access Policy
// =============================================================================

// queuePolicyClient manages the SQS resource policy that lets the topic's
// service principal deliver into the primary queue. The policy document is a
// single-statement grant scoped by source ARN.
type queuePolicyClient struct {
	aws *awsClients
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

func (c *queuePolicyClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(attrs["queue_url"]),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNamePolicy},
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get policy of queue %s: %w", attrs["queue_url"], err)
	}

	raw, ok := out.Attributes["Policy"]
	if !ok || raw == "" {
		return nil, nil
	}

	var doc policyDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("queue %s has malformed access policy: %w", attrs["queue_url"], err)
	}
	if len(doc.Statement) == 0 {
		return nil, nil
	}

	stmt := doc.Statement[0]
	observed := map[string]string{
		"queue_url":         attrs["queue_url"],
		"queue_arn":         stmt.Resource,
		"principal_service": stmt.Principal["Service"],
		"action":            stmt.Action,
	}
	if cond, ok := stmt.Condition["ArnEquals"]; ok {
		observed["source_topic_arn"] = cond["aws:SourceArn"]
	}
	// queue and source_topic name sibling resources; the provider only
	// stores their ARNs, so carry the declared names when the ARNs agree.
	if attrs["queue_arn"] == stmt.Resource {
		observed["queue"] = attrs["queue"]
	}
	if observed["source_topic_arn"] == attrs["source_topic_arn"] {
		observed["source_topic"] = attrs["source_topic"]
	}

	return &Remote{
		ID:         attrs["queue_url"],
		Attributes: observed,
		Outputs:    map[string]string{"policy_queue_url": attrs["queue_url"]},
	}, nil
}

func (c *queuePolicyClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Service": attrs["principal_service"]},
			Action:    attrs["action"],
			Resource:  attrs["queue_arn"],
			Condition: map[string]map[string]string{
				"ArnEquals": {"aws:SourceArn": attrs["source_topic_arn"]},
			},
		}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode access policy for %s: %w", name, err)
	}

	_, err = c.aws.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(attrs["queue_url"]),
		Attributes: map[string]string{"Policy": string(raw)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set policy on queue %s: %w", attrs["queue_url"], err)
	}

	c.aws.logger.Info("queue access policy set", "name", name, "queue_url", attrs["queue_url"])
	return &Remote{
		ID:         attrs["queue_url"],
		Attributes: attrs,
		Outputs:    map[string]string{"policy_queue_url": attrs["queue_url"]},
	}, nil
}

func (c *queuePolicyClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	return c.Create(ctx, "", attrs)
}

func (c *queuePolicyClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(remoteID),
		Attributes: map[string]string{"Policy": ""},
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to clear policy on queue %s: %w", remoteID, err)
	}
	return nil
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
