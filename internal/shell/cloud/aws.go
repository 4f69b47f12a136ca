package cloud

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/stackform/stackform/internal/core/reconcile"
)

// AWSConfig holds the credentials and region every service client shares.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// awsClients bundles the per-service API clients. Each resource-kind client
// picks the services it needs from here so the whole registry shares one
// credential set.
type awsClients struct {
	region string
	ec2    *ec2.Client
	ecr    *ecr.Client
	s3     *s3.Client
	sns    *sns.Client
	sqs    *sqs.Client
	iam    *iam.Client
	elb    *elbv2.Client
	ecs    *ecs.Client
	eks    *eks.Client
	logger *slog.Logger
}

func newAWSClients(cfg AWSConfig, logger *slog.Logger) *awsClients {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	return &awsClients{
		region: cfg.Region,
		ec2:    ec2.New(ec2.Options{Region: cfg.Region, Credentials: creds}),
		ecr:    ecr.New(ecr.Options{Region: cfg.Region, Credentials: creds}),
		s3:     s3.New(s3.Options{Region: cfg.Region, Credentials: creds}),
		sns:    sns.New(sns.Options{Region: cfg.Region, Credentials: creds}),
		sqs:    sqs.New(sqs.Options{Region: cfg.Region, Credentials: creds}),
		iam:    iam.New(iam.Options{Region: cfg.Region, Credentials: creds}),
		elb:    elbv2.New(elbv2.Options{Region: cfg.Region, Credentials: creds}),
		ecs:    ecs.New(ecs.Options{Region: cfg.Region, Credentials: creds}),
		eks:    eks.New(eks.Options{Region: cfg.Region, Credentials: creds}),
		logger: logger.With("provider", "aws"),
	}
}

// NewAWSRegistry builds the full kind-to-client registry backed by AWS.
func NewAWSRegistry(cfg AWSConfig, logger *slog.Logger) Registry {
	c := newAWSClients(cfg, logger)
	return Registry{
		reconcile.KindVPC:           &vpcClient{c},
		reconcile.KindSubnet:        &subnetClient{c},
		reconcile.KindSecurityGroup: &securityGroupClient{c},
		reconcile.KindRegistry:      &registryClient{c},
		reconcile.KindBucket:        &bucketClient{c},
		reconcile.KindTopic:         &topicClient{c},
		reconcile.KindQueue:         &queueClient{c},
		reconcile.KindSubscription:  &subscriptionClient{api: c.sns, logger: c.logger},
		reconcile.KindQueuePolicy:   &queuePolicyClient{c},
		reconcile.KindRole:          &roleClient{c},
		reconcile.KindRolePolicy:    &rolePolicyClient{c},
		reconcile.KindLoadBalancer:  &loadBalancerClient{c},
		reconcile.KindTargetGroup:   &targetGroupClient{c},
		reconcile.KindECSCluster:    &ecsClusterClient{c},
		reconcile.KindECSService:    &ecsServiceClient{api: c.ecs, logger: c.logger},
		reconcile.KindEKSCluster:    &eksClusterClient{api: c.eks, logger: c.logger, pollInterval: eksPollInterval},
	}
}

// NewECRClient builds a standalone ECR client for the publish stage.
func NewECRClient(cfg AWSConfig) *ecr.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	return ecr.New(ecr.Options{Region: cfg.Region, Credentials: creds})
}

// NewECSClient builds a standalone ECS client for the release stage.
func NewECSClient(cfg AWSConfig) *ecs.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	return ecs.New(ecs.Options{Region: cfg.Region, Credentials: creds})
}

// managedByTag marks every taggable resource so destroy never touches
// infrastructure stackform did not create.
const managedByTag = "stackform"

// eksPollInterval spaces the DescribeCluster calls while a control plane
// comes up; creation routinely takes ten minutes or more.
const eksPollInterval = 15 * time.Second

func strOrDefault(attrs map[string]string, key, fallback string) string {
	if v, ok := attrs[key]; ok && v != "" {
		return v
	}
	return fallback
}
