package reconcile

// =============================================================================
// Resource Kinds
// =============================================================================

// Resource kinds understood by the reconciler. The shell registers one cloud
// client per kind; the planner only needs the immutable-attribute sets.
const (
	KindVPC           = "vpc"
	KindSubnet        = "subnet"
	KindSecurityGroup = "security_group"
	KindRegistry      = "container_registry"
	KindBucket        = "object_bucket"
	KindTopic         = "notification_topic"
	KindQueue         = "work_queue"
	KindSubscription  = "topic_subscription"
	KindQueuePolicy   = "queue_access_policy"
	KindRole          = "execution_role"
	KindRolePolicy    = "role_policy"
	KindLoadBalancer  = "load_balancer"
	KindTargetGroup   = "target_group"
	KindECSCluster    = "container_cluster"
	KindECSService    = "container_service"
	KindEKSCluster    = "managed_cluster"
)

// immutableAttributes lists, per kind, the declared attributes that the
// remote API cannot change in place. Divergence in any of these is an
// ImmutableAttributeConflict, never an implicit replace.
var immutableAttributes = map[string][]string{
	KindVPC:           {"cidr_block"},
	KindSubnet:        {"cidr_blocks", "availability_zones", "vpc_id"},
	KindSecurityGroup: {"vpc_id"},
	KindRegistry:      {"repository_name"},
	KindBucket:        {"bucket_name", "region"},
	KindTopic:         {"topic_name", "fifo"},
	KindQueue:         {"queue_name", "fifo"},
	KindSubscription:  {"topic_arn", "protocol", "endpoint"},
	KindQueuePolicy:   {"queue_url"},
	KindRole:          {"role_name"},
	KindRolePolicy:    {"role_name", "policy_name"},
	KindLoadBalancer:  {"lb_name", "scheme"},
	KindTargetGroup:   {"tg_name", "vpc_id", "protocol"},
	KindECSCluster:    {"cluster_name"},
	KindECSService:    {"service_name", "cluster"},
	KindEKSCluster:    {"cluster_name"},
}

// ImmutableAttributes returns the immutable attribute names for kind.
// Unknown kinds have no immutable attributes.
func ImmutableAttributes(kind string) []string {
	return immutableAttributes[kind]
}
