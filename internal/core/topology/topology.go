// Package topology validates the messaging sub-graph (object store +
// notification topic + work queue + dead-letter queue + subscription +
// queue access policy) before any of it is applied. Its invariants are
// sharper than generic reconciliation: a topology that passes generic
// diffing can still be insecure or miswired. This is part of the
// Functional Core - all functions are pure with no I/O.
package topology

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/stackform/stackform/internal/core/reconcile"
	"github.com/stackform/stackform/internal/core/stack"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrMissingBucket          = errors.New("topology must declare exactly one object bucket")
	ErrMissingTopic           = errors.New("topology must declare exactly one notification topic")
	ErrMissingQueue           = errors.New("topology must declare a primary work queue")
	ErrMissingDeadLetter      = errors.New("topology must declare a dead-letter queue")
	ErrMissingSubscription    = errors.New("topology must declare a topic subscription")
	ErrMissingAccessPolicy    = errors.New("topology must declare a queue access policy")
	ErrSelfRedrive            = errors.New("queue redrive target must be the dead-letter queue, not the queue itself")
	ErrInvalidRedriveCount    = errors.New("redrive max_receive_count must be a positive integer")
	ErrDanglingSubscription   = errors.New("subscription endpoint must reference a queue declared in the same batch")
	ErrOverPermissivePolicy   = errors.New("over-permissive queue access policy")
	ErrPolicyMissingCondition = errors.New("queue access policy must pin the source topic")
)

// PolicyError wraps an access-policy validation failure with the offending
// resource and field for diagnostics.
type PolicyError struct {
	Resource string
	Field    string
	Value    string
	Err      error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("queue access policy %s: %s=%q: %v", e.Resource, e.Field, e.Value, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Topology Shape
// =============================================================================

// NotificationServicePrincipal is the only principal a queue access policy
// may grant SendMessage to.
const NotificationServicePrincipal = "sns.amazonaws.com"

// Topology is the validated shape of a messaging module, keyed by resource
// name so the reconciler and dependents can address the pieces directly.
type Topology struct {
	Bucket       stack.ResourceSpec
	Topic        stack.ResourceSpec
	Queue        stack.ResourceSpec
	DeadLetter   stack.ResourceSpec
	Subscription stack.ResourceSpec
	AccessPolicy stack.ResourceSpec
}

// Validate checks a messaging module against the topology invariants and
// returns its validated shape. It must be called - and must pass - before
// any resource in the module is applied:
//
//   - the dead-letter queue is distinct from the primary queue, and the
//     primary's redrive targets the dead-letter queue with a positive
//     max_receive_count (no self-redrive cycles)
//   - the subscription endpoint references a queue declared in this module
//   - the access policy grants SendMessage only to the notification service
//     principal and pins the source topic; a wildcard principal or a
//     missing source-topic condition is insecure by construction
func Validate(m stack.Module) (*Topology, error) {
	t := &Topology{}

	buckets := m.ResourcesOfKind(reconcile.KindBucket)
	if len(buckets) != 1 {
		return nil, ErrMissingBucket
	}
	t.Bucket = buckets[0]

	topics := m.ResourcesOfKind(reconcile.KindTopic)
	if len(topics) != 1 {
		return nil, ErrMissingTopic
	}
	t.Topic = topics[0]

	if err := t.splitQueues(m); err != nil {
		return nil, err
	}
	if err := t.checkRedrive(); err != nil {
		return nil, err
	}
	if err := t.checkSubscription(m); err != nil {
		return nil, err
	}
	if err := t.checkAccessPolicy(m); err != nil {
		return nil, err
	}
	return t, nil
}

// splitQueues identifies the primary queue (the one carrying a redrive
// declaration) and the dead-letter queue.
func (t *Topology) splitQueues(m stack.Module) error {
	queues := m.ResourcesOfKind(reconcile.KindQueue)
	for _, q := range queues {
		if q.Attributes["redrive_target"] != "" {
			t.Queue = q
		} else {
			t.DeadLetter = q
		}
	}
	if t.Queue.Name == "" {
		return ErrMissingQueue
	}
	if t.DeadLetter.Name == "" {
		return ErrMissingDeadLetter
	}
	return nil
}

func (t *Topology) checkRedrive() error {
	target := t.Queue.Attributes["redrive_target"]
	if target == t.Queue.Name {
		return ErrSelfRedrive
	}
	if target != t.DeadLetter.Name {
		return fmt.Errorf("%w: redrive_target %q is not the dead-letter queue %q",
			ErrMissingDeadLetter, target, t.DeadLetter.Name)
	}
	count, err := strconv.Atoi(t.Queue.Attributes["max_receive_count"])
	if err != nil || count <= 0 {
		return fmt.Errorf("%w: got %q", ErrInvalidRedriveCount, t.Queue.Attributes["max_receive_count"])
	}
	return nil
}

func (t *Topology) checkSubscription(m stack.Module) error {
	subs := m.ResourcesOfKind(reconcile.KindSubscription)
	if len(subs) != 1 {
		return ErrMissingSubscription
	}
	t.Subscription = subs[0]

	if t.Subscription.Attributes["protocol"] != "sqs" {
		return fmt.Errorf("%w: protocol %q", ErrDanglingSubscription, t.Subscription.Attributes["protocol"])
	}
	endpoint := t.Subscription.Attributes["endpoint"]
	if _, ok := m.Resource(endpoint); !ok || endpoint != t.Queue.Name {
		return fmt.Errorf("%w: endpoint %q", ErrDanglingSubscription, endpoint)
	}
	return nil
}

func (t *Topology) checkAccessPolicy(m stack.Module) error {
	policies := m.ResourcesOfKind(reconcile.KindQueuePolicy)
	if len(policies) != 1 {
		return ErrMissingAccessPolicy
	}
	t.AccessPolicy = policies[0]
	attrs := t.AccessPolicy.Attributes

	if principal := attrs["principal_service"]; principal != NotificationServicePrincipal {
		return &PolicyError{
			Resource: t.AccessPolicy.Name,
			Field:    "principal_service",
			Value:    principal,
			Err:      ErrOverPermissivePolicy,
		}
	}
	if attrs["action"] != "sqs:SendMessage" {
		return &PolicyError{
			Resource: t.AccessPolicy.Name,
			Field:    "action",
			Value:    attrs["action"],
			Err:      ErrOverPermissivePolicy,
		}
	}
	if attrs["queue"] != t.Queue.Name {
		return &PolicyError{
			Resource: t.AccessPolicy.Name,
			Field:    "queue",
			Value:    attrs["queue"],
			Err:      ErrMissingAccessPolicy,
		}
	}
	if attrs["source_topic"] != t.Topic.Name {
		return &PolicyError{
			Resource: t.AccessPolicy.Name,
			Field:    "source_topic",
			Value:    attrs["source_topic"],
			Err:      ErrPolicyMissingCondition,
		}
	}
	return nil
}

// IsMessagingModule reports whether the module declares the full fan-out
// shape, a topic feeding queues, and therefore must pass topology validation
// before apply. Standalone queues and topics carry no cross-resource wiring
// to validate.
func IsMessagingModule(m stack.Module) bool {
	return len(m.ResourcesOfKind(reconcile.KindTopic)) > 0 &&
		len(m.ResourcesOfKind(reconcile.KindQueue)) > 0
}
