// Package identity constructs scoped execution identities: a trust policy
// binding a federated principal to an execution role, plus a permission set
// derived from the messaging topology's resource identifiers. This is part
// of the Functional Core - all functions are pure with no I/O.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrInvalidTrustCondition is returned before role creation when a trust
	// policy's subject or audience condition deviates from the required
	// form. A malformed condition either blocks legitimate access or, worse,
	// silently widens it.
	ErrInvalidTrustCondition = errors.New("invalid trust condition")

	// ErrMissingTopologyOutput is returned when a permission set is derived
	// from an incomplete topology output set.
	ErrMissingTopologyOutput = errors.New("missing topology output")
)

// =============================================================================
// Trust Policies
// =============================================================================

// PrincipalKind selects the trust model for an execution role.
type PrincipalKind string

const (
	// PrincipalService trusts a service principal (the task-execution
	// service of the serverless container substrate).
	PrincipalService PrincipalKind = "service"
	// PrincipalFederated trusts a workload-identity-federation subject
	// (a service account on the managed cluster substrate).
	PrincipalFederated PrincipalKind = "federated"
)

// FederationAudience is the identity federation's default audience; the
// audience condition must equal it exactly.
const FederationAudience = "sts.amazonaws.com"

// TaskServicePrincipal is the service principal of substrate A's task
// scheduler.
const TaskServicePrincipal = "ecs-tasks.amazonaws.com"

// TrustSpec declares who may assume an execution role.
type TrustSpec struct {
	Kind PrincipalKind

	// ServicePrincipal is required for PrincipalService.
	ServicePrincipal string

	// The remaining fields are required for PrincipalFederated.
	OIDCProviderARN string
	OIDCIssuer      string // issuer host/path without scheme, used as condition key prefix
	Namespace       string
	ServiceAccount  string
	Audience        string
}

// ServiceAccountSubject returns the exact subject string a federated trust
// condition must match.
func ServiceAccountSubject(namespace, serviceAccount string) string {
	return fmt.Sprintf("system:serviceaccount:%s:%s", namespace, serviceAccount)
}

// Validate checks the trust spec before any role is created.
func (t TrustSpec) Validate() error {
	switch t.Kind {
	case PrincipalService:
		if t.ServicePrincipal == "" {
			return fmt.Errorf("%w: service principal is required", ErrInvalidTrustCondition)
		}
		return nil
	case PrincipalFederated:
		if t.OIDCProviderARN == "" || t.OIDCIssuer == "" {
			return fmt.Errorf("%w: federation provider is required", ErrInvalidTrustCondition)
		}
		if t.Namespace == "" || t.ServiceAccount == "" {
			return fmt.Errorf("%w: namespace and service account are required", ErrInvalidTrustCondition)
		}
		if t.Audience != FederationAudience {
			return fmt.Errorf("%w: audience must be %q, got %q", ErrInvalidTrustCondition, FederationAudience, t.Audience)
		}
		if strings.ContainsAny(t.Namespace+t.ServiceAccount, " *?") {
			return fmt.Errorf("%w: subject components must be exact, no wildcards", ErrInvalidTrustCondition)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown principal kind %q", ErrInvalidTrustCondition, t.Kind)
	}
}

// Document renders the trust policy JSON. Validate must have passed.
func (t TrustSpec) Document() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	var statement map[string]any
	switch t.Kind {
	case PrincipalService:
		statement = map[string]any{
			"Effect":    "Allow",
			"Principal": map[string]any{"Service": t.ServicePrincipal},
			"Action":    "sts:AssumeRole",
		}
	case PrincipalFederated:
		statement = map[string]any{
			"Effect":    "Allow",
			"Principal": map[string]any{"Federated": t.OIDCProviderARN},
			"Action":    "sts:AssumeRoleWithWebIdentity",
			"Condition": map[string]any{
				"StringEquals": map[string]string{
					t.OIDCIssuer + ":sub": ServiceAccountSubject(t.Namespace, t.ServiceAccount),
					t.OIDCIssuer + ":aud": t.Audience,
				},
			},
		}
	}

	doc, err := json.Marshal(map[string]any{
		"Version":   "2012-10-17",
		"Statement": []any{statement},
	})
	if err != nil {
		return "", fmt.Errorf("failed to render trust policy: %w", err)
	}
	return string(doc), nil
}

// =============================================================================
// Permission Sets
// =============================================================================

// PermissionSet is the scoped grant attached to an execution role. Resource
// ARNs are always derived from topology outputs, never hand-written, so a
// topology rename cannot leave a stale, overly broad grant behind.
type PermissionSet struct {
	BucketARN string
	Prefix    string
	TopicARN  string
	QueueARN  string
}

// DerivePermissions computes the permission set from the messaging
// topology's produced outputs.
func DerivePermissions(outputs map[string]string, prefix string) (PermissionSet, error) {
	for _, key := range []string{"bucket_arn", "topic_arn", "queue_arn"} {
		if outputs[key] == "" {
			return PermissionSet{}, fmt.Errorf("%w: %s", ErrMissingTopologyOutput, key)
		}
	}
	return PermissionSet{
		BucketARN: outputs["bucket_arn"],
		Prefix:    prefix,
		TopicARN:  outputs["topic_arn"],
		QueueARN:  outputs["queue_arn"],
	}, nil
}

// Document renders the permission policy JSON: object read/write/list on
// bucket+prefix, topic publish, queue receive/delete/get-attributes.
func (p PermissionSet) Document() (string, error) {
	objects := p.BucketARN + "/*"
	if p.Prefix != "" {
		objects = fmt.Sprintf("%s/%s/*", p.BucketARN, strings.Trim(p.Prefix, "/"))
	}

	doc, err := json.Marshal(map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{
			map[string]any{
				"Effect":   "Allow",
				"Action":   []string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject"},
				"Resource": objects,
			},
			map[string]any{
				"Effect":   "Allow",
				"Action":   []string{"s3:ListBucket"},
				"Resource": p.BucketARN,
			},
			map[string]any{
				"Effect":   "Allow",
				"Action":   []string{"sns:Publish"},
				"Resource": p.TopicARN,
			},
			map[string]any{
				"Effect":   "Allow",
				"Action":   []string{"sqs:ReceiveMessage", "sqs:DeleteMessage", "sqs:GetQueueAttributes"},
				"Resource": p.QueueARN,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to render permission policy: %w", err)
	}
	return string(doc), nil
}
