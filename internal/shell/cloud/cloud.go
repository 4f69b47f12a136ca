// Package cloud implements per-kind cloud API clients for the reconciler.
// This is part of the Imperative Shell - handles I/O with cloud provider APIs.
package cloud

import (
	"context"
	"fmt"
)

// Remote is the observed state of one provisioned resource.
type Remote struct {
	// ID is the provider identifier (VPC ID, queue URL, cluster ARN, ...).
	ID string

	// Attributes mirrors the declared attribute set as the provider
	// currently reports it; the planner diffs against this.
	Attributes map[string]string

	// Outputs are the provider-assigned values other resources and
	// modules consume (ARNs, URLs, endpoints).
	Outputs map[string]string
}

// Client provisions one resource kind.
//
// Observe returns (nil, nil) when the resource does not exist remotely;
// Delete tolerates an already-missing resource so destroy stays idempotent.
type Client interface {
	Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error)
	Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error)
	Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error)
	Delete(ctx context.Context, remoteID string, attrs map[string]string) error
}

// Registry maps resource kinds to the client that provisions them.
type Registry map[string]Client

// For returns the client registered for kind.
func (r Registry) For(kind string) (Client, error) {
	client, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no cloud client registered for resource kind %q", kind)
	}
	return client, nil
}
