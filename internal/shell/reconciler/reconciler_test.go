package reconciler

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform/stackform/internal/core/reconcile"
	"github.com/stackform/stackform/internal/core/stack"
	"github.com/stackform/stackform/internal/core/topology"
	"github.com/stackform/stackform/internal/shell/cloud"
	"github.com/stackform/stackform/internal/shell/store"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeCloud serves every resource kind in tests and records the mutations it
// performs.
type fakeCloud struct {
	mu         sync.Mutex
	remotes    map[string]*cloud.Remote
	outputsFor map[string]map[string]string
	createErrs map[string][]error

	creates []string
	updates []string
	deletes []string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		remotes:    make(map[string]*cloud.Remote),
		outputsFor: make(map[string]map[string]string),
		createErrs: make(map[string][]error),
	}
}

func (f *fakeCloud) failCreate(name string, errs ...error) {
	f.createErrs[name] = errs
}

func (f *fakeCloud) Observe(ctx context.Context, name string, attrs map[string]string) (*cloud.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.remotes[name]; ok {
		return r, nil
	}
	return nil, nil
}

func (f *fakeCloud) Create(ctx context.Context, name string, attrs map[string]string) (*cloud.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.createErrs[name]; len(errs) > 0 {
		err := errs[0]
		f.createErrs[name] = errs[1:]
		return nil, err
	}

	remote := &cloud.Remote{
		ID:         name + "_remote",
		Attributes: attrs,
		Outputs:    f.outputsFor[name],
	}
	f.remotes[name] = remote
	f.creates = append(f.creates, name)
	return remote, nil
}

func (f *fakeCloud) Update(ctx context.Context, remoteID string, attrs map[string]string) (*cloud.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := strings.TrimSuffix(remoteID, "_remote")
	remote := &cloud.Remote{ID: remoteID, Attributes: attrs, Outputs: f.outputsFor[name]}
	f.remotes[name] = remote
	f.updates = append(f.updates, name)
	return remote, nil
}

func (f *fakeCloud) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := strings.TrimSuffix(remoteID, "_remote")
	delete(f.remotes, name)
	f.deletes = append(f.deletes, name)
	return nil
}

func newTestReconciler(t *testing.T, fake *fakeCloud) (*Reconciler, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stackform.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := cloud.Registry{}
	for _, kind := range []string{
		reconcile.KindVPC, reconcile.KindQueue, reconcile.KindBucket,
		reconcile.KindTopic, reconcile.KindSubscription, reconcile.KindQueuePolicy,
	} {
		registry[kind] = fake
	}

	retry := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return New(st, registry, retry, slog.Default()), st
}

func testStack(t *testing.T) *stack.Resolution {
	t.Helper()
	res, err := stack.Resolve([]stack.Module{
		{
			Name:    "network",
			Outputs: map[string]string{"vpc_id": "main.vpc_id"},
			Resources: []stack.ResourceSpec{
				{Kind: reconcile.KindVPC, Name: "main", Attributes: map[string]string{
					"cidr_block": "10.0.0.0/16",
				}},
			},
		},
		{
			Name:   "app",
			Inputs: map[string]string{"vpc": "${network.vpc_id}"},
			Resources: []stack.ResourceSpec{
				{Kind: reconcile.KindQueue, Name: "jobs", Attributes: map[string]string{
					"queue_name": "app-jobs",
					"vpc_hint":   "${inputs.vpc}",
				}},
			},
		},
	})
	require.NoError(t, err)
	return res
}

// =============================================================================
// Apply
// =============================================================================

func TestApply_CreatesInResolvedOrder(t *testing.T) {
	fake := newFakeCloud()
	fake.outputsFor["main"] = map[string]string{"vpc_id": "vpc-123"}
	fake.outputsFor["jobs"] = map[string]string{"queue_url": "https://sqs/app-jobs"}

	r, st := newTestReconciler(t, fake)
	result, err := r.Apply(context.Background(), "dev", testStack(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"main", "jobs"}, fake.creates)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, "vpc-123", result.Outputs["network"]["vpc_id"])

	// Cross-module reference was substituted before the queue was created.
	assert.Equal(t, "vpc-123", fake.remotes["jobs"].Attributes["vpc_hint"])

	// Completion markers were persisted.
	marker, err := st.GetResource(context.Background(), "dev", "app", "jobs")
	require.NoError(t, err)
	assert.Equal(t, "jobs_remote", marker.RemoteID)
	assert.NotEmpty(t, marker.DeclaredHash)
}

func TestApply_SecondRunSkipsEverything(t *testing.T) {
	fake := newFakeCloud()
	fake.outputsFor["main"] = map[string]string{"vpc_id": "vpc-123"}
	fake.outputsFor["jobs"] = map[string]string{"queue_url": "https://sqs/app-jobs"}

	r, _ := newTestReconciler(t, fake)
	ctx := context.Background()

	_, err := r.Apply(ctx, "dev", testStack(t))
	require.NoError(t, err)

	result, err := r.Apply(ctx, "dev", testStack(t))
	require.NoError(t, err)

	assert.Len(t, fake.creates, 2, "no additional creates on the second run")
	assert.Empty(t, fake.updates)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, "vpc-123", result.Outputs["network"]["vpc_id"], "outputs come from markers")
}

func TestApply_PartialFailureThenResume(t *testing.T) {
	fake := newFakeCloud()
	fake.outputsFor["main"] = map[string]string{"vpc_id": "vpc-123"}
	fake.outputsFor["jobs"] = map[string]string{"queue_url": "https://sqs/app-jobs"}
	fake.failCreate("jobs", &smithy.GenericAPIError{Code: "AccessDenied"})

	r, _ := newTestReconciler(t, fake)
	ctx := context.Background()

	_, err := r.Apply(ctx, "dev", testStack(t))
	require.ErrorIs(t, err, reconcile.ErrPartialApply)

	var partial *reconcile.PartialApplyError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "app", partial.Module)
	assert.Equal(t, "jobs", partial.Failed)

	// The failed resource is retried on the next run; the VPC is skipped.
	result, err := r.Apply(ctx, "dev", testStack(t))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, []string{"main", "jobs"}, fake.creates)
}

func TestApply_TransientFailuresAreRetried(t *testing.T) {
	fake := newFakeCloud()
	fake.outputsFor["main"] = map[string]string{"vpc_id": "vpc-123"}
	fake.outputsFor["jobs"] = map[string]string{"queue_url": "https://sqs/app-jobs"}
	fake.failCreate("jobs",
		&smithy.GenericAPIError{Code: "Throttling"},
		&smithy.GenericAPIError{Code: "Throttling"})

	r, _ := newTestReconciler(t, fake)
	result, err := r.Apply(context.Background(), "dev", testStack(t))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
}

func TestApply_RetryBudgetExhaustion(t *testing.T) {
	fake := newFakeCloud()
	fake.outputsFor["main"] = map[string]string{"vpc_id": "vpc-123"}
	fake.failCreate("jobs",
		&smithy.GenericAPIError{Code: "Throttling"},
		&smithy.GenericAPIError{Code: "Throttling"},
		&smithy.GenericAPIError{Code: "Throttling"})

	r, _ := newTestReconciler(t, fake)
	_, err := r.Apply(context.Background(), "dev", testStack(t))
	require.ErrorIs(t, err, reconcile.ErrReconciliationFailed)
}

func TestApply_ImmutableConflictIsFatal(t *testing.T) {
	fake := newFakeCloud()
	fake.remotes["main"] = &cloud.Remote{
		ID:         "main_remote",
		Attributes: map[string]string{"cidr_block": "172.16.0.0/16"},
		Outputs:    map[string]string{"vpc_id": "vpc-old"},
	}

	r, _ := newTestReconciler(t, fake)
	_, err := r.Apply(context.Background(), "dev", testStack(t))
	require.ErrorIs(t, err, reconcile.ErrImmutableConflict)
	assert.Empty(t, fake.creates)
	assert.Empty(t, fake.updates)
}

func TestApply_ExistingIdenticalResourceIsNoop(t *testing.T) {
	fake := newFakeCloud()
	fake.remotes["main"] = &cloud.Remote{
		ID:         "main_remote",
		Attributes: map[string]string{"cidr_block": "10.0.0.0/16"},
		Outputs:    map[string]string{"vpc_id": "vpc-123"},
	}
	fake.outputsFor["jobs"] = map[string]string{"queue_url": "https://sqs/app-jobs"}

	r, _ := newTestReconciler(t, fake)
	result, err := r.Apply(context.Background(), "dev", testStack(t))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Noop)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, []string{"jobs"}, fake.creates)
	assert.Equal(t, "vpc-123", result.Outputs["network"]["vpc_id"])
}

func TestApply_InvalidTopologyStopsBeforeAnyMutation(t *testing.T) {
	fake := newFakeCloud()
	r, _ := newTestReconciler(t, fake)

	res, err := stack.Resolve([]stack.Module{{
		Name: "messaging",
		Resources: []stack.ResourceSpec{
			{Kind: reconcile.KindBucket, Name: "store", Attributes: map[string]string{"bucket_name": "b"}},
			{Kind: reconcile.KindTopic, Name: "events", Attributes: map[string]string{"topic_name": "t"}},
			{Kind: reconcile.KindQueue, Name: "jobs", Attributes: map[string]string{
				"queue_name":        "q",
				"redrive_target":    "jobs",
				"max_receive_count": "5",
			}},
			{Kind: reconcile.KindQueue, Name: "deadletter", Attributes: map[string]string{"queue_name": "dlq"}},
			{Kind: reconcile.KindSubscription, Name: "sub", Attributes: map[string]string{
				"topic": "events", "protocol": "sqs", "endpoint": "jobs",
			}},
			{Kind: reconcile.KindQueuePolicy, Name: "policy", Attributes: map[string]string{
				"queue": "jobs", "principal_service": topology.NotificationServicePrincipal,
				"action": "sqs:SendMessage", "source_topic": "events",
			}},
		},
	}})
	require.NoError(t, err)

	_, err = r.Apply(context.Background(), "dev", res)
	require.ErrorIs(t, err, topology.ErrSelfRedrive)
	assert.Empty(t, fake.creates)
}

// =============================================================================
// Destroy
// =============================================================================

func TestDestroy_ReverseOrderAndMarkerCleanup(t *testing.T) {
	fake := newFakeCloud()
	fake.outputsFor["main"] = map[string]string{"vpc_id": "vpc-123"}
	fake.outputsFor["jobs"] = map[string]string{"queue_url": "https://sqs/app-jobs"}

	r, st := newTestReconciler(t, fake)
	ctx := context.Background()

	_, err := r.Apply(ctx, "dev", testStack(t))
	require.NoError(t, err)

	require.NoError(t, r.Destroy(ctx, "dev", testStack(t)))
	assert.Equal(t, []string{"jobs", "main"}, fake.deletes)

	resources, err := st.ListResources(ctx, "dev")
	require.NoError(t, err)
	assert.Empty(t, resources)

	// Destroying again finds no markers and touches nothing.
	require.NoError(t, r.Destroy(ctx, "dev", testStack(t)))
	assert.Len(t, fake.deletes, 2)
}

// =============================================================================
// Sibling rendering
// =============================================================================

func TestRenderSiblings(t *testing.T) {
	attrs := map[string]string{
		"dlq_arn":    "${deadletter.queue_arn}",
		"queue_name": "app-jobs",
	}
	applied := map[string]map[string]string{
		"deadletter": {"queue_arn": "arn:aws:sqs:eu-west-1:1:dlq"},
	}

	rendered, err := renderSiblings(attrs, applied)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sqs:eu-west-1:1:dlq", rendered["dlq_arn"])
	assert.Equal(t, "app-jobs", rendered["queue_name"])
}

func TestRenderSiblings_UnknownResourceErrors(t *testing.T) {
	_, err := renderSiblings(map[string]string{"arn": "${unapplied.value}"}, nil)
	require.ErrorIs(t, err, reconcile.ErrUnresolvedReference)
	assert.ErrorContains(t, err, "unapplied")
}

func TestRenderSiblings_MissingOutputErrors(t *testing.T) {
	applied := map[string]map[string]string{"cluster": {"cluster_name": "sf-dev"}}
	_, err := renderSiblings(map[string]string{"issuer": "${cluster.oidc_issuer}"}, applied)
	require.ErrorIs(t, err, reconcile.ErrUnresolvedReference)
	assert.ErrorContains(t, err, "oidc_issuer")
}

// An unresolvable reference inside a module halts that resource before any
// cloud call carries the raw placeholder.
func TestApply_UnresolvedSiblingReferenceFails(t *testing.T) {
	fake := newFakeCloud()
	r, _ := newTestReconciler(t, fake)

	res, err := stack.Resolve([]stack.Module{{
		Name: "workload",
		Resources: []stack.ResourceSpec{
			{Kind: reconcile.KindQueue, Name: "jobs", Attributes: map[string]string{
				"queue_name": "jobs",
				"dlq_arn":    "${deadletter.queue_arn}",
			}},
		},
	}})
	require.NoError(t, err)

	_, err = r.Apply(context.Background(), "dev", res)
	require.ErrorIs(t, err, reconcile.ErrUnresolvedReference)
	assert.Empty(t, fake.creates)
}
