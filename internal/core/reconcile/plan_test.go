package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_CreateWhenAbsent(t *testing.T) {
	step, err := Plan("messaging", KindQueue, "jobs",
		map[string]string{"queue_name": "app-jobs"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OpCreate, step.Op)
}

func TestPlan_NoopWhenConverged(t *testing.T) {
	declared := map[string]string{"queue_name": "app-jobs", "visibility_timeout": "60"}
	observed := map[string]string{"queue_name": "app-jobs", "visibility_timeout": "60", "arn": "arn:aws:sqs:..."}

	step, err := Plan("messaging", KindQueue, "jobs", declared, observed, ImmutableAttributes(KindQueue))
	require.NoError(t, err)
	assert.Equal(t, OpNoop, step.Op)
	assert.Empty(t, step.Changed)
}

func TestPlan_UpdateMutableDrift(t *testing.T) {
	declared := map[string]string{"queue_name": "app-jobs", "visibility_timeout": "120", "retention": "345600"}
	observed := map[string]string{"queue_name": "app-jobs", "visibility_timeout": "60", "retention": "86400"}

	step, err := Plan("messaging", KindQueue, "jobs", declared, observed, ImmutableAttributes(KindQueue))
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, step.Op)
	assert.Equal(t, []string{"retention", "visibility_timeout"}, step.Changed)
}

func TestPlan_ImmutableConflict(t *testing.T) {
	declared := map[string]string{"cidr_block": "10.1.0.0/16"}
	observed := map[string]string{"cidr_block": "10.0.0.0/16"}

	_, err := Plan("network", KindVPC, "main", declared, observed, ImmutableAttributes(KindVPC))
	require.ErrorIs(t, err, ErrImmutableConflict)

	var conflict *ImmutableConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "cidr_block", conflict.Attribute)
	assert.Equal(t, "10.1.0.0/16", conflict.Declared)
	assert.Equal(t, "10.0.0.0/16", conflict.Observed)
}

func TestPlan_ObservedExtrasIgnored(t *testing.T) {
	declared := map[string]string{"repository_name": "app/service"}
	observed := map[string]string{"repository_name": "app/service", "registry_id": "123456789012"}

	step, err := Plan("registry", KindRegistry, "service", declared, observed, ImmutableAttributes(KindRegistry))
	require.NoError(t, err)
	assert.Equal(t, OpNoop, step.Op)
}

func TestPartialApplyError(t *testing.T) {
	err := &PartialApplyError{
		Module:    "messaging",
		Succeeded: []string{"store", "events"},
		Failed:    "jobs",
		Err:       assert.AnError,
	}
	assert.ErrorIs(t, err, ErrPartialApply)
	assert.Contains(t, err.Error(), "store, events")
	assert.Contains(t, err.Error(), "jobs")
}
