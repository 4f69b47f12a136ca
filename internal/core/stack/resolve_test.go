package stack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_Empty(t *testing.T) {
	_, err := Resolve(nil)
	assert.ErrorIs(t, err, ErrNoModules)
}

func TestResolve_SingleModule(t *testing.T) {
	res, err := Resolve([]Module{{Name: "network"}})
	require.NoError(t, err)
	require.Len(t, res.Order, 1)
	assert.Equal(t, "network", res.Order[0].Name)
}

func TestResolve_LinearDependencies(t *testing.T) {
	// identity -> messaging -> network
	modules := []Module{
		{Name: "identity", Inputs: map[string]string{"queue": "${messaging.queue_arn}"}},
		{Name: "messaging", Inputs: map[string]string{"vpc": "${network.vpc_id}"}, Outputs: map[string]string{"queue_arn": "jobs.queue_arn"}},
		{Name: "network", Outputs: map[string]string{"vpc_id": "main.vpc_id"}},
	}
	res, err := Resolve(modules)
	require.NoError(t, err)

	idx := indexOf(res.Order)
	assert.Less(t, idx["network"], idx["messaging"])
	assert.Less(t, idx["messaging"], idx["identity"])
}

func TestResolve_DiamondDependencies(t *testing.T) {
	//      substrate_a
	//      /        \
	//  registry   messaging
	//      \        /
	//       network
	modules := []Module{
		{Name: "substrate_a", Inputs: map[string]string{
			"image": "${registry.url}",
			"queue": "${messaging.queue_url}",
		}},
		{Name: "registry", Inputs: map[string]string{"vpc": "${network.vpc_id}"}, Outputs: map[string]string{"url": "repo.url"}},
		{Name: "messaging", Inputs: map[string]string{"vpc": "${network.vpc_id}"}, Outputs: map[string]string{"queue_url": "jobs.queue_url"}},
		{Name: "network", Outputs: map[string]string{"vpc_id": "main.vpc_id"}},
	}
	res, err := Resolve(modules)
	require.NoError(t, err)

	idx := indexOf(res.Order)
	assert.Less(t, idx["network"], idx["registry"])
	assert.Less(t, idx["network"], idx["messaging"])
	assert.Less(t, idx["registry"], idx["substrate_a"])
	assert.Less(t, idx["messaging"], idx["substrate_a"])
}

func TestResolve_TiesBrokenByDeclarationOrder(t *testing.T) {
	// No edges at all: the order must be exactly the declaration order.
	modules := []Module{
		{Name: "charlie"},
		{Name: "alpha"},
		{Name: "bravo"},
	}
	res, err := Resolve(modules)
	require.NoError(t, err)
	assert.Equal(t, []string{"charlie", "alpha", "bravo"}, names(res.Order))
}

func TestResolve_Deterministic(t *testing.T) {
	modules := fullStack()
	first, err := Resolve(modules)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Resolve(modules)
		require.NoError(t, err)
		assert.Equal(t, names(first.Order), names(again.Order))
	}
}

func TestResolve_FullStackOrder(t *testing.T) {
	res, err := Resolve(fullStack())
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"network", "registry", "messaging", "identity", "loadbalancer", "substrate_a", "substrate_b"},
		names(res.Order))
}

func TestResolve_CyclicDependency(t *testing.T) {
	modules := []Module{
		{Name: "a", Inputs: map[string]string{"x": "${b.out}"}, Outputs: map[string]string{"out": "r.out"}},
		{Name: "b", Inputs: map[string]string{"x": "${a.out}"}, Outputs: map[string]string{"out": "r.out"}},
	}
	_, err := Resolve(modules)
	require.ErrorIs(t, err, ErrCyclicDependency)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Members, "a")
	assert.Contains(t, cycleErr.Members, "b")
}

func TestResolve_UnresolvedModule(t *testing.T) {
	modules := []Module{
		{Name: "app", Inputs: map[string]string{"vpc": "${network.vpc_id}"}},
	}
	_, err := Resolve(modules)
	require.ErrorIs(t, err, ErrUnresolvedReference)

	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "network", refErr.RefModule)
	assert.Equal(t, "vpc_id", refErr.RefOutput)
}

func TestResolve_UnresolvedOutput(t *testing.T) {
	modules := []Module{
		{Name: "network", Outputs: map[string]string{"vpc_id": "main.vpc_id"}},
		{Name: "app", Inputs: map[string]string{"subnet": "${network.subnet_id}"}},
	}
	_, err := Resolve(modules)
	require.ErrorIs(t, err, ErrUnresolvedReference)

	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "subnet_id", refErr.RefOutput)
}

func TestResolve_SelfReference(t *testing.T) {
	modules := []Module{
		{Name: "net", Inputs: map[string]string{"x": "${net.vpc_id}"}, Outputs: map[string]string{"vpc_id": "main.vpc_id"}},
	}
	_, err := Resolve(modules)
	assert.ErrorIs(t, err, ErrSelfReference)
}

func TestResolve_DuplicateModule(t *testing.T) {
	modules := []Module{{Name: "net"}, {Name: "net"}}
	_, err := Resolve(modules)
	assert.ErrorIs(t, err, ErrDuplicateModule)
}

// =============================================================================
// Substitution Tests
// =============================================================================

func TestSubstitute(t *testing.T) {
	modules := []Module{
		{Name: "network", Outputs: map[string]string{"vpc_id": "main.vpc_id"}},
		{Name: "app", Inputs: map[string]string{
			"vpc":    "${network.vpc_id}",
			"region": "eu-west-1",
		}},
	}
	res, err := Resolve(modules)
	require.NoError(t, err)

	produced := map[string]map[string]string{
		"network": {"vpc_id": "vpc-0abc"},
	}
	inputs, err := res.Substitute(modules[1], produced)
	require.NoError(t, err)
	assert.Equal(t, "vpc-0abc", inputs["vpc"])
	assert.Equal(t, "eu-west-1", inputs["region"])
}

func TestSubstitute_MissingProducedOutput(t *testing.T) {
	modules := []Module{
		{Name: "network", Outputs: map[string]string{"vpc_id": "main.vpc_id"}},
		{Name: "app", Inputs: map[string]string{"vpc": "${network.vpc_id}"}},
	}
	res, err := Resolve(modules)
	require.NoError(t, err)

	_, err = res.Substitute(modules[1], map[string]map[string]string{})
	assert.True(t, errors.Is(err, ErrUnresolvedReference))
}

func TestRenderAttributes(t *testing.T) {
	spec := ResourceSpec{
		Kind: "container_service",
		Name: "api",
		Attributes: map[string]string{
			"cluster": "${inputs.cluster}",
			"cpu":     "${inputs.cpu}",
			"port":    "8000",
		},
	}
	rendered := RenderAttributes(spec, map[string]string{"cluster": "svc-prod", "cpu": "256"})
	assert.Equal(t, "svc-prod", rendered["cluster"])
	assert.Equal(t, "256", rendered["cpu"])
	assert.Equal(t, "8000", rendered["port"])
}

// =============================================================================
// Helpers
// =============================================================================

func names(modules []Module) []string {
	out := make([]string, len(modules))
	for i, m := range modules {
		out[i] = m.Name
	}
	return out
}

func indexOf(modules []Module) map[string]int {
	idx := make(map[string]int, len(modules))
	for i, m := range modules {
		idx[m.Name] = i
	}
	return idx
}

// fullStack declares the seven shipped modules with their real edge shape.
func fullStack() []Module {
	return []Module{
		{Name: "network", Outputs: map[string]string{"vpc_id": "main.vpc_id", "subnet_ids": "subnets.subnet_ids", "sg_id": "service.sg_id"}},
		{Name: "registry", Outputs: map[string]string{"registry_url": "service.repository_url"}},
		{Name: "messaging", Outputs: map[string]string{"bucket_arn": "store.bucket_arn", "topic_arn": "events.topic_arn", "queue_arn": "jobs.queue_arn", "queue_url": "jobs.queue_url"}},
		{Name: "identity", Inputs: map[string]string{
			"bucket": "${messaging.bucket_arn}",
			"topic":  "${messaging.topic_arn}",
			"queue":  "${messaging.queue_arn}",
		}, Outputs: map[string]string{"role_a_arn": "task_role.role_arn", "role_b_arn": "workload_role.role_arn"}},
		{Name: "loadbalancer", Inputs: map[string]string{
			"vpc":     "${network.vpc_id}",
			"subnets": "${network.subnet_ids}",
		}, Outputs: map[string]string{"tg_arn": "api.tg_arn", "lb_dns": "public.dns_name"}},
		{Name: "substrate_a", Inputs: map[string]string{
			"image":  "${registry.registry_url}",
			"role":   "${identity.role_a_arn}",
			"tg":     "${loadbalancer.tg_arn}",
			"queue":  "${messaging.queue_url}",
			"subnet": "${network.subnet_ids}",
		}, Outputs: map[string]string{"service_arn": "api.service_arn"}},
		{Name: "substrate_b", Inputs: map[string]string{
			"role":   "${identity.role_b_arn}",
			"subnet": "${network.subnet_ids}",
		}, Outputs: map[string]string{"cluster_endpoint": "cluster.endpoint"}},
	}
}
