package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest_Empty(t *testing.T) {
	_, err := ParseManifest([]byte("  \n"))
	assert.ErrorIs(t, err, ErrEmptyManifest)
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	_, err := ParseManifest([]byte("modules: [unclosed"))
	assert.Error(t, err)
}

func TestParseManifest_NoModules(t *testing.T) {
	_, err := ParseManifest([]byte("profiles:\n  - name: dev\n"))
	assert.ErrorIs(t, err, ErrNoModules)
}

func TestParseManifest_Valid(t *testing.T) {
	data := []byte(`
modules:
  - name: network
    outputs:
      vpc_id: main.vpc_id
    resources:
      - kind: vpc
        name: main
        attributes:
          cidr_block: 10.0.0.0/16
  - name: registry
    inputs:
      vpc: ${network.vpc_id}
    outputs:
      registry_url: service.repository_url
    resources:
      - kind: container_registry
        name: service
        attributes:
          repository_name: app/service
profiles:
  - name: dev
    protected: false
    parameters:
      cpu: "256"
  - name: prod
    protected: true
`)
	m, err := ParseManifest(data)
	require.NoError(t, err)
	require.Len(t, m.Modules, 2)
	require.Len(t, m.Profiles, 2)

	assert.Equal(t, "network", m.Modules[0].Name)
	assert.Equal(t, "10.0.0.0/16", m.Modules[0].Resources[0].Attributes["cidr_block"])
	assert.Equal(t, []string{"network"}, m.Modules[1].DependsOn())
	assert.True(t, m.Profiles[1].Protected)
	assert.Equal(t, "256", m.Profiles[0].Parameters["cpu"])
}

func TestParseManifest_DuplicateModule(t *testing.T) {
	data := []byte(`
modules:
  - name: network
  - name: network
`)
	_, err := ParseManifest(data)
	assert.ErrorIs(t, err, ErrDuplicateModule)
}

func TestParseManifest_DuplicateResource(t *testing.T) {
	data := []byte(`
modules:
  - name: messaging
    resources:
      - kind: work_queue
        name: jobs
      - kind: work_queue
        name: jobs
`)
	_, err := ParseManifest(data)
	assert.ErrorIs(t, err, ErrDuplicateResource)
}

func TestParseManifest_OutputWiring(t *testing.T) {
	data := []byte(`
modules:
  - name: network
    outputs:
      vpc_id: missing.vpc_id
    resources:
      - kind: vpc
        name: main
`)
	_, err := ParseManifest(data)
	assert.ErrorContains(t, err, "unknown resource missing")

	data = []byte(`
modules:
  - name: network
    outputs:
      vpc_id: main
    resources:
      - kind: vpc
        name: main
`)
	_, err = ParseManifest(data)
	assert.ErrorContains(t, err, `wiring must be "resource.key"`)
}

func TestParseManifest_ResourceKindRequired(t *testing.T) {
	data := []byte(`
modules:
  - name: messaging
    resources:
      - name: jobs
`)
	_, err := ParseManifest(data)
	assert.Error(t, err)
}

func TestParseReferences(t *testing.T) {
	refs := ParseReferences("arn=${messaging.topic_arn},vpc=${network.vpc_id},in=${inputs.cpu}")
	assert.Equal(t, []Reference{
		{Module: "messaging", Output: "topic_arn"},
		{Module: "network", Output: "vpc_id"},
	}, refs)
}
