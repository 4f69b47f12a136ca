package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSet_Empty(t *testing.T) {
	_, err := NewSet(nil)
	assert.ErrorIs(t, err, ErrNoProfiles)
}

func TestNewSet_Duplicate(t *testing.T) {
	_, err := NewSet([]Profile{{Name: "dev"}, {Name: "dev"}})
	assert.ErrorIs(t, err, ErrDuplicateProfile)
}

func TestNewSet_NameRequired(t *testing.T) {
	_, err := NewSet([]Profile{{Name: ""}})
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestSet_Get(t *testing.T) {
	set, err := NewSet([]Profile{
		{Name: "dev", Parameters: map[string]string{"cpu": "256"}},
		{Name: "prod", Protected: true},
	})
	require.NoError(t, err)

	dev, err := set.Get("dev")
	require.NoError(t, err)
	assert.False(t, dev.Protected)
	assert.Equal(t, "256", dev.Parameters["cpu"])

	prod, err := set.Get("prod")
	require.NoError(t, err)
	assert.True(t, prod.Protected)

	_, err = set.Get("staging")
	assert.ErrorIs(t, err, ErrUnknownProfile)

	assert.Equal(t, []string{"dev", "prod"}, set.Names())
}

func TestProfile_Param(t *testing.T) {
	p := Profile{Name: "dev", Parameters: map[string]string{"region": "eu-west-1"}}
	assert.Equal(t, "eu-west-1", p.Param("region", "us-east-1"))
	assert.Equal(t, "us-east-1", p.Param("missing", "us-east-1"))
}

func TestProfile_IntParam(t *testing.T) {
	p := Profile{Name: "dev", Parameters: map[string]string{
		"health_attempts": "3",
		"node_min":        "two",
	}}

	n, err := p.IntParam("health_attempts", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = p.IntParam("missing", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = p.IntParam("node_min", 1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestProfile_DurationParam(t *testing.T) {
	p := Profile{Name: "dev", Parameters: map[string]string{
		"health_interval": "10s",
		"bad":             "soon",
	}}

	d, err := p.DurationParam("health_interval", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	d, err = p.DurationParam("missing", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = p.DurationParam("bad", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
