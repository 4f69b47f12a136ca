package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ClusterReleaser Tests
// =============================================================================

func TestClusterReleaser_SubstitutesImagePlaceholder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	r := NewClusterReleaser([]string{
		"/bin/sh", "-c", `printf '%s' "$1" > ` + out, "sh", "--set=image={image}",
	}, nil, 5*time.Second, slog.Default())

	err := r.Release(context.Background(), "registry.example/app:release")
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "--set=image=registry.example/app:release", string(got))
	assert.NotContains(t, string(got), "{image}")
}

func TestClusterReleaser_SubstitutesBareArgument(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	r := NewClusterReleaser([]string{
		"/bin/sh", "-c", `printf '%s' "$1" > ` + out, "sh", "{image}",
	}, nil, 5*time.Second, slog.Default())

	require.NoError(t, r.Release(context.Background(), "registry.example/app:release"))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "registry.example/app:release", string(got))
}

func TestClusterReleaser_InjectsEnvVars(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env")
	r := NewClusterReleaser([]string{
		"/bin/sh", "-c", `printf '%s' "$S3_BUCKET_NAME" > ` + out,
	}, map[string]string{"S3_BUCKET_NAME": "stackform-app-store"}, 5*time.Second, slog.Default())

	require.NoError(t, r.Release(context.Background(), "registry.example/app:release"))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "stackform-app-store", string(got))
}

func TestClusterReleaser_TimeoutReportsReleaseTimeout(t *testing.T) {
	r := NewClusterReleaser([]string{"/bin/sh", "-c", "sleep 5"},
		nil, 50*time.Millisecond, slog.Default())

	err := r.Release(context.Background(), "registry.example/app:release")
	assert.ErrorIs(t, err, ErrReleaseTimeout)
}

func TestClusterReleaser_EmptyCommand(t *testing.T) {
	r := NewClusterReleaser(nil, nil, time.Second, slog.Default())

	err := r.Release(context.Background(), "registry.example/app:release")
	assert.ErrorIs(t, err, ErrMissingPipelineInput)
}
