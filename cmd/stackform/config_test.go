package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8484, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./data/stackform.db", cfg.Database.DSN)
	assert.Equal(t, "./configs/stack.yaml", cfg.Stack.ManifestPath)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "release", cfg.Pipeline.ReleaseTag)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.PublishBaseDelay)
	assert.Contains(t, cfg.Pipeline.ReleaseCommand, "image={image}")
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  shutdown_timeout: 15s

database:
  dsn: "/tmp/test.db"

stack:
  manifest_path: "/etc/stackform/stack.yaml"

aws:
  region: "us-east-1"

pipeline:
  artifact_ref: "registry.example/app:build-7"
  release_tag: "live"
  release_command: ["kubectl", "set", "image", "deploy/app", "app={image}"]
  health_target_b: "http://app.internal/health"

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, "/etc/stackform/stack.yaml", cfg.Stack.ManifestPath)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "registry.example/app:build-7", cfg.Pipeline.ArtifactRef)
	assert.Equal(t, "live", cfg.Pipeline.ReleaseTag)
	assert.Equal(t, []string{"kubectl", "set", "image", "deploy/app", "app={image}"}, cfg.Pipeline.ReleaseCommand)
	assert.Equal(t, "http://app.internal/health", cfg.Pipeline.HealthTargetB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("STACKFORM_SERVER_PORT", "3000")
	t.Setenv("STACKFORM_DATABASE_DSN", "/custom/path.db")
	t.Setenv("STACKFORM_AWS_REGION", "eu-central-1")
	t.Setenv("STACKFORM_PIPELINE_ARTIFACT_REF", "registry.example/app:abc123")
	t.Setenv("STACKFORM_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "eu-central-1", cfg.AWS.Region)
	assert.Equal(t, "registry.example/app:abc123", cfg.Pipeline.ArtifactRef)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8484, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := SetupLogger(&Config{Log: LogConfig{Level: "info", Format: format}})
		assert.NotNil(t, logger, "format=%s", format)
	}
}

func TestSetupLogger_InvalidLevelFallsBack(t *testing.T) {
	logger := SetupLogger(&Config{Log: LogConfig{Level: "invalid", Format: "json"}})
	assert.NotNil(t, logger)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8484,
		},
	}

	assert.Equal(t, "localhost:8484", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"STACKFORM_SERVER_HOST",
		"STACKFORM_SERVER_PORT",
		"STACKFORM_DATABASE_DSN",
		"STACKFORM_AWS_REGION",
		"STACKFORM_PIPELINE_ARTIFACT_REF",
		"STACKFORM_LOG_LEVEL",
		"STACKFORM_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
