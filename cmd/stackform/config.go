package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Stack    StackConfig    `mapstructure:"stack"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds the operator API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds state store configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StackConfig holds the stack manifest location.
type StackConfig struct {
	ManifestPath string `mapstructure:"manifest_path"`
}

// AWSConfig holds cloud credentials and region.
type AWSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
}

// PipelineConfig holds deployment pipeline inputs that are not part of the
// stack manifest: the built artifact reference, the release tag, and the
// declarative release command for substrate B.
type PipelineConfig struct {
	// ArtifactRef is the image produced by the external build; building it
	// is out of scope, the reference is an input.
	ArtifactRef string `mapstructure:"artifact_ref"`

	// ReleaseTag is the registry tag the artifact is promoted under.
	ReleaseTag string `mapstructure:"release_tag"`

	// PublishBaseDelay is the initial backoff between publish retries.
	PublishBaseDelay time.Duration `mapstructure:"publish_base_delay"`

	// ReleaseCommand is the substrate B release invocation; every "{image}"
	// occurrence in its arguments is replaced with the promoted image reference.
	ReleaseCommand []string `mapstructure:"release_command"`

	// DatabaseURL is handed to the service as DATABASE_URL at release.
	DatabaseURL string `mapstructure:"database_url"`

	// HealthTargetB is the URL the verifier polls for substrate B. The
	// substrate A target is derived from the load balancer output.
	HealthTargetB string `mapstructure:"health_target_b"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.dsn", "./data/stackform.db")
	v.SetDefault("stack.manifest_path", "./configs/stack.yaml")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.region", "eu-west-1")
	v.SetDefault("pipeline.artifact_ref", "")
	v.SetDefault("pipeline.release_tag", "release")
	v.SetDefault("pipeline.publish_base_delay", "2s")
	v.SetDefault("pipeline.release_command", []string{
		"helm", "upgrade", "app", "./deploy/chart",
		"--install", "--set", "image={image}", "--wait",
	})
	v.SetDefault("pipeline.database_url", "")
	v.SetDefault("pipeline.health_target_b", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("STACKFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
