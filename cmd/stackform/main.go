package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	destroy := flag.Bool("destroy", false, "Tear down the environment's infrastructure")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("stackform %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Positional argument selects the environment
	environment := flag.Arg(0)
	if environment == "" {
		environment = "dev"
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting stackform",
		"version", Version,
		"environment", environment,
		"destroy", *destroy,
	)

	// Create runner
	runner, err := NewRunner(cfg, logger)
	if err != nil {
		if rErr, ok := err.(*RunnerError); ok {
			logger.Error("failed to create runner",
				"error", rErr.Err,
				"operation", rErr.Op,
			)
			return rErr.ExitCode
		}
		logger.Error("failed to create runner", "error", err)
		return ExitConfigError
	}
	defer runner.Close()

	// Run until done or interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx, environment, *destroy); err != nil {
		if rErr, ok := err.(*RunnerError); ok {
			logger.Error("run failed",
				"error", rErr.Err,
				"operation", rErr.Op,
			)
			return rErr.ExitCode
		}
		logger.Error("run failed", "error", err)
		return ExitDeployError
	}

	return ExitSuccess
}
