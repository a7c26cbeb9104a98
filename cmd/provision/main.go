package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"statusbridge/internal/cachet"
	"statusbridge/internal/config"
	"statusbridge/internal/logging"
	"statusbridge/internal/provision"
)

// main runs the one-shot backend provisioning sync.
// Params: CLI flags (--config-file, --targets-file, --reset).
// Returns: process exit code by sync result.
func main() {
	var (
		configFile  = flag.String("config-file", "", "path to one TOML config file")
		targetsFile = flag.String("targets-file", "", "path to the Prometheus targets YAML")
		reset       = flag.Bool("reset", false, "delete backend components and groups absent from configuration")
	)
	flag.Parse()

	if *configFile == "" || *targetsFile == "" {
		_, _ = fmt.Fprintln(os.Stderr, "--config-file and --targets-file are required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "logging init failed:", err.Error())
		os.Exit(1)
	}
	defer closeLog()

	targets, err := provision.LoadTargetsFile(*targetsFile)
	if err != nil {
		logger.Error("targets load failed", "error", err.Error())
		os.Exit(2)
	}
	plan := provision.BuildPlan(targets, logger)
	logger.Info("provisioning plan built",
		"target_components", len(plan.TargetComponents),
		"services", len(plan.ServiceNames),
		"reset", *reset,
	)

	backend := cachet.New(cfg.Backend, logger)
	provisioner := provision.New(backend, cfg.ComponentGroups(), cfg.Backend.Status.Healthy, logger)
	if err := provisioner.Sync(context.Background(), plan, *reset); err != nil {
		logger.Error("provisioning sync failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("provisioning sync complete")
}
