// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// roost-provision prepares a node and launches its entry point. On
// workers it detects the PCI accelerator, installs driver packages,
// and offers the PCIe Gen3 boot-config change; on both roles it
// bootstraps the runtime tool, installs project dependencies, and
// execs the node's entry point.
//
// A boot-config change ends the invocation at a reboot boundary:
// rerun after the reboot to continue to the launch.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/process"
	"github.com/roost-cluster/roost/lib/provision"
	"github.com/roost-cluster/roost/lib/runner"
	"github.com/roost-cluster/roost/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
		role        string
		noLaunch    bool
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to roost.yaml (default: $ROOST_CONFIG)")
	flag.StringVar(&role, "role", "worker", "node role: worker or controller")
	flag.BoolVar(&noLaunch, "no-launch", false, "provision only; skip dependency install and launch")
	flag.Parse()

	if showVersion {
		version.Print("roost-provision")
		return nil
	}
	if role != "worker" && role != "controller" {
		return fmt.Errorf("invalid --role %q (want worker or controller)", role)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath, logger)
	} else {
		cfg, err = config.Load(logger)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provisioner := &provision.Provisioner{
		Config:   cfg,
		Role:     role,
		Runner:   &runner.Exec{Logger: logger},
		Logger:   logger,
		Prompter: provision.NewTTYPrompter(),
	}

	toolPath, proceed, err := provisioner.Run(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		// Reboot boundary: the Gen3 change needs a reboot before
		// anything else makes sense.
		return nil
	}
	if noLaunch {
		logger.Info("provisioning complete, launch skipped")
		return nil
	}

	bootstrap := provision.RuntimeBootstrap{Tool: cfg.Provision.RuntimeTool}
	launcher := &provision.Launcher{
		ToolPath:   toolPath,
		SourcePath: cfg.Provision.SourcePath,
		Context: provision.ExecutionContext{
			RuntimeBin:  filepath.Dir(toolPath),
			SourcePath:  cfg.Provision.SourcePath,
			RuntimeHome: cfg.Provision.RuntimeHome,
			HomeEnvVar:  bootstrap.HomeEnvVar(),
		},
		Runner: &runner.Exec{Logger: logger},
		Logger: logger,
	}
	if err := launcher.Install(ctx); err != nil {
		return err
	}

	module := "worker.worker"
	if role == "controller" {
		module = "controller.controller"
	}
	// Launch replaces this process on success.
	return launcher.Launch(module)
}
