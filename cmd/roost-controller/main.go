// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// roost-controller is the cluster head node. It brings up the wired
// network (static address plus DHCP service) and optionally the WiFi
// access point, tracks worker registrations in SQLite, serves the
// control API, and forwards operator commands to workers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/identifier"
	"github.com/roost-cluster/roost/lib/netman"
	"github.com/roost-cluster/roost/lib/process"
	"github.com/roost-cluster/roost/lib/runner"
	"github.com/roost-cluster/roost/lib/schema"
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
		skipNetwork bool
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to roost.yaml (default: $ROOST_CONFIG)")
	flag.BoolVar(&skipNetwork, "skip-network", false, "skip network initialization (addresses already configured)")
	flag.Parse()

	if showVersion {
		version.Print("roost-controller")
		return nil
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

	name := "Controller"
	if serial, err := identifier.CPUSerial(); err == nil {
		name = identifier.Name(serial)
	}
	logger.Info("controller starting", "identifier", name, "version", version.Short())

	clk := clock.Real()
	enableWifi := cfg.Cluster.WifiPassphrase != ""
	if !skipNetwork {
		network := netman.NewController(cfg, &runner.Exec{Logger: logger}, clk, logger)
		if err := network.Initialize(ctx, enableWifi); err != nil {
			return fmt.Errorf("network initialization: %w", err)
		}
	}

	registry, err := OpenRegistry(cfg.Controller.RegistryPath, clk, logger)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer registry.Close()

	monitor := newHealthMonitor(registry, cfg.Controller.HeartbeatInterval, clk, logger)
	go monitor.run(ctx)

	pusher := &commandPusher{
		client: &http.Client{Timeout: 30 * time.Second},
		port:   cfg.Worker.ControlPort,
		logger: logger,
	}
	control := newControlServer(cfg, registry, pusher, name, clk, logger)

	servers := []*http.Server{
		{
			Addr:    net.JoinHostPort(cfg.ControllerEthernetIP(), strconv.Itoa(cfg.Controller.ControlPort)),
			Handler: control.handler(),
		},
		{
			Addr:    net.JoinHostPort(cfg.ControllerEthernetIP(), strconv.Itoa(cfg.Controller.DataPort)),
			Handler: probeHandler(name, schema.DataPlaneEthernet, logger),
		},
	}
	if enableWifi {
		servers = append(servers, &http.Server{
			Addr:    net.JoinHostPort(cfg.ControllerWifiIP(), strconv.Itoa(cfg.Controller.DataPort)),
			Handler: probeHandler(name, schema.DataPlaneWifi, logger),
		})
	}

	errCh := make(chan error, len(servers))
	for _, server := range servers {
		go func() {
			logger.Info("listening", "addr", server.Addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serving %s: %w", server.Addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "addr", server.Addr, "error", err)
		}
	}
	return nil
}
