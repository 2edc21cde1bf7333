// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// roost-worker is the inference node daemon. It joins the wired
// control network via DHCP, heartbeats to the controller, serves the
// worker control API (network switching, model loading), and answers
// tensor requests on the data plane.
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
		preload     string
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to roost.yaml (default: $ROOST_CONFIG)")
	flag.BoolVar(&skipNetwork, "skip-network", false, "skip network initialization (address already configured)")
	flag.StringVar(&preload, "model", "", "model to load at startup (by manifest name)")
	flag.Parse()

	if showVersion {
		version.Print("roost-worker")
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

	serial, err := identifier.CPUSerial()
	if err != nil {
		logger.Warn("reading CPU serial failed, falling back to hostname", "error", err)
		serial, _ = os.Hostname()
	}

	keypair, err := loadOrCreateKeypair(cfg.Worker.StateDir)
	if err != nil {
		return err
	}

	clk := clock.Real()
	network := netman.NewWorker(cfg, &runner.Exec{Logger: logger}, clk, logger)
	if !skipNetwork {
		if err := network.Initialize(ctx); err != nil {
			return fmt.Errorf("network initialization: %w", err)
		}
	}

	w := newWorker(cfg, network, keypair, serial, clk,
		&http.Client{Timeout: 10 * time.Second}, logger)
	logger.Info("worker starting",
		"identifier", w.identifier,
		"serial", serial,
		"version", version.Short(),
		"control_ip", network.ControlIP(),
	)

	if preload != "" {
		if result := w.loadModel(map[string]string{"model": preload}); !result.OK {
			return fmt.Errorf("preloading model: %s", result.Message)
		}
	}

	// The data listener binds the wildcard address: plane selection is
	// which address the controller dials, routed by the kernel, not
	// which socket answers.
	dataListener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Worker.DataPort))
	if err != nil {
		return fmt.Errorf("binding data plane: %w", err)
	}
	go w.serveData(ctx, dataListener)

	go w.heartbeatLoop(ctx)

	controlServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Worker.ControlPort),
		Handler: w.controlHandler(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", controlServer.Addr)
		if err := controlServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		stop()
		return fmt.Errorf("control API: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control server shutdown", "error", err)
	}
	if session := w.currentSession(); session != nil {
		session.Close()
	}
	return nil
}
