// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/infer"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/sealed"
)

// network is the slice of netman.Worker the worker core needs.
type network interface {
	ControlIP() string
	DataIP() string
	DataPlane() schema.DataPlane
	ControllerDataIP() string
	SwitchToWifi(ctx context.Context, ssid, passphrase string) error
	SwitchToEthernet(ctx context.Context) error
}

// worker holds the node's runtime state: its identity, the assigned
// worker ID, the current inference session, and the latest data-plane
// connectivity verdict.
type worker struct {
	cfg        *config.Config
	network    network
	keypair    sealed.Keypair
	serial     string
	identifier string
	clock      clock.Clock
	logger     *slog.Logger
	client     *http.Client

	// Touched only by the heartbeat loop goroutine.
	heartbeatFailures int

	mu        sync.Mutex
	workerID  int
	dataOK    bool
	session   *infer.Session
	modelName string
}

func newWorker(cfg *config.Config, net network, keypair sealed.Keypair, serial string, clk clock.Clock, client *http.Client, logger *slog.Logger) *worker {
	return &worker{
		cfg:        cfg,
		network:    net,
		keypair:    keypair,
		serial:     serial,
		identifier: identifierName(serial),
		clock:      clk,
		logger:     logger,
		client:     client,
		workerID:   schema.UnassignedWorkerID,
	}
}

// currentSession returns the active inference session, or nil before a
// model is loaded.
func (w *worker) currentSession() *infer.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// swapSession installs a new session and closes the previous one.
func (w *worker) swapSession(session *infer.Session, modelName string) {
	w.mu.Lock()
	previous := w.session
	w.session = session
	w.modelName = modelName
	w.mu.Unlock()
	if previous != nil {
		if err := previous.Close(); err != nil {
			w.logger.Warn("closing previous model session", "error", err)
		}
	}
}
