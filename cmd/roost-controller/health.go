// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/schema"
)

// healthFor derives a worker's health from heartbeat staleness. The
// thresholds are one interval for online and three for suspect; past
// three the worker is offline.
func healthFor(staleness, interval time.Duration) schema.Health {
	switch {
	case staleness <= interval:
		return schema.HealthOnline
	case staleness <= 3*interval:
		return schema.HealthSuspect
	default:
		return schema.HealthOffline
	}
}

// healthMonitor periodically re-derives fleet health and logs
// transitions. It never acts on a transition; recovery is the worker's
// job, and the log line is the operator's signal.
type healthMonitor struct {
	registry *Registry
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	// previous holds the last observed health per worker ID. Accessed
	// only from the run goroutine.
	previous map[int]schema.Health
}

func newHealthMonitor(registry *Registry, interval time.Duration, clk clock.Clock, logger *slog.Logger) *healthMonitor {
	return &healthMonitor{
		registry: registry,
		interval: interval,
		clock:    clk,
		logger:   logger,
		previous: make(map[int]schema.Health),
	}
}

// run checks health once per heartbeat interval until ctx is done.
func (m *healthMonitor) run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *healthMonitor) check(ctx context.Context) {
	workers, err := m.registry.Workers(ctx, m.interval)
	if err != nil {
		m.logger.Error("health check failed", "error", err)
		return
	}

	seen := make(map[int]bool, len(workers))
	for _, worker := range workers {
		seen[worker.WorkerID] = true
		previous, known := m.previous[worker.WorkerID]
		m.previous[worker.WorkerID] = worker.Health
		if !known || previous == worker.Health {
			continue
		}
		switch worker.Health {
		case schema.HealthOnline:
			m.logger.Info("worker recovered",
				"worker_id", worker.WorkerID,
				"identifier", worker.Identifier,
				"previous", previous,
			)
		case schema.HealthSuspect:
			m.logger.Warn("worker heartbeats are stale",
				"worker_id", worker.WorkerID,
				"identifier", worker.Identifier,
				"last_seen", worker.LastSeen,
			)
		case schema.HealthOffline:
			m.logger.Error("worker is offline",
				"worker_id", worker.WorkerID,
				"identifier", worker.Identifier,
				"last_seen", worker.LastSeen,
			)
		}
	}

	// Forget removed workers so a reused ID starts fresh.
	for id := range m.previous {
		if !seen[id] {
			delete(m.previous, id)
		}
	}
}
