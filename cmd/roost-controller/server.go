// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/netutil"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/sealed"
	"github.com/roost-cluster/roost/lib/version"
)

// maxRequestBody bounds control API request bodies. Heartbeats and
// commands are small JSON documents.
const maxRequestBody = 1 << 20

// controlServer serves the controller's control API: heartbeats in,
// status and command dispatch out.
type controlServer struct {
	cfg        *config.Config
	registry   *Registry
	pusher     *commandPusher
	identifier string
	clock      clock.Clock
	logger     *slog.Logger

	mu sync.Mutex
	// pending tracks serials whose heartbeats could not be assigned an
	// ID (the ID space was full), keyed by serial with the time of the
	// last attempt.
	pending map[string]time.Time
}

func newControlServer(cfg *config.Config, registry *Registry, pusher *commandPusher, identifier string, clk clock.Clock, logger *slog.Logger) *controlServer {
	return &controlServer{
		cfg:        cfg,
		registry:   registry,
		pusher:     pusher,
		identifier: identifier,
		clock:      clk,
		logger:     logger,
		pending:    make(map[string]time.Time),
	}
}

func (s *controlServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/workers/{id}/command", s.handleCommand)
	mux.HandleFunc("DELETE /api/v1/workers/{id}", s.handleRemove)
	return mux
}

func (s *controlServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb schema.WorkerHeartbeat
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&hb); err != nil {
		http.Error(w, fmt.Sprintf("decoding heartbeat: %v", err), http.StatusBadRequest)
		return
	}

	workerID, err := s.registry.RecordHeartbeat(r.Context(), hb)
	switch {
	case errors.Is(err, errInvalidHeartbeat):
		s.logger.Warn("heartbeat rejected", "serial", hb.Serial, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, errWorkerIDsExhausted):
		s.logger.Warn("heartbeat deferred", "serial", hb.Serial, "error", err)
		s.mu.Lock()
		s.pending[hb.Serial] = s.clock.Now()
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		s.logger.Error("recording heartbeat", "serial", hb.Serial, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	delete(s.pending, hb.Serial)
	s.mu.Unlock()

	writeJSON(w, s.logger, schema.HeartbeatAck{WorkerID: workerID})
}

func (s *controlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	interval := s.cfg.Controller.HeartbeatInterval
	workers, err := s.registry.Workers(r.Context(), interval)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, schema.StatusReport{
		Identifier:               s.identifier,
		Version:                  version.Short(),
		HeartbeatIntervalSeconds: int(interval.Seconds()),
		Workers:                  workers,
		Pending:                  s.pendingCount(),
	})
}

// pendingCount prunes stale pending entries and returns the rest. An
// entry is stale once its worker would have gone offline anyway.
func (s *controlServer) pendingCount() int {
	cutoff := s.clock.Now().Add(-3 * s.cfg.Controller.HeartbeatInterval)
	s.mu.Lock()
	defer s.mu.Unlock()
	for serial, last := range s.pending {
		if last.Before(cutoff) {
			delete(s.pending, serial)
		}
	}
	return len(s.pending)
}

// handleCommand forwards a command to one worker's control API. The
// caller names only the worker and the command; addressing and
// passphrase sealing happen here, where the registry and cluster
// secrets live.
func (s *controlServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	workerID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "worker id must be an integer", http.StatusBadRequest)
		return
	}

	var cmd schema.Command
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&cmd); err != nil {
		http.Error(w, fmt.Sprintf("decoding command: %v", err), http.StatusBadRequest)
		return
	}

	worker, err := s.registry.Worker(r.Context(), workerID, s.cfg.Controller.HeartbeatInterval)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if cmd.Name == schema.CommandSwitchToWifi {
		if err := s.attachWifiCredentials(&cmd, worker); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
	}

	result, err := s.pusher.Push(r.Context(), worker.ControlIP, cmd)
	if err != nil {
		s.logger.Warn("command push failed",
			"worker_id", workerID,
			"command", cmd.Name,
			"error", err,
		)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.logger.Info("command delivered",
		"worker_id", workerID,
		"command", cmd.Name,
		"ok", result.OK,
	)
	writeJSON(w, s.logger, result)
}

// attachWifiCredentials fills in the SSID and the passphrase sealed to
// the worker's age key. The passphrase never crosses the wire in the
// clear.
func (s *controlServer) attachWifiCredentials(cmd *schema.Command, worker *schema.WorkerRegistration) error {
	passphrase := s.cfg.Cluster.WifiPassphrase
	if passphrase == "" {
		return fmt.Errorf("no wifi passphrase configured; the access point is not running")
	}
	if worker.PublicKey == "" {
		return fmt.Errorf("worker %d has not reported a public key yet", worker.WorkerID)
	}
	sealedPassphrase, err := sealed.Encrypt([]byte(passphrase), []string{worker.PublicKey})
	if err != nil {
		return fmt.Errorf("sealing passphrase for worker %d: %w", worker.WorkerID, err)
	}
	if cmd.Data == nil {
		cmd.Data = make(map[string]string)
	}
	cmd.Data["ssid"] = s.cfg.Cluster.WifiSSID
	cmd.Data["sealed_passphrase"] = sealedPassphrase
	return nil
}

func (s *controlServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	workerID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "worker id must be an integer", http.StatusBadRequest)
		return
	}
	if err := s.registry.Remove(r.Context(), workerID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// probeHandler answers data-plane connectivity probes. It is bound
// separately on each data-plane address so the response names the
// plane the worker actually reached.
func probeHandler(identifier string, plane schema.DataPlane, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/probe", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, schema.ConnectivityProbe{
			Identifier: identifier,
			Plane:      plane,
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response failed", "error", err)
	}
}

// commandPusher delivers commands to worker control APIs over HTTP.
type commandPusher struct {
	client *http.Client
	port   int
	logger *slog.Logger
}

// Push POSTs cmd to the worker's command endpoint and returns the
// worker's result. A transport failure or non-200 status is an error;
// a delivered command that failed on the worker comes back as a
// CommandResult with OK false.
func (p *commandPusher) Push(ctx context.Context, controlIP string, cmd schema.Command) (schema.CommandResult, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return schema.CommandResult{}, fmt.Errorf("encoding command: %w", err)
	}
	url := fmt.Sprintf("http://%s/api/v1/command", net.JoinHostPort(controlIP, strconv.Itoa(p.port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return schema.CommandResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return schema.CommandResult{}, fmt.Errorf("delivering %s: %w", cmd.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return schema.CommandResult{}, fmt.Errorf("delivering %s: %s: %s",
			cmd.Name, resp.Status, netutil.ErrorBody(resp.Body))
	}

	var result schema.CommandResult
	if err := netutil.DecodeResponse(resp.Body, &result); err != nil {
		return schema.CommandResult{}, fmt.Errorf("decoding %s result: %w", cmd.Name, err)
	}
	return result, nil
}
