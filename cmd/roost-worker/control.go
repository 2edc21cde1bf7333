// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roost-cluster/roost/lib/infer"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/sealed"
)

// maxCommandBody bounds command request bodies on the worker control
// API.
const maxCommandBody = 1 << 20

// controlHandler serves the worker's control API. Every command gets a
// CommandResult response; handler failures come back with OK false
// rather than bare HTTP errors, so the controller can always relay a
// message to the operator.
func (w *worker) controlHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/command", w.handleCommand)
	return mux
}

func (w *worker) handleCommand(rw http.ResponseWriter, r *http.Request) {
	var cmd schema.Command
	body := http.MaxBytesReader(rw, r.Body, maxCommandBody)
	if err := json.NewDecoder(body).Decode(&cmd); err != nil {
		http.Error(rw, fmt.Sprintf("decoding command: %v", err), http.StatusBadRequest)
		return
	}

	w.logger.Info("command received", "command", cmd.Name)
	result := w.dispatchCommand(r.Context(), cmd)
	if !result.OK {
		w.logger.Warn("command failed", "command", cmd.Name, "message", result.Message)
	}
	writeJSON(rw, w.logger, result)
}

func (w *worker) dispatchCommand(ctx context.Context, cmd schema.Command) schema.CommandResult {
	switch cmd.Name {
	case schema.CommandSwitchToEthernet:
		return w.switchToEthernet(ctx)
	case schema.CommandSwitchToWifi:
		return w.switchToWifi(ctx, cmd.Data)
	case schema.CommandLoadModel:
		return w.loadModel(cmd.Data)
	default:
		return schema.CommandResult{Message: fmt.Sprintf("unknown command %q", cmd.Name)}
	}
}

func (w *worker) switchToEthernet(ctx context.Context) schema.CommandResult {
	if err := w.network.SwitchToEthernet(ctx); err != nil {
		return schema.CommandResult{Message: err.Error()}
	}
	return schema.CommandResult{OK: true, Message: "data plane on ethernet"}
}

// switchToWifi unseals the passphrase with the worker's private key
// and joins the access point. The passphrase is used in place and
// never persisted.
func (w *worker) switchToWifi(ctx context.Context, data map[string]string) schema.CommandResult {
	ssid := data["ssid"]
	sealedPassphrase := data["sealed_passphrase"]
	if ssid == "" || sealedPassphrase == "" {
		return schema.CommandResult{Message: "switch_to_wifi requires ssid and sealed_passphrase"}
	}

	passphrase, err := sealed.Decrypt(sealedPassphrase, w.keypair.PrivateKey)
	if err != nil {
		return schema.CommandResult{Message: fmt.Sprintf("unsealing passphrase: %v", err)}
	}
	if err := w.network.SwitchToWifi(ctx, ssid, string(passphrase)); err != nil {
		return schema.CommandResult{Message: err.Error()}
	}
	return schema.CommandResult{OK: true, Message: "data plane on wifi"}
}

// loadModel discovers manifests fresh on every load so newly deployed
// models are visible without a restart.
func (w *worker) loadModel(data map[string]string) schema.CommandResult {
	name := data["model"]
	if name == "" {
		return schema.CommandResult{Message: "load_model requires a model name"}
	}

	manifests, err := infer.DiscoverManifests(w.cfg.Worker.ModelDir, w.logger)
	if err != nil {
		return schema.CommandResult{Message: fmt.Sprintf("discovering models: %v", err)}
	}
	manifest, ok := manifests[name]
	if !ok {
		available := make([]string, 0, len(manifests))
		for n := range manifests {
			available = append(available, n)
		}
		return schema.CommandResult{Message: fmt.Sprintf("unknown model %q (available: %v)", name, available)}
	}

	session, err := infer.NewSessionFromManifest(manifest, w.logger)
	if err != nil {
		return schema.CommandResult{Message: fmt.Sprintf("loading %q: %v", name, err)}
	}
	w.swapSession(session, name)
	w.logger.Info("model loaded", "model", name, "engine", manifest.Engine)
	return schema.CommandResult{OK: true, Message: fmt.Sprintf("model %q loaded", name)}
}

func writeJSON(rw http.ResponseWriter, logger *slog.Logger, v any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		logger.Warn("writing response failed", "error", err)
	}
}
