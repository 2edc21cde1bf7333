// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/netutil"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/sealed"
)

// testControlServer wires a control server around a fresh registry and
// an httptest server, with the pusher aimed at workerPort.
func testControlServer(t *testing.T, cfg *config.Config, workerPort int) (*httptest.Server, *Registry, *clock.Fake) {
	t.Helper()
	registry, clk := testRegistry(t)
	logger := slog.New(slog.DiscardHandler)
	pusher := &commandPusher{
		client: &http.Client{Timeout: 5 * time.Second},
		port:   workerPort,
		logger: logger,
	}
	control := newControlServer(cfg, registry, pusher, "Calm-Owl", clk, logger)
	server := httptest.NewServer(control.handler())
	t.Cleanup(server.Close)
	return server, registry, clk
}

func postHeartbeat(t *testing.T, serverURL string, hb schema.WorkerHeartbeat) schema.HeartbeatAck {
	t.Helper()
	payload, err := json.Marshal(hb)
	if err != nil {
		t.Fatalf("marshaling heartbeat: %v", err)
	}
	resp, err := http.Post(serverURL+"/api/v1/heartbeat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST heartbeat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status = %s: %s", resp.Status, netutil.ErrorBody(resp.Body))
	}
	var ack schema.HeartbeatAck
	if err := netutil.DecodeResponse(resp.Body, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	return ack
}

func getStatus(t *testing.T, serverURL string) schema.StatusReport {
	t.Helper()
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %s", resp.Status)
	}
	var report schema.StatusReport
	if err := netutil.DecodeResponse(resp.Body, &report); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	return report
}

func TestHeartbeatAssignsAndAcks(t *testing.T) {
	server, _, _ := testControlServer(t, config.Default(), 0)

	ack := postHeartbeat(t, server.URL, heartbeat("serial-a"))
	if ack.WorkerID != 0 {
		t.Errorf("assigned ID = %d, want 0", ack.WorkerID)
	}
	ack = postHeartbeat(t, server.URL, heartbeat("serial-b"))
	if ack.WorkerID != 1 {
		t.Errorf("assigned ID = %d, want 1", ack.WorkerID)
	}

	report := getStatus(t, server.URL)
	if report.Identifier != "Calm-Owl" {
		t.Errorf("identifier = %q", report.Identifier)
	}
	if len(report.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(report.Workers))
	}
	if report.Workers[0].Health != schema.HealthOnline {
		t.Errorf("fresh worker health = %s", report.Workers[0].Health)
	}
	if report.Pending != 0 {
		t.Errorf("pending = %d, want 0", report.Pending)
	}
}

func TestHeartbeatRejectsMalformedBody(t *testing.T) {
	server, _, _ := testControlServer(t, config.Default(), 0)

	resp, err := http.Post(server.URL+"/api/v1/heartbeat", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %s, want 400", resp.Status)
	}
}

func TestInvalidHeartbeatIsClientErrorNotPending(t *testing.T) {
	server, _, _ := testControlServer(t, config.Default(), 0)

	hb := heartbeat("serial-a")
	hb.DataPlane = "carrier-pigeon"
	payload, err := json.Marshal(hb)
	if err != nil {
		t.Fatalf("marshaling heartbeat: %v", err)
	}
	resp, err := http.Post(server.URL+"/api/v1/heartbeat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST heartbeat: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %s, want 400", resp.Status)
	}

	// Malformed traffic must not inflate the pending count; that is
	// reserved for workers waiting on a free ID.
	if report := getStatus(t, server.URL); report.Pending != 0 {
		t.Errorf("pending = %d after an invalid heartbeat", report.Pending)
	}
}

func TestCommandForwardedToWorker(t *testing.T) {
	var received schema.Command
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/command" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, slog.New(slog.DiscardHandler), schema.CommandResult{OK: true, Message: "loaded"})
	}))
	defer worker.Close()
	workerHost, workerPort := hostPort(t, worker.URL)

	server, _, _ := testControlServer(t, config.Default(), workerPort)

	hb := heartbeat("serial-a")
	hb.ControlIP = workerHost
	postHeartbeat(t, server.URL, hb)

	result := postCommand(t, server.URL, 0, schema.Command{
		Name: schema.CommandLoadModel,
		Data: map[string]string{"model": "yolov4"},
	}, http.StatusOK)
	if !result.OK || result.Message != "loaded" {
		t.Errorf("result = %+v", result)
	}
	if received.Name != schema.CommandLoadModel || received.Data["model"] != "yolov4" {
		t.Errorf("worker received %+v", received)
	}
}

func TestSwitchToWifiSealsPassphrase(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	var received schema.Command
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, slog.New(slog.DiscardHandler), schema.CommandResult{OK: true})
	}))
	defer worker.Close()
	workerHost, workerPort := hostPort(t, worker.URL)

	cfg := config.Default()
	cfg.Cluster.WifiPassphrase = "hunter22"
	server, _, _ := testControlServer(t, cfg, workerPort)

	hb := heartbeat("serial-a")
	hb.ControlIP = workerHost
	hb.PublicKey = keypair.PublicKey
	postHeartbeat(t, server.URL, hb)

	postCommand(t, server.URL, 0, schema.Command{Name: schema.CommandSwitchToWifi}, http.StatusOK)

	if received.Data["ssid"] != cfg.Cluster.WifiSSID {
		t.Errorf("ssid = %q, want %q", received.Data["ssid"], cfg.Cluster.WifiSSID)
	}
	sealedPassphrase := received.Data["sealed_passphrase"]
	if sealedPassphrase == "" || sealedPassphrase == "hunter22" {
		t.Fatalf("passphrase not sealed: %q", sealedPassphrase)
	}
	plaintext, err := sealed.Decrypt(sealedPassphrase, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "hunter22" {
		t.Errorf("decrypted passphrase = %q", plaintext)
	}
}

func TestSwitchToWifiWithoutPassphraseFails(t *testing.T) {
	server, _, _ := testControlServer(t, config.Default(), 0)
	postHeartbeat(t, server.URL, heartbeat("serial-a"))
	postCommand(t, server.URL, 0, schema.Command{Name: schema.CommandSwitchToWifi}, http.StatusConflict)
}

func TestSwitchToWifiWithoutPublicKeyFails(t *testing.T) {
	cfg := config.Default()
	cfg.Cluster.WifiPassphrase = "hunter22"
	server, _, _ := testControlServer(t, cfg, 0)
	postHeartbeat(t, server.URL, heartbeat("serial-a"))
	postCommand(t, server.URL, 0, schema.Command{Name: schema.CommandSwitchToWifi}, http.StatusConflict)
}

func TestCommandToUnknownWorker(t *testing.T) {
	server, _, _ := testControlServer(t, config.Default(), 0)
	postCommand(t, server.URL, 42, schema.Command{Name: schema.CommandLoadModel}, http.StatusNotFound)
}

func TestRemoveWorker(t *testing.T) {
	server, _, _ := testControlServer(t, config.Default(), 0)
	postHeartbeat(t, server.URL, heartbeat("serial-a"))

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/workers/0", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %s, want 204", resp.Status)
	}
	if report := getStatus(t, server.URL); len(report.Workers) != 0 {
		t.Errorf("workers = %d after removal", len(report.Workers))
	}
}

func TestProbeHandler(t *testing.T) {
	server := httptest.NewServer(probeHandler("Calm-Owl", schema.DataPlaneWifi, slog.New(slog.DiscardHandler)))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/probe")
	if err != nil {
		t.Fatalf("GET probe: %v", err)
	}
	defer resp.Body.Close()
	var probe schema.ConnectivityProbe
	if err := netutil.DecodeResponse(resp.Body, &probe); err != nil {
		t.Fatalf("decoding probe: %v", err)
	}
	if probe.Identifier != "Calm-Owl" || probe.Plane != schema.DataPlaneWifi {
		t.Errorf("probe = %+v", probe)
	}
}

func postCommand(t *testing.T, serverURL string, workerID int, cmd schema.Command, wantStatus int) schema.CommandResult {
	t.Helper()
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshaling command: %v", err)
	}
	resp, err := http.Post(
		serverURL+"/api/v1/workers/"+strconv.Itoa(workerID)+"/command",
		"application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST command: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("command status = %s, want %d: %s", resp.Status, wantStatus, netutil.ErrorBody(resp.Body))
	}
	var result schema.CommandResult
	if wantStatus == http.StatusOK {
		if err := netutil.DecodeResponse(resp.Body, &result); err != nil {
			t.Fatalf("decoding result: %v", err)
		}
	}
	return result
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parsing port of %q: %v", rawURL, err)
	}
	return parsed.Hostname(), port
}
