// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/testutil"
)

// testController stands up heartbeat and probe endpoints and rewires
// cfg and the fake network to reach them over loopback.
func testController(t *testing.T, cfg *config.Config, net *fakeNetwork, probePlane schema.DataPlane) (received *schema.WorkerHeartbeat) {
	t.Helper()
	received = &schema.WorkerHeartbeat{}

	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/heartbeat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, slog.New(slog.DiscardHandler), schema.HeartbeatAck{WorkerID: 7})
	}))
	t.Cleanup(control.Close)

	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, slog.New(slog.DiscardHandler), schema.ConnectivityProbe{
			Identifier: "Calm-Owl",
			Plane:      probePlane,
		})
	}))
	t.Cleanup(probe.Close)

	controlHost, controlPort := hostPort(t, control.URL)
	probeHost, probePort := hostPort(t, probe.URL)

	// Loopback doubles as the cluster subnet so the generated
	// controller addresses land on the test servers. 127.0.0.1 gives
	// the prefix "127.0.0." and host .1.
	cfg.Cluster.EthernetSubnet = controlHost[:strings.LastIndex(controlHost, ".")+1]
	cfg.Controller.ControlPort = controlPort
	cfg.Controller.DataPort = probePort
	net.controllerDataIP = probeHost
	return received
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

func TestHeartbeatCycleAdoptsAssignedID(t *testing.T) {
	cfg := config.Default()
	net := &fakeNetwork{plane: schema.DataPlaneEthernet}
	received := testController(t, cfg, net, schema.DataPlaneEthernet)

	w := testWorker(t, cfg, net)
	w.heartbeatCycle(context.Background())

	w.mu.Lock()
	workerID := w.workerID
	w.mu.Unlock()
	if workerID != 7 {
		t.Errorf("worker ID = %d, want 7 from the ack", workerID)
	}

	if received.Serial != "test-serial-0001" {
		t.Errorf("heartbeat serial = %q", received.Serial)
	}
	if received.WorkerID != schema.UnassignedWorkerID {
		t.Errorf("first heartbeat carried ID %d, want unassigned", received.WorkerID)
	}
	if received.PublicKey != w.keypair.PublicKey {
		t.Error("heartbeat missing the worker public key")
	}
	if received.KernelVersion == "" {
		t.Error("heartbeat missing the kernel version")
	}
	if !received.DataConnectivity {
		t.Error("data connectivity false despite a reachable probe")
	}
	if received.DataPlane != schema.DataPlaneEthernet {
		t.Errorf("data plane = %s", received.DataPlane)
	}
}

func TestHeartbeatLoopReportsEachTick(t *testing.T) {
	cfg := config.Default()
	net := &fakeNetwork{plane: schema.DataPlaneEthernet}

	heartbeats := make(chan schema.WorkerHeartbeat, 16)
	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hb schema.WorkerHeartbeat
		if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case heartbeats <- hb:
		default:
		}
		writeJSON(w, slog.New(slog.DiscardHandler), schema.HeartbeatAck{WorkerID: 3})
	}))
	t.Cleanup(control.Close)

	controlHost, controlPort := hostPort(t, control.URL)
	cfg.Cluster.EthernetSubnet = controlHost[:strings.LastIndex(controlHost, ".")+1]
	cfg.Controller.ControlPort = controlPort
	// No probe listener; the loop still reports, with connectivity
	// false.
	net.controllerDataIP = "127.0.0.1"
	cfg.Controller.DataPort = 1

	w := testWorker(t, cfg, net)
	clk := w.clock.(*clock.Fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.heartbeatLoop(ctx)
	}()

	first := testutil.RequireReceive(t, heartbeats, 5*time.Second, "startup heartbeat")
	if first.WorkerID != schema.UnassignedWorkerID {
		t.Errorf("first heartbeat ID = %d, want unassigned", first.WorkerID)
	}

	// The ticker is created after the startup report returns; keep
	// advancing until a tick lands.
	testutil.Eventually(t, 5*time.Second, func() bool {
		clk.Advance(cfg.Worker.HeartbeatInterval)
		return len(heartbeats) > 0
	}, "waiting for a ticked heartbeat")

	second := testutil.RequireReceive(t, heartbeats, time.Second, "ticked heartbeat")
	if second.WorkerID != 3 {
		t.Errorf("ticked heartbeat ID = %d, want 3 from the ack", second.WorkerID)
	}

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "heartbeat loop exit")
}

func TestHeartbeatReportsWrongPlaneAsDisconnected(t *testing.T) {
	cfg := config.Default()
	net := &fakeNetwork{plane: schema.DataPlaneEthernet}
	// The probe answers as the wifi plane while the worker believes it
	// is on ethernet.
	received := testController(t, cfg, net, schema.DataPlaneWifi)

	w := testWorker(t, cfg, net)
	w.heartbeatCycle(context.Background())

	if received.DataConnectivity {
		t.Error("data connectivity true despite reaching the wrong plane")
	}
}

func TestHeartbeatUnreachableProbe(t *testing.T) {
	cfg := config.Default()
	net := &fakeNetwork{plane: schema.DataPlaneEthernet}
	received := testController(t, cfg, net, schema.DataPlaneEthernet)

	// Point the probe somewhere nothing listens.
	net.controllerDataIP = "127.0.0.1"
	cfg.Controller.DataPort = 1

	w := testWorker(t, cfg, net)
	w.heartbeatCycle(context.Background())

	if received.DataConnectivity {
		t.Error("data connectivity true with no probe listener")
	}
}
