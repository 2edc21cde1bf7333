// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/roost-cluster/roost/lib/accel"
	"github.com/roost-cluster/roost/lib/identifier"
	"github.com/roost-cluster/roost/lib/netutil"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/version"
)

// After this many consecutive send failures the log level escalates;
// the controller will already have the worker marked suspect by then.
const heartbeatFailureThreshold = 3

func identifierName(serial string) string {
	if serial == "" {
		return "Unknown-Worker"
	}
	return identifier.Name(serial)
}

// heartbeatLoop reports to the controller once per interval until ctx
// is done. Each cycle verifies data-plane connectivity first so the
// heartbeat carries a current verdict.
func (w *worker) heartbeatLoop(ctx context.Context) {
	// Report immediately on startup; the first ack assigns the ID.
	w.heartbeatCycle(ctx)

	ticker := w.clock.NewTicker(w.cfg.Worker.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.heartbeatCycle(ctx)
		}
	}
}

func (w *worker) heartbeatCycle(ctx context.Context) {
	dataOK := w.checkDataConnectivity(ctx)
	w.mu.Lock()
	w.dataOK = dataOK
	w.mu.Unlock()

	if err := w.sendHeartbeat(ctx); err != nil {
		w.heartbeatFailures++
		if w.heartbeatFailures >= heartbeatFailureThreshold {
			w.logger.Error("heartbeat failing", "error", err, "consecutive", w.heartbeatFailures)
		} else {
			w.logger.Warn("heartbeat failed", "error", err)
		}
		return
	}
	if w.heartbeatFailures >= heartbeatFailureThreshold {
		w.logger.Info("heartbeat recovered", "after_failures", w.heartbeatFailures)
	}
	w.heartbeatFailures = 0
}

// checkDataConnectivity probes the controller's data-plane endpoint
// and verifies the response names the plane this worker believes it is
// on. Reaching the wrong plane (stale routes after a switch) counts as
// a failure.
func (w *worker) checkDataConnectivity(ctx context.Context) bool {
	url := fmt.Sprintf("http://%s/api/v1/probe",
		net.JoinHostPort(w.network.ControllerDataIP(), strconv.Itoa(w.cfg.Controller.DataPort)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var probe schema.ConnectivityProbe
	if err := netutil.DecodeResponse(resp.Body, &probe); err != nil {
		return false
	}
	if probe.Plane != w.network.DataPlane() {
		w.logger.Warn("data probe reached the wrong plane",
			"reached", probe.Plane,
			"expected", w.network.DataPlane(),
		)
		return false
	}
	return true
}

func (w *worker) sendHeartbeat(ctx context.Context) error {
	hb := w.buildHeartbeat()
	payload, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/v1/heartbeat",
		net.JoinHostPort(w.cfg.ControllerEthernetIP(), strconv.Itoa(w.cfg.Controller.ControlPort)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("controller rejected heartbeat: %s: %s",
			resp.Status, netutil.ErrorBody(resp.Body))
	}

	var ack schema.HeartbeatAck
	if err := netutil.DecodeResponse(resp.Body, &ack); err != nil {
		return fmt.Errorf("decoding heartbeat ack: %w", err)
	}

	w.mu.Lock()
	if w.workerID != ack.WorkerID {
		w.logger.Info("worker ID assigned", "worker_id", ack.WorkerID)
		w.workerID = ack.WorkerID
	}
	w.mu.Unlock()
	return nil
}

func (w *worker) buildHeartbeat() schema.WorkerHeartbeat {
	w.mu.Lock()
	workerID := w.workerID
	dataOK := w.dataOK
	w.mu.Unlock()

	var accelerators []schema.AcceleratorInfo
	for _, device := range accel.Probe() {
		accelerators = append(accelerators, schema.AcceleratorInfo{
			Address:   device.Address,
			DeviceID:  device.DeviceID,
			Driver:    device.Driver,
			LinkSpeed: device.LinkSpeed,
			Gen3:      device.Gen3(),
		})
	}

	return schema.WorkerHeartbeat{
		WorkerID:         workerID,
		Serial:           w.serial,
		Identifier:       w.identifier,
		Version:          version.Short(),
		KernelVersion:    accel.KernelVersion(),
		ControlIP:        w.network.ControlIP(),
		DataIP:           w.network.DataIP(),
		DataPlane:        w.network.DataPlane(),
		DataConnectivity: dataOK,
		PublicKey:        w.keypair.PublicKey,
		Accelerators:     accelerators,
		Timestamp:        w.clock.Now().Unix(),
	}
}
