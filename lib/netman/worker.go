// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package netman

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/runner"
	"github.com/roost-cluster/roost/lib/schema"
)

const (
	// ethernetRetryCount and ethernetRetryDelay bound the wait for an
	// ethernet carrier during initialization. A missing cable is the
	// most common field failure, so the retry message names it.
	ethernetRetryCount = 5
	ethernetRetryDelay = 5 * time.Second

	// dhcpTimeout bounds the wait for a DHCP lease after the ethernet
	// connection comes up; dhcpPollInterval is the check cadence.
	dhcpTimeout      = 30 * time.Second
	dhcpPollInterval = 3 * time.Second

	// wifiSettleDelay gives the radio time to scan after enabling and
	// to associate after connecting.
	wifiSettleDelay = 3 * time.Second

	// pingCount is the number of echoes per reachability check.
	pingCount = 3
)

// Worker manages a worker node's interfaces: ethernet via DHCP for the
// control plane, and an on-demand wifi association for the data plane.
//
// Worker is safe for concurrent use; the control API switches planes
// while the heartbeat loop reads addresses.
type Worker struct {
	cfg    *config.Config
	run    runner.Runner
	clk    clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	ethernetIP string
	wifiIP     string
	plane      schema.DataPlane
}

// NewWorker returns an uninitialized worker network manager. Call
// Initialize before anything else.
func NewWorker(cfg *config.Config, run runner.Runner, clk clock.Clock, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:    cfg,
		run:    run,
		clk:    clk,
		logger: logger,
		plane:  schema.DataPlaneEthernet,
	}
}

// Initialize waits for an ethernet carrier, configures the interface
// for DHCP, and records the leased address. The data plane starts on
// ethernet.
func (w *Worker) Initialize(ctx context.Context) error {
	iface := w.cfg.Worker.EthernetInterface
	w.logger.Info("initializing worker network", "interface", iface)

	for attempt := 1; interfaceStatus(ctx, w.run, iface) == StatusUnavailable; attempt++ {
		if attempt >= ethernetRetryCount {
			return fmt.Errorf("ethernet interface %s unavailable after %d attempts; check the cable", iface, attempt)
		}
		w.logger.Warn("ethernet interface unavailable, check the cable",
			"interface", iface,
			"attempt", attempt,
			"max_attempts", ethernetRetryCount,
		)
		w.clk.Sleep(ethernetRetryDelay)
	}

	ip, err := w.configureEthernetDHCP(ctx)
	if err != nil {
		return err
	}

	// The controller may still be booting; reachability is verified
	// again every heartbeat cycle.
	if !PingTest(ctx, w.run, w.cfg.ControllerEthernetIP(), pingCount) {
		w.logger.Warn("controller did not answer ping", "target", w.cfg.ControllerEthernetIP())
	}

	w.mu.Lock()
	w.ethernetIP = ip
	w.plane = schema.DataPlaneEthernet
	w.mu.Unlock()

	w.logger.Info("worker network initialized", "control_ip", ip, "data_plane", schema.DataPlaneEthernet)
	return nil
}

// configureEthernetDHCP replaces any existing connection profile on
// the ethernet interface with a fresh DHCP one and waits for a lease
// inside the cluster subnet.
func (w *Worker) configureEthernetDHCP(ctx context.Context) (string, error) {
	iface := w.cfg.Worker.EthernetInterface

	if err := deleteInterfaceConnections(ctx, w.run, iface); err != nil {
		return "", err
	}

	profile := iface + "-roost-dhcp"
	_, err := w.run.Run(ctx, "nmcli", "connection", "add",
		"type", "ethernet",
		"ifname", iface,
		"con-name", profile,
		"ipv4.method", "auto",
		"ipv6.method", "disable",
	)
	if err != nil {
		return "", fmt.Errorf("creating DHCP connection on %s: %w", iface, err)
	}
	if _, err := w.run.Run(ctx, "nmcli", "connection", "up", profile); err != nil {
		return "", fmt.Errorf("activating %s: %w", profile, err)
	}

	return w.waitForLease(ctx)
}

// waitForLease polls for an IPv4 address on the ethernet interface. An
// address outside the cluster subnet is logged and ignored; a rogue
// DHCP server on the wire must not capture the worker.
func (w *Worker) waitForLease(ctx context.Context) (string, error) {
	iface := w.cfg.Worker.EthernetInterface
	subnet := w.cfg.Cluster.EthernetSubnet
	deadline := w.clk.Now().Add(dhcpTimeout)

	w.logger.Info("waiting for DHCP lease", "interface", iface, "subnet", subnet)
	for {
		ip, err := interfaceIPv4(ctx, w.run, iface)
		if err != nil {
			return "", err
		}
		if ip != "" {
			if strings.HasPrefix(ip, subnet) {
				return ip, nil
			}
			w.logger.Warn("DHCP lease outside cluster subnet, ignoring", "address", ip, "subnet", subnet)
		}
		if !w.clk.Now().Before(deadline) {
			return "", fmt.Errorf("timed out waiting for a DHCP lease on %s", iface)
		}
		w.clk.Sleep(dhcpPollInterval)
	}
}

// SwitchToWifi associates the wifi interface with the cluster access
// point and moves the data plane there. A no-op when already on wifi.
func (w *Worker) SwitchToWifi(ctx context.Context, ssid, passphrase string) error {
	w.mu.Lock()
	if w.plane == schema.DataPlaneWifi {
		w.mu.Unlock()
		w.logger.Info("already on wifi data plane")
		return nil
	}
	w.mu.Unlock()

	iface := w.cfg.Worker.WifiInterface
	w.logger.Info("switching data plane to wifi", "interface", iface, "ssid", ssid)

	if _, err := w.run.Run(ctx, "nmcli", "radio", "wifi", "on"); err != nil {
		return fmt.Errorf("enabling wifi radio: %w", err)
	}
	w.clk.Sleep(wifiSettleDelay)

	_, err := w.run.Run(ctx, "nmcli", "device", "wifi", "connect", ssid,
		"password", passphrase, "ifname", iface)
	if err != nil {
		return fmt.Errorf("connecting %s to %q: %w", iface, ssid, err)
	}
	w.clk.Sleep(wifiSettleDelay)

	if status := interfaceStatus(ctx, w.run, iface); status != StatusConnected {
		return fmt.Errorf("wifi interface %s is %s after connecting to %q", iface, status, ssid)
	}
	ip, err := interfaceIPv4(ctx, w.run, iface)
	if err != nil {
		return err
	}
	if ip == "" {
		return fmt.Errorf("wifi interface %s has no address after connecting to %q", iface, ssid)
	}
	// Commit the plane only once the controller answers over it; an
	// association that cannot reach the controller is a failed switch.
	if !PingTest(ctx, w.run, w.cfg.ControllerWifiIP(), pingCount) {
		return fmt.Errorf("controller %s unreachable over wifi after connecting to %q",
			w.cfg.ControllerWifiIP(), ssid)
	}

	w.mu.Lock()
	w.wifiIP = ip
	w.plane = schema.DataPlaneWifi
	w.mu.Unlock()

	w.logger.Info("data plane switched to wifi", "address", ip)
	return nil
}

// SwitchToEthernet disables the wifi radio and moves the data plane
// back to the wired network. A no-op when already on ethernet.
func (w *Worker) SwitchToEthernet(ctx context.Context) error {
	w.mu.Lock()
	if w.plane == schema.DataPlaneEthernet {
		w.mu.Unlock()
		w.logger.Info("already on ethernet data plane")
		return nil
	}
	w.mu.Unlock()

	iface := w.cfg.Worker.WifiInterface
	w.logger.Info("switching data plane to ethernet")

	if _, err := w.run.Run(ctx, "nmcli", "radio", "wifi", "off"); err != nil {
		return fmt.Errorf("disabling wifi radio: %w", err)
	}
	w.clk.Sleep(2 * time.Second)
	if status := interfaceStatus(ctx, w.run, iface); status == StatusConnected {
		w.logger.Warn("wifi interface still connected after radio off", "interface", iface)
	}

	w.mu.Lock()
	w.wifiIP = ""
	w.plane = schema.DataPlaneEthernet
	w.mu.Unlock()

	w.logger.Info("data plane switched to ethernet")
	return nil
}

// ControlIP returns the worker's address on the wired control plane.
func (w *Worker) ControlIP() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ethernetIP
}

// DataPlane returns the network currently carrying tensor traffic.
func (w *Worker) DataPlane() schema.DataPlane {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.plane
}

// DataIP returns the worker's address on the current data plane.
func (w *Worker) DataIP() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.plane == schema.DataPlaneWifi {
		return w.wifiIP
	}
	return w.ethernetIP
}

// ControllerDataIP returns the controller's address on the current
// data plane, the target for connectivity verification.
func (w *Worker) ControllerDataIP() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.plane == schema.DataPlaneWifi {
		return w.cfg.ControllerWifiIP()
	}
	return w.cfg.ControllerEthernetIP()
}
