// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package netman manages the cluster's two networks: the wired control
// plane and the optional wifi data plane. The controller side holds
// static .1 addresses, serves DHCP through dnsmasq, and hosts the
// access point through hostapd; the worker side acquires addresses
// over DHCP and switches its data plane on command.
//
// All system interaction goes through runner.Runner (nmcli, ip, ping,
// systemctl) and clock.Clock, so the whole package is testable without
// hardware.
package netman

import (
	"context"
	"fmt"
	"strings"

	"github.com/roost-cluster/roost/lib/runner"
)

// InterfaceStatus is the NetworkManager state of one interface.
type InterfaceStatus string

const (
	// StatusConnected: the interface has an active connection.
	StatusConnected InterfaceStatus = "connected"

	// StatusDisconnected: the interface is managed but has no active
	// connection.
	StatusDisconnected InterfaceStatus = "disconnected"

	// StatusUnavailable: no carrier, missing hardware, or unmanaged.
	StatusUnavailable InterfaceStatus = "unavailable"
)

// interfaceStatus classifies iface from nmcli's GENERAL.STATE output
// (e.g. "100 (connected)"). Any nmcli failure reads as unavailable.
func interfaceStatus(ctx context.Context, run runner.Runner, iface string) InterfaceStatus {
	out, err := run.Run(ctx, "nmcli", "-g", "GENERAL.STATE", "device", "show", iface)
	if err != nil {
		return StatusUnavailable
	}
	switch {
	case strings.Contains(out, "(connected)"):
		return StatusConnected
	case strings.Contains(out, "(disconnected)"):
		return StatusDisconnected
	default:
		return StatusUnavailable
	}
}

// interfaceIPv4 extracts the first IPv4 address assigned to iface from
// "ip -4 addr show" output. Empty string when none is assigned.
func interfaceIPv4(ctx context.Context, run runner.Runner, iface string) (string, error) {
	out, err := run.Run(ctx, "ip", "-4", "addr", "show", iface)
	if err != nil {
		return "", fmt.Errorf("reading addresses of %s: %w", iface, err)
	}
	return parseInetAddress(out), nil
}

// parseInetAddress pulls the address out of the first "inet a.b.c.d/nn"
// line.
func parseInetAddress(output string) string {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "inet" {
			address, _, found := strings.Cut(fields[1], "/")
			if found {
				return address
			}
			return fields[1]
		}
	}
	return ""
}

// deleteInterfaceConnections removes every NetworkManager connection
// bound to iface so a fresh one can be created. Deletion failures are
// ignored; stale profile names may already be gone.
func deleteInterfaceConnections(ctx context.Context, run runner.Runner, iface string) error {
	out, err := run.Run(ctx, "nmcli", "-g", "GENERAL.CONNECTION", "device", "show", iface)
	if err != nil {
		return fmt.Errorf("listing connections of %s: %w", iface, err)
	}
	for _, name := range strings.Split(out, "\n") {
		name = strings.TrimSpace(name)
		if name == "" || name == "--" {
			continue
		}
		run.Run(ctx, "nmcli", "connection", "delete", name)
	}
	return nil
}

// PingTest sends count ICMP echoes to target and reports whether none
// were lost.
func PingTest(ctx context.Context, run runner.Runner, target string, count int) bool {
	out, err := run.Run(ctx, "ping", "-c", fmt.Sprint(count), "-W", "5", target)
	if err != nil {
		return false
	}
	return strings.Contains(out, " 0% packet loss")
}
