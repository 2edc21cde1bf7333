// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package accel

import (
	"os"
	"path/filepath"
	"testing"
)

// writeDevice lays out a synthetic sysfs PCI device directory.
func writeDevice(t *testing.T, sysRoot, address, vendor, device, linkSpeed, driver string) {
	t.Helper()
	devicePath := filepath.Join(sysRoot, "bus/pci/devices", address)
	if err := os.MkdirAll(devicePath, 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(name, value string) {
		if value == "" {
			return
		}
		if err := os.WriteFile(filepath.Join(devicePath, name), []byte(value+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("vendor", vendor)
	write("device", device)
	write("current_link_speed", linkSpeed)

	if driver != "" {
		driverDir := filepath.Join(sysRoot, "bus/pci/drivers", driver)
		if err := os.MkdirAll(driverDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(driverDir, filepath.Join(devicePath, "driver")); err != nil {
			t.Fatal(err)
		}
	}
}

func TestProbeFindsHailoDevice(t *testing.T) {
	sysRoot := t.TempDir()
	writeDevice(t, sysRoot, "0000:01:00.0", "0x1e60", "0x2864", "8.0 GT/s PCIe", "hailo")
	writeDevice(t, sysRoot, "0000:00:00.0", "0x14e4", "0x2712", "5.0 GT/s PCIe", "pcieport")

	devices := probeFrom(sysRoot)
	if len(devices) != 1 {
		t.Fatalf("probeFrom found %d devices, want 1", len(devices))
	}
	d := devices[0]
	if d.Address != "0000:01:00.0" || d.DeviceID != "0x2864" || d.Driver != "hailo" {
		t.Errorf("unexpected device: %+v", d)
	}
	if !d.Gen3() {
		t.Errorf("8.0 GT/s link not reported as Gen3: %+v", d)
	}
}

func TestProbeUnboundDriver(t *testing.T) {
	sysRoot := t.TempDir()
	writeDevice(t, sysRoot, "0000:01:00.0", "0x1e60", "0x2864", "2.5 GT/s PCIe", "")

	devices := probeFrom(sysRoot)
	if len(devices) != 1 {
		t.Fatalf("probeFrom found %d devices, want 1", len(devices))
	}
	if devices[0].Driver != "" {
		t.Errorf("driver = %q, want empty for unbound device", devices[0].Driver)
	}
	if devices[0].Gen3() {
		t.Error("2.5 GT/s link reported as Gen3")
	}
}

func TestProbeEmptySysfs(t *testing.T) {
	if devices := probeFrom(t.TempDir()); devices != nil {
		t.Errorf("probeFrom on empty sysfs = %v, want nil", devices)
	}
}
