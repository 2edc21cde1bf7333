// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package accel probes the PCI bus for inference accelerator devices.
// It walks /sys/bus/pci/devices and matches vendor IDs against the
// known accelerator vendors, reading the bound kernel driver and the
// negotiated PCIe link speed from sysfs attributes.
//
// Probing never fails: a machine with no accelerator is a valid worker
// that runs CPU inference, so missing or unreadable sysfs files
// produce an empty device list rather than an error.
package accel

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Hailo's PCI vendor ID. The Hailo-8 M.2 module enumerates as
// 1e60:2864.
const hailoVendorID = "0x1e60"

// Device describes one detected accelerator.
type Device struct {
	// Address is the PCI slot address, e.g. "0000:01:00.0".
	Address string `json:"address"`

	// VendorID and DeviceID are the raw sysfs hex values, e.g.
	// "0x1e60" / "0x2864".
	VendorID string `json:"vendor_id"`
	DeviceID string `json:"device_id"`

	// Driver is the bound kernel driver name (basename of the driver
	// symlink), empty when no driver is bound: the device is present
	// but unusable until the driver packages are installed.
	Driver string `json:"driver"`

	// LinkSpeed is the negotiated PCIe link speed from
	// current_link_speed, e.g. "8.0 GT/s PCIe" (Gen3). Empty when the
	// attribute is unreadable.
	LinkSpeed string `json:"link_speed"`
}

// Gen3 reports whether the device negotiated a Gen3 (8 GT/s) or
// faster link. Workers on a Gen1/Gen2 link work but leave accelerator
// throughput on the table; roost-provision offers the boot config
// change that fixes this.
func (d Device) Gen3() bool {
	return strings.HasPrefix(d.LinkSpeed, "8.0 GT/s") ||
		strings.HasPrefix(d.LinkSpeed, "16.0 GT/s") ||
		strings.HasPrefix(d.LinkSpeed, "32.0 GT/s")
}

// Probe scans the real PCI device tree for accelerators.
func Probe() []Device {
	return probeFrom("/sys")
}

// probeFrom is the testable implementation of Probe. It accepts the
// sysfs root so tests can point at synthetic filesystems.
func probeFrom(sysRoot string) []Device {
	pciBase := filepath.Join(sysRoot, "bus/pci/devices")
	entries, err := os.ReadDir(pciBase)
	if err != nil {
		return nil
	}

	var devices []Device
	for _, entry := range entries {
		devicePath := filepath.Join(pciBase, entry.Name())
		vendor := readSysfsString(filepath.Join(devicePath, "vendor"))
		if vendor != hailoVendorID {
			continue
		}
		devices = append(devices, Device{
			Address:   entry.Name(),
			VendorID:  vendor,
			DeviceID:  readSysfsString(filepath.Join(devicePath, "device")),
			Driver:    readDriverName(devicePath),
			LinkSpeed: readSysfsString(filepath.Join(devicePath, "current_link_speed")),
		})
	}
	return devices
}

// KernelVersion returns the kernel release string from uname(2), for
// heartbeat reporting and driver package diagnostics.
func KernelVersion() string {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return ""
	}
	return unix.ByteSliceToString(utsname.Release[:])
}

// readSysfsString reads a sysfs attribute and trims trailing
// whitespace. Returns "" on any error; absent attributes are normal.
func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readDriverName returns the bound kernel driver for a PCI device by
// reading the basename of the "driver" symlink in the device directory.
func readDriverName(devicePath string) string {
	link, err := os.Readlink(filepath.Join(devicePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}
