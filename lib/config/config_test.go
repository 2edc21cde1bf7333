// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roost.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "cluster:\n  wifi_ssid: TestNet\n")

	cfg, err := LoadFile(path, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Cluster.WifiSSID != "TestNet" {
		t.Errorf("wifi_ssid = %q, want TestNet", cfg.Cluster.WifiSSID)
	}
	if cfg.Cluster.EthernetSubnet != "10.0.100." {
		t.Errorf("ethernet_subnet = %q, want default 10.0.100.", cfg.Cluster.EthernetSubnet)
	}
	if cfg.Worker.ControlPort != 8001 {
		t.Errorf("control_port = %d, want default 8001", cfg.Worker.ControlPort)
	}
	if cfg.Worker.HeartbeatInterval != 5*time.Second {
		t.Errorf("heartbeat_interval = %v, want default 5s", cfg.Worker.HeartbeatInterval)
	}
}

func TestLoadFileInvalidSubnetFallsBack(t *testing.T) {
	path := writeConfig(t, `
cluster:
  ethernet_subnet: "not-a-subnet"
  wifi_subnet: "10.0.200.0/24"
`)

	cfg, err := LoadFile(path, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Cluster.EthernetSubnet != "10.0.100." {
		t.Errorf("invalid ethernet subnet not defaulted: %q", cfg.Cluster.EthernetSubnet)
	}
	// CIDR notation is rejected too: the field is a prefix with a
	// trailing dot, not a network spec.
	if cfg.Cluster.WifiSubnet != "10.0.200." {
		t.Errorf("CIDR wifi subnet not defaulted: %q", cfg.Cluster.WifiSubnet)
	}
}

func TestLoadFileValidSubnetKept(t *testing.T) {
	path := writeConfig(t, `
cluster:
  ethernet_subnet: "192.168.7."
`)
	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Cluster.EthernetSubnet != "192.168.7." {
		t.Errorf("valid subnet was replaced: %q", cfg.Cluster.EthernetSubnet)
	}
	if got := cfg.ControllerEthernetIP(); got != "192.168.7.1" {
		t.Errorf("ControllerEthernetIP = %q, want 192.168.7.1", got)
	}
}

func TestLoadFileShortPassphraseDropped(t *testing.T) {
	path := writeConfig(t, `
cluster:
  wifi_passphrase: "short"
`)
	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Cluster.WifiPassphrase != "" {
		t.Errorf("short passphrase kept: %q", cfg.Cluster.WifiPassphrase)
	}
}

func TestLoadFilePortRange(t *testing.T) {
	path := writeConfig(t, `
worker:
  control_port: 70000
  data_port: 9002
`)
	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Worker.ControlPort != 8001 {
		t.Errorf("out-of-range port not defaulted: %d", cfg.Worker.ControlPort)
	}
	if cfg.Worker.DataPort != 9002 {
		t.Errorf("valid port was replaced: %d", cfg.Worker.DataPort)
	}
}

func TestLoadFileProvisionDecisions(t *testing.T) {
	path := writeConfig(t, `
provision:
  install_accelerator: "yes"
  set_gen3_mode: "maybe"
`)
	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Provision.InstallAccelerator != "yes" {
		t.Errorf("install_accelerator = %q, want yes", cfg.Provision.InstallAccelerator)
	}
	if cfg.Provision.SetGen3Mode != "ask" {
		t.Errorf("invalid decision not reset to ask: %q", cfg.Provision.SetGen3Mode)
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	t.Setenv("ROOST_TEST_DIR", "/srv/roost")
	path := writeConfig(t, `
worker:
  state_dir: "${ROOST_TEST_DIR}/state"
controller:
  registry_path: "${ROOST_UNSET:-/var/lib/roost}/registry.db"
`)
	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Worker.StateDir != "/srv/roost/state" {
		t.Errorf("state_dir = %q", cfg.Worker.StateDir)
	}
	if cfg.Controller.RegistryPath != "/var/lib/roost/registry.db" {
		t.Errorf("registry_path = %q", cfg.Controller.RegistryPath)
	}
}

func TestLoadMissingEnvVar(t *testing.T) {
	t.Setenv("ROOST_CONFIG", "")
	if _, err := Load(nil); err == nil {
		t.Fatal("Load succeeded without ROOST_CONFIG")
	}
}
