// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// subnetPrefixPattern matches a dotted IPv4 /24 prefix with a trailing
// dot, e.g. "10.0.100.". Worker and controller addresses are formed by
// appending a host octet to the prefix.
var subnetPrefixPattern = regexp.MustCompile(
	`^(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]\d?)\.(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]\d?|0)\.(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]\d?|0)\.$`)

// Config is the master configuration for Roost. One file serves every
// binary; each reads the sections it needs.
type Config struct {
	// Cluster describes the shared network identity of the cluster.
	Cluster ClusterConfig `yaml:"cluster"`

	// Worker configures worker nodes.
	Worker WorkerConfig `yaml:"worker"`

	// Controller configures the controller node.
	Controller ControllerConfig `yaml:"controller"`

	// Provision configures the roost-provision bootstrap tool.
	Provision ProvisionConfig `yaml:"provision"`
}

// ClusterConfig describes the cluster's two network planes. The
// control plane always runs on ethernet; the data plane is ethernet or
// WiFi, switchable at runtime.
type ClusterConfig struct {
	// EthernetSubnet is the /24 prefix of the wired control network,
	// with a trailing dot (e.g. "10.0.100."). The controller takes
	// host .1; workers receive .2-.254 via DHCP.
	EthernetSubnet string `yaml:"ethernet_subnet"`

	// WifiSubnet is the /24 prefix of the wireless data network, with
	// a trailing dot. The controller's access point takes host .1.
	WifiSubnet string `yaml:"wifi_subnet"`

	// WifiSSID is the SSID of the controller-hosted access point.
	WifiSSID string `yaml:"wifi_ssid"`

	// WifiPassphrase is the WPA2 passphrase for the access point.
	// Minimum 8 characters (WPA2 requirement). Distributed to workers
	// sealed with age, never in command payloads.
	WifiPassphrase string `yaml:"wifi_passphrase"`
}

// WorkerConfig configures a worker node.
type WorkerConfig struct {
	// EthernetInterface is the wired interface name. Default: eth0.
	EthernetInterface string `yaml:"ethernet_interface"`

	// WifiInterface is the wireless interface name. Default: wlan0.
	WifiInterface string `yaml:"wifi_interface"`

	// ControlPort is the TCP port of the worker's control API, dialed
	// by the controller for command delivery. Default: 8001.
	ControlPort int `yaml:"control_port"`

	// DataPort is the TCP port of the worker's tensor data plane.
	// Default: 8002.
	DataPort int `yaml:"data_port"`

	// HeartbeatInterval is how often the worker reports to the
	// controller. Default: 5s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StateDir holds the worker's age identity, reboot markers, and
	// cached runtime state. Default: /var/lib/roost.
	StateDir string `yaml:"state_dir"`

	// ModelDir holds model files and their JSONC manifests.
	// Default: /var/lib/roost/models.
	ModelDir string `yaml:"model_dir"`
}

// ControllerConfig configures the controller node.
type ControllerConfig struct {
	// ControlPort is the TCP port of the controller's control API
	// (heartbeats in, status queries out). Default: 8001.
	ControlPort int `yaml:"control_port"`

	// DataPort is the TCP port of the controller's data-plane
	// connectivity probe endpoint. Default: 8002.
	DataPort int `yaml:"data_port"`

	// RegistryPath is the SQLite database holding worker
	// registrations. Default: /var/lib/roost/registry.db.
	RegistryPath string `yaml:"registry_path"`

	// HeartbeatInterval is the interval workers are expected to
	// report at. Health thresholds (suspect, offline) are derived
	// from it. Default: 5s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ProvisionConfig configures roost-provision. The three decisions
// mirror the interactive questions the tool asks on a terminal; in
// non-interactive runs the configured answer is used directly.
type ProvisionConfig struct {
	// InstallAccelerator decides whether to install missing
	// accelerator driver packages: "yes", "no", or "ask".
	InstallAccelerator string `yaml:"install_accelerator"`

	// SetGen3Mode decides whether to raise the accelerator's PCIe
	// link speed to Gen3 in the boot config: "yes", "no", or "ask".
	SetGen3Mode string `yaml:"set_gen3_mode"`

	// AutoReboot decides whether to reboot immediately after a boot
	// config change: "yes", "no", or "ask".
	AutoReboot string `yaml:"auto_reboot"`

	// InstallRuntime decides whether to install the runtime tool when
	// it is missing: "yes", "no", or "ask". Declining is fatal; the
	// launch step needs the tool.
	InstallRuntime string `yaml:"install_runtime"`

	// DriverPackages are the system packages that provide the
	// accelerator kernel driver and runtime. Both must be installed
	// for Gen3 configuration to be offered.
	DriverPackages []string `yaml:"driver_packages"`

	// BootConfigPath is the firmware config file that carries the
	// PCIe link-speed parameter. Default: /boot/firmware/config.txt.
	BootConfigPath string `yaml:"boot_config_path"`

	// RuntimeTool is the executable the launch step depends on.
	// Default: poetry.
	RuntimeTool string `yaml:"runtime_tool"`

	// RuntimeInstallerURL is the HTTPS installer script fetched when
	// RuntimeTool is absent. Default: https://install.python-poetry.org.
	RuntimeInstallerURL string `yaml:"runtime_installer_url"`

	// RuntimeHome is where the runtime tool installs itself; exported
	// as the tool's home variable during bootstrap. Default:
	// ${HOME}/.local/share/roost-runtime.
	RuntimeHome string `yaml:"runtime_home"`

	// SourcePath is prepended to the module path variable so the
	// launched entry point resolves project modules first. Default:
	// /opt/roost/src.
	SourcePath string `yaml:"source_path"`
}

// Default returns the documented default configuration. These defaults
// are applied as a base before the config file is merged on top, so a
// file only needs to state what differs.
func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			EthernetSubnet: "10.0.100.",
			WifiSubnet:     "10.0.200.",
			WifiSSID:       "RoostNet",
			WifiPassphrase: "",
		},
		Worker: WorkerConfig{
			EthernetInterface: "eth0",
			WifiInterface:     "wlan0",
			ControlPort:       8001,
			DataPort:          8002,
			HeartbeatInterval: 5 * time.Second,
			StateDir:          "/var/lib/roost",
			ModelDir:          "/var/lib/roost/models",
		},
		Controller: ControllerConfig{
			ControlPort:       8001,
			DataPort:          8002,
			RegistryPath:      "/var/lib/roost/registry.db",
			HeartbeatInterval: 5 * time.Second,
		},
		Provision: ProvisionConfig{
			InstallAccelerator:  "ask",
			SetGen3Mode:         "ask",
			AutoReboot:          "ask",
			InstallRuntime:      "ask",
			DriverPackages:      []string{"hailort", "hailort-pcie-driver"},
			BootConfigPath:      "/boot/firmware/config.txt",
			RuntimeTool:         "poetry",
			RuntimeInstallerURL: "https://install.python-poetry.org",
			RuntimeHome:         "${HOME}/.local/share/roost-runtime",
			SourcePath:          "/opt/roost/src",
		},
	}
}

// Load loads configuration from the path in the ROOST_CONFIG
// environment variable. This is the only way to load configuration
// without an explicit path; if ROOST_CONFIG is unset, Load fails
// rather than guessing.
func Load(logger *slog.Logger) (*Config, error) {
	path := os.Getenv("ROOST_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("ROOST_CONFIG environment variable not set; " +
			"set it to the path of your roost.yaml config file, or use --config")
	}
	return LoadFile(path, logger)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth; environment variables do not override
// values. The only expansion performed is ${VAR} substitution on path
// fields for portability.
//
// Cluster-level field validation is warn-and-default: see the package
// documentation. logger may be nil, in which case warnings are
// discarded.
func LoadFile(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.applyDefaults(logger)
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	expand := func(s string) string {
		return os.Expand(s, func(name string) string {
			// Support ${VAR:-default}.
			for i := 0; i < len(name); i++ {
				if name[i] == ':' && i+1 < len(name) && name[i+1] == '-' {
					if value := os.Getenv(name[:i]); value != "" {
						return value
					}
					return name[i+2:]
				}
			}
			return os.Getenv(name)
		})
	}

	c.Worker.StateDir = expand(c.Worker.StateDir)
	c.Worker.ModelDir = expand(c.Worker.ModelDir)
	c.Controller.RegistryPath = expand(c.Controller.RegistryPath)
	c.Provision.BootConfigPath = expand(c.Provision.BootConfigPath)
	c.Provision.RuntimeHome = expand(c.Provision.RuntimeHome)
	c.Provision.SourcePath = expand(c.Provision.SourcePath)
}

// applyDefaults validates cluster-level fields and replaces invalid
// values with documented defaults, logging each replacement.
func (c *Config) applyDefaults(logger *slog.Logger) {
	defaults := Default()

	if !subnetPrefixPattern.MatchString(c.Cluster.EthernetSubnet) {
		logger.Warn("ethernet subnet missing or invalid, using default",
			"configured", c.Cluster.EthernetSubnet,
			"default", defaults.Cluster.EthernetSubnet,
		)
		c.Cluster.EthernetSubnet = defaults.Cluster.EthernetSubnet
	}
	if !subnetPrefixPattern.MatchString(c.Cluster.WifiSubnet) {
		logger.Warn("wifi subnet missing or invalid, using default",
			"configured", c.Cluster.WifiSubnet,
			"default", defaults.Cluster.WifiSubnet,
		)
		c.Cluster.WifiSubnet = defaults.Cluster.WifiSubnet
	}
	if c.Cluster.WifiSSID == "" {
		logger.Warn("wifi SSID not set, using default", "default", defaults.Cluster.WifiSSID)
		c.Cluster.WifiSSID = defaults.Cluster.WifiSSID
	}
	if c.Cluster.WifiPassphrase != "" && len(c.Cluster.WifiPassphrase) < 8 {
		// WPA2 rejects passphrases under 8 characters at hostapd
		// startup; catching it here gives a clearer message.
		logger.Warn("wifi passphrase shorter than 8 characters, ignoring it")
		c.Cluster.WifiPassphrase = ""
	}

	c.Worker.ControlPort = validPort(logger, "worker.control_port", c.Worker.ControlPort, defaults.Worker.ControlPort)
	c.Worker.DataPort = validPort(logger, "worker.data_port", c.Worker.DataPort, defaults.Worker.DataPort)
	c.Controller.ControlPort = validPort(logger, "controller.control_port", c.Controller.ControlPort, defaults.Controller.ControlPort)
	c.Controller.DataPort = validPort(logger, "controller.data_port", c.Controller.DataPort, defaults.Controller.DataPort)

	if c.Worker.EthernetInterface == "" {
		logger.Warn("worker ethernet interface not set, using default", "default", defaults.Worker.EthernetInterface)
		c.Worker.EthernetInterface = defaults.Worker.EthernetInterface
	}
	if c.Worker.WifiInterface == "" {
		logger.Warn("worker wifi interface not set, using default", "default", defaults.Worker.WifiInterface)
		c.Worker.WifiInterface = defaults.Worker.WifiInterface
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = defaults.Worker.HeartbeatInterval
	}
	if c.Controller.HeartbeatInterval <= 0 {
		c.Controller.HeartbeatInterval = defaults.Controller.HeartbeatInterval
	}

	for _, decision := range []struct {
		name  string
		value *string
	}{
		{"provision.install_accelerator", &c.Provision.InstallAccelerator},
		{"provision.set_gen3_mode", &c.Provision.SetGen3Mode},
		{"provision.auto_reboot", &c.Provision.AutoReboot},
		{"provision.install_runtime", &c.Provision.InstallRuntime},
	} {
		switch *decision.value {
		case "yes", "no", "ask":
		default:
			logger.Warn("provision decision invalid, using \"ask\"",
				"field", decision.name,
				"configured", *decision.value,
			)
			*decision.value = "ask"
		}
	}
}

// validPort returns port if it is in the valid TCP range, otherwise
// logs a warning and returns fallback.
func validPort(logger *slog.Logger, field string, port, fallback int) int {
	if port < 1 || port > 65535 {
		logger.Warn("port missing or out of range, using default",
			"field", field,
			"configured", port,
			"default", fallback,
		)
		return fallback
	}
	return port
}

// ControllerEthernetIP returns the controller's address on the wired
// control plane: host .1 on the ethernet subnet.
func (c *Config) ControllerEthernetIP() string {
	return c.Cluster.EthernetSubnet + "1"
}

// ControllerWifiIP returns the controller's address on the wireless
// data plane: host .1 on the WiFi subnet.
func (c *Config) ControllerWifiIP() string {
	return c.Cluster.WifiSubnet + "1"
}
