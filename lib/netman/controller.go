// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package netman

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roost-cluster/roost/lib/clock"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/runner"
)

// Controller manages the controller node's network: a static .1
// address on the wired subnet, DHCP service through dnsmasq, and an
// optional hostapd access point for the wifi data plane.
//
// Config file locations are fields so tests can point them at a
// temporary directory.
type Controller struct {
	cfg    *config.Config
	run    runner.Runner
	clk    clock.Clock
	logger *slog.Logger

	// DnsmasqConfDir receives the generated DHCP configuration.
	// Default: /etc/dnsmasq.d.
	DnsmasqConfDir string

	// HostapdConfPath receives the generated access-point
	// configuration. Default: /etc/hostapd/hostapd.conf.
	HostapdConfPath string

	// NetworkManagerConfDir receives the unmanaged-device stanza that
	// keeps NetworkManager off the access-point interface.
	// Default: /etc/NetworkManager/conf.d.
	NetworkManagerConfDir string
}

// NewController returns a controller network manager with the standard
// system config locations.
func NewController(cfg *config.Config, run runner.Runner, clk clock.Clock, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:                   cfg,
		run:                   run,
		clk:                   clk,
		logger:                logger,
		DnsmasqConfDir:        "/etc/dnsmasq.d",
		HostapdConfPath:       "/etc/hostapd/hostapd.conf",
		NetworkManagerConfDir: "/etc/NetworkManager/conf.d",
	}
}

// Initialize configures the wired control plane: stops any running
// DHCP and access-point services, assigns the static .1 address, and
// starts dnsmasq serving leases on the ethernet interface. When
// enableWifi is set, the wifi DHCP range is also configured and the
// access point brought up.
func (c *Controller) Initialize(ctx context.Context, enableWifi bool) error {
	c.logger.Info("initializing controller network",
		"ethernet_ip", c.cfg.ControllerEthernetIP(),
		"wifi", enableWifi,
	)

	// Stop services before rewriting their configuration; failures
	// mean they were not running.
	c.run.Run(ctx, "systemctl", "stop", "dnsmasq")
	c.run.Run(ctx, "systemctl", "stop", "hostapd")

	iface := c.cfg.Worker.EthernetInterface
	for attempt := 1; interfaceStatus(ctx, c.run, iface) == StatusUnavailable; attempt++ {
		if attempt >= ethernetRetryCount {
			return fmt.Errorf("ethernet interface %s unavailable after %d attempts; check the cable", iface, attempt)
		}
		c.logger.Warn("ethernet interface unavailable, check the cable",
			"interface", iface,
			"attempt", attempt,
			"max_attempts", ethernetRetryCount,
		)
		c.clk.Sleep(ethernetRetryDelay)
	}

	if err := c.configureEthernetStatic(ctx); err != nil {
		return err
	}
	if err := c.writeDnsmasqConfig(enableWifi); err != nil {
		return err
	}
	if _, err := c.run.Run(ctx, "systemctl", "start", "dnsmasq"); err != nil {
		return fmt.Errorf("starting dnsmasq: %w", err)
	}

	if enableWifi {
		if err := c.EnableAccessPoint(ctx); err != nil {
			return err
		}
	}

	c.logger.Info("controller network initialized")
	return nil
}

// configureEthernetStatic replaces any connection profile on the
// ethernet interface with a static .1 address and no gateway; the
// controller is the gateway.
func (c *Controller) configureEthernetStatic(ctx context.Context) error {
	iface := c.cfg.Worker.EthernetInterface
	ip := c.cfg.ControllerEthernetIP()

	if err := deleteInterfaceConnections(ctx, c.run, iface); err != nil {
		return err
	}

	profile := iface + "-roost-static"
	_, err := c.run.Run(ctx, "nmcli", "connection", "add",
		"type", "ethernet",
		"ifname", iface,
		"con-name", profile,
		"ipv4.method", "manual",
		"ipv4.addresses", ip+"/24",
		"ipv6.method", "disable",
	)
	if err != nil {
		return fmt.Errorf("creating static connection on %s: %w", iface, err)
	}
	if _, err := c.run.Run(ctx, "nmcli", "connection", "up", profile); err != nil {
		return fmt.Errorf("activating %s: %w", profile, err)
	}
	return nil
}

// writeDnsmasqConfig clears stale Roost dnsmasq config and writes the
// ethernet (and optionally wifi) DHCP ranges.
func (c *Controller) writeDnsmasqConfig(enableWifi bool) error {
	if err := os.MkdirAll(c.DnsmasqConfDir, 0o755); err != nil {
		return fmt.Errorf("creating dnsmasq config dir: %w", err)
	}
	stale, err := filepath.Glob(filepath.Join(c.DnsmasqConfDir, "roost-*.conf"))
	if err != nil {
		return fmt.Errorf("listing dnsmasq config: %w", err)
	}
	for _, path := range stale {
		c.logger.Info("removing stale dnsmasq config", "path", path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	ethPath := filepath.Join(c.DnsmasqConfDir, "roost-ethernet-dhcp.conf")
	ethConf := dnsmasqDHCPConfig(c.cfg.Worker.EthernetInterface, c.cfg.Cluster.EthernetSubnet)
	if err := os.WriteFile(ethPath, []byte(ethConf), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ethPath, err)
	}
	c.logger.Info("wrote dnsmasq ethernet DHCP config", "path", ethPath)

	if enableWifi {
		wifiPath := filepath.Join(c.DnsmasqConfDir, "roost-wifi-dhcp.conf")
		wifiConf := dnsmasqDHCPConfig(c.cfg.Worker.WifiInterface, c.cfg.Cluster.WifiSubnet)
		if err := os.WriteFile(wifiPath, []byte(wifiConf), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", wifiPath, err)
		}
		c.logger.Info("wrote dnsmasq wifi DHCP config", "path", wifiPath)
	}
	return nil
}

// EnableAccessPoint takes the wifi interface away from NetworkManager,
// gives it the static .1 data-plane address, and starts hostapd with a
// generated WPA2 configuration.
func (c *Controller) EnableAccessPoint(ctx context.Context) error {
	if c.cfg.Cluster.WifiPassphrase == "" {
		return fmt.Errorf("wifi passphrase not configured; the access point needs cluster.wifi_passphrase")
	}

	iface := c.cfg.Worker.WifiInterface
	ip := c.cfg.ControllerWifiIP()
	c.logger.Info("enabling access point", "interface", iface, "ssid", c.cfg.Cluster.WifiSSID)

	// hostapd owns the interface; NetworkManager fighting it for
	// control breaks association mid-handshake.
	if err := c.markInterfaceUnmanaged(iface); err != nil {
		return err
	}
	if _, err := c.run.Run(ctx, "systemctl", "restart", "NetworkManager"); err != nil {
		return fmt.Errorf("restarting NetworkManager: %w", err)
	}
	c.clk.Sleep(1 * time.Second)

	c.run.Run(ctx, "ip", "addr", "flush", "dev", iface)
	if _, err := c.run.Run(ctx, "ip", "addr", "add", ip+"/24", "dev", iface); err != nil {
		return fmt.Errorf("assigning %s to %s: %w", ip, iface, err)
	}
	if _, err := c.run.Run(ctx, "ip", "link", "set", iface, "up"); err != nil {
		return fmt.Errorf("bringing up %s: %w", iface, err)
	}
	c.clk.Sleep(1 * time.Second)

	if err := os.MkdirAll(filepath.Dir(c.HostapdConfPath), 0o755); err != nil {
		return fmt.Errorf("creating hostapd config dir: %w", err)
	}
	conf := hostapdConfig(iface, c.cfg.Cluster.WifiSSID, c.cfg.Cluster.WifiPassphrase)
	if err := os.WriteFile(c.HostapdConfPath, []byte(conf), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", c.HostapdConfPath, err)
	}
	if _, err := c.run.Run(ctx, "systemctl", "start", "hostapd"); err != nil {
		return fmt.Errorf("starting hostapd: %w", err)
	}

	c.logger.Info("access point enabled", "address", ip)
	return nil
}

// markInterfaceUnmanaged writes the NetworkManager keyfile stanza that
// excludes iface, replacing any stale Roost stanza.
func (c *Controller) markInterfaceUnmanaged(iface string) error {
	if _, err := os.Stat(c.NetworkManagerConfDir); err != nil {
		return fmt.Errorf("NetworkManager config dir %s: %w (is this system managed by NetworkManager?)",
			c.NetworkManagerConfDir, err)
	}
	stale, err := filepath.Glob(filepath.Join(c.NetworkManagerConfDir, "*-roost-unmanaged.conf"))
	if err != nil {
		return fmt.Errorf("listing NetworkManager config: %w", err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	path := filepath.Join(c.NetworkManagerConfDir, iface+"-roost-unmanaged.conf")
	content := "[keyfile]\nunmanaged-devices=interface-name:" + iface + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// dnsmasqDHCPConfig renders a dnsmasq DHCP stanza serving .2-.99 on
// subnet. The range stops at .99 because worker IDs double as host
// octets; higher octets stay free for static use.
func dnsmasqDHCPConfig(iface, subnet string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", iface)
	b.WriteString("bind-interfaces\n")
	fmt.Fprintf(&b, "dhcp-range=%s2,%s99,24h\n", subnet, subnet)
	b.WriteString("dhcp-option=1,255.255.255.0\n")
	fmt.Fprintf(&b, "dhcp-option=3,%s1\n", subnet)
	return b.String()
}

// hostapdConfig renders a WPA2-PSK 5GHz access-point configuration.
func hostapdConfig(iface, ssid, passphrase string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", iface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ssid=%s\n", ssid)
	fmt.Fprintf(&b, "wpa_passphrase=%s\n", passphrase)
	b.WriteString("wpa=2\n")
	b.WriteString("wpa_key_mgmt=WPA-PSK\n")
	b.WriteString("auth_algs=1\n")
	b.WriteString("ignore_broadcast_ssid=0\n")
	b.WriteString("macaddr_acl=0\n")
	b.WriteString("rsn_pairwise=CCMP\n")
	b.WriteString("hw_mode=a\n")
	b.WriteString("channel=0\n")
	b.WriteString("ieee80211d=1\n")
	b.WriteString("ieee80211n=1\n")
	b.WriteString("ieee80211ac=1\n")
	b.WriteString("wmm_enabled=1\n")
	return b.String()
}
