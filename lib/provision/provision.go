// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roost-cluster/roost/lib/accel"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/rebootmark"
	"github.com/roost-cluster/roost/lib/runner"
)

// Provisioner runs the full provisioning sequence for one node role.
// Steps are strictly sequential: accelerator drivers, PCIe Gen3 boot
// config, runtime tool bootstrap. A boot-config change ends the
// invocation (with or without an immediate reboot); the install and
// launch steps only run in an invocation that changed nothing needing
// a reboot.
type Provisioner struct {
	Config *config.Config

	// Role selects the entry point: "worker" or "controller". Only
	// workers carry accelerators, so the driver and Gen3 steps are
	// skipped for controllers.
	Role string

	Runner   runner.Runner
	Logger   *slog.Logger
	Prompter Prompter

	// StateDir holds the reboot marker. Defaults to the worker state
	// dir from config.
	StateDir string

	// Probe overrides accelerator discovery in tests.
	Probe func() []accel.Device

	// HTTPClient overrides the installer download client in tests.
	HTTPClient *http.Client

	// LookPath overrides executable lookup in tests.
	LookPath func(file string) (string, error)
}

// Run executes the sequence. When proceed is true, toolPath names the
// runtime tool and the caller should install dependencies and launch.
// When proceed is false with a nil error, this invocation ended at a
// reboot boundary and the caller should exit 0 without launching.
func (p *Provisioner) Run(ctx context.Context) (toolPath string, proceed bool, err error) {
	p.checkPendingReboot()

	if p.Role == "worker" {
		done, err := p.provisionAccelerator(ctx)
		if err != nil {
			return "", false, err
		}
		if done {
			return "", false, nil
		}
	}

	bootstrap := &RuntimeBootstrap{
		Tool:         p.Config.Provision.RuntimeTool,
		InstallerURL: p.Config.Provision.RuntimeInstallerURL,
		RuntimeHome:  p.Config.Provision.RuntimeHome,
		Decision:     Decision(p.Config.Provision.InstallRuntime),
		Prompter:     p.Prompter,
		Runner:       p.Runner,
		Logger:       p.Logger,
		Client:       p.HTTPClient,
		LookPath:     p.LookPath,
	}
	toolPath, err = bootstrap.Ensure(ctx)
	if err != nil {
		return "", false, err
	}
	return toolPath, true, nil
}

// checkPendingReboot handles the marker a previous invocation left
// before rebooting: confirm the boot config took effect and clear it.
func (p *Provisioner) checkPendingReboot() {
	stateDir := p.StateDir
	if stateDir == "" {
		stateDir = p.Config.Worker.StateDir
	}
	state, err := rebootmark.Check(stateDir)
	if err != nil || state == nil {
		return
	}

	gen3State, _, checkErr := CheckGen3(state.ConfigPath)
	if checkErr == nil && gen3State == Gen3Present {
		p.Logger.Info("boot config change confirmed after reboot", "line", state.AppendedLine)
	} else {
		p.Logger.Warn("boot config change not visible after reboot",
			"path", state.ConfigPath,
			"line", state.AppendedLine,
		)
	}
	if err := rebootmark.Clear(stateDir); err != nil {
		p.Logger.Warn("clearing reboot marker failed", "error", err)
	}
}

// provisionAccelerator detects the PCI accelerator, installs its
// driver packages if missing and allowed, and offers the Gen3 boot
// change when the drivers are confirmed. Returns done=true when the
// invocation must stop at a reboot boundary.
func (p *Provisioner) provisionAccelerator(ctx context.Context) (done bool, err error) {
	probe := p.Probe
	if probe == nil {
		probe = accel.Probe
	}
	devices := probe()
	if len(devices) == 0 {
		p.Logger.Info("no accelerator detected, continuing without one")
		return false, nil
	}
	for _, device := range devices {
		p.Logger.Info("accelerator detected",
			"address", device.Address,
			"device_id", device.DeviceID,
			"driver", device.Driver,
			"link_speed", device.LinkSpeed,
		)
	}

	if !p.ensureDriverPackages(ctx) {
		// Missing drivers are degraded, not fatal: the node still
		// serves CPU inference.
		p.Logger.Warn("accelerator drivers not installed, continuing without accelerator support")
		return false, nil
	}

	return p.configureGen3(ctx)
}

// ensureDriverPackages reports whether all driver packages are
// installed, attempting installation once if allowed.
func (p *Provisioner) ensureDriverPackages(ctx context.Context) bool {
	packages := p.Config.Provision.DriverPackages
	missing := MissingPackages(ctx, p.Runner, packages)
	if len(missing) == 0 {
		p.Logger.Info("accelerator driver packages already installed", "packages", packages)
		return true
	}

	install, err := Resolve(Decision(p.Config.Provision.InstallAccelerator), p.Prompter,
		fmt.Sprintf("Accelerator driver packages %v are missing. Install them?", missing))
	if err != nil || !install {
		return false
	}

	if err := InstallPackages(ctx, p.Runner, missing); err != nil {
		p.Logger.Error("driver package installation failed", "error", err)
	}
	// Single re-check, no retry loop.
	return len(MissingPackages(ctx, p.Runner, packages)) == 0
}

// configureGen3 offers the PCIe Gen3 boot-config change. A change ends
// the invocation: rebooting now if accepted, otherwise leaving the
// marker and a reminder.
func (p *Provisioner) configureGen3(ctx context.Context) (done bool, err error) {
	path := p.Config.Provision.BootConfigPath
	state, conflict, err := CheckGen3(path)
	if err != nil {
		p.Logger.Warn("boot config unreadable, skipping Gen3 configuration", "path", path, "error", err)
		return false, nil
	}

	switch state {
	case Gen3Present:
		p.Logger.Info("PCIe link already configured for Gen3")
		return false, nil
	case Gen3Conflict:
		p.Logger.Warn("conflicting PCIe link-speed setting in boot config, not touching it",
			"path", path,
			"line", conflict,
		)
		return false, nil
	}

	set, err := Resolve(Decision(p.Config.Provision.SetGen3Mode), p.Prompter,
		"Raise the accelerator's PCIe link to Gen3 in the boot config? (requires a reboot)")
	if err != nil || !set {
		return false, err
	}

	if err := AppendGen3(path); err != nil {
		return false, err
	}
	p.Logger.Info("boot config updated", "path", path, "line", Gen3Line)

	stateDir := p.StateDir
	if stateDir == "" {
		stateDir = p.Config.Worker.StateDir
	}
	marker := rebootmark.State{
		Reason:       "pcie-gen3",
		ConfigPath:   path,
		AppendedLine: Gen3Line,
		Timestamp:    time.Now(),
	}
	if err := rebootmark.Write(stateDir, marker); err != nil {
		p.Logger.Warn("writing reboot marker failed", "error", err)
	}

	reboot, err := Resolve(Decision(p.Config.Provision.AutoReboot), p.Prompter,
		"Reboot now to apply the boot config change?")
	if err != nil {
		return false, err
	}
	if reboot {
		p.Logger.Info("rebooting to apply boot config change")
		if _, err := p.Runner.Run(ctx, "systemctl", "reboot"); err != nil {
			return false, fmt.Errorf("rebooting: %w", err)
		}
		return true, nil
	}

	p.Logger.Info("reboot required before the new link speed applies; reboot manually, then rerun")
	return true, nil
}
