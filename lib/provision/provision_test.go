// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roost-cluster/roost/lib/accel"
	"github.com/roost-cluster/roost/lib/config"
	"github.com/roost-cluster/roost/lib/rebootmark"
	"github.com/roost-cluster/roost/lib/runner"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// failingPrompter fails the test when asked anything; for asserting
// prompt-free paths.
type failingPrompter struct{ t *testing.T }

func (p failingPrompter) Confirm(question string) (bool, error) {
	p.t.Helper()
	p.t.Fatalf("unexpected prompt: %q", question)
	return false, nil
}

func writeBootConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testProvisioner(t *testing.T, fake *runner.Fake, bootConfig string) *Provisioner {
	t.Helper()
	cfg := config.Default()
	cfg.Provision.BootConfigPath = bootConfig
	return &Provisioner{
		Config:   cfg,
		Role:     "worker",
		Runner:   fake,
		Logger:   discard(),
		StateDir: t.TempDir(),
		Probe: func() []accel.Device {
			return []accel.Device{{Address: "0000:01:00.0", VendorID: "0x1e60", DeviceID: "0x2864"}}
		},
		LookPath: func(file string) (string, error) {
			return "/usr/local/bin/" + file, nil
		},
	}
}

func driversInstalled(fake *runner.Fake) {
	fake.Respond("dpkg-query", runner.FakeResult{Stdout: "install ok installed"})
}

func TestNoPromptWhenDriversInstalled(t *testing.T) {
	fake := runner.NewFake()
	driversInstalled(fake)
	bootConfig := writeBootConfig(t, "arm_64bit=1\n"+Gen3Line+"\n")

	p := testProvisioner(t, fake, bootConfig)
	p.Prompter = failingPrompter{t: t}

	toolPath, proceed, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !proceed {
		t.Fatal("proceed = false, want launch")
	}
	if toolPath != "/usr/local/bin/poetry" {
		t.Errorf("toolPath = %q", toolPath)
	}
	if fake.CalledMatching("apt-get") {
		t.Error("package installation ran with drivers already installed")
	}
}

func TestGen3LineNotDuplicated(t *testing.T) {
	fake := runner.NewFake()
	driversInstalled(fake)
	bootConfig := writeBootConfig(t, Gen3Line+"\n")

	p := testProvisioner(t, fake, bootConfig)
	p.Config.Provision.SetGen3Mode = "yes"

	if _, _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(bootConfig)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), Gen3Line); got != 1 {
		t.Errorf("Gen3 line appears %d times, want 1:\n%s", got, data)
	}
}

func TestGen3ConflictNotTouched(t *testing.T) {
	fake := runner.NewFake()
	driversInstalled(fake)
	conflicting := Gen3Param + "=2"
	bootConfig := writeBootConfig(t, conflicting + "\n")

	p := testProvisioner(t, fake, bootConfig)
	p.Config.Provision.SetGen3Mode = "yes"

	_, proceed, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !proceed {
		t.Error("conflict should continue to launch, not stop")
	}

	data, err := os.ReadFile(bootConfig)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), Gen3Line) {
		t.Errorf("Gen3 line appended despite conflict:\n%s", data)
	}
}

func TestGen3AppendThenDeclineReboot(t *testing.T) {
	fake := runner.NewFake()
	driversInstalled(fake)
	bootConfig := writeBootConfig(t, "arm_64bit=1\n")

	p := testProvisioner(t, fake, bootConfig)
	p.Config.Provision.SetGen3Mode = "yes"
	p.Config.Provision.AutoReboot = "no"

	_, proceed, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if proceed {
		t.Error("proceed = true after a boot config change; launch must not be reached")
	}

	data, err := os.ReadFile(bootConfig)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), Gen3Line) {
		t.Errorf("Gen3 line missing after accepting the change:\n%s", data)
	}
	if fake.CalledMatching("reboot") {
		t.Error("reboot ran despite being declined")
	}

	marker, err := rebootmark.Check(p.StateDir)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if marker == nil || marker.AppendedLine != Gen3Line {
		t.Errorf("reboot marker = %+v", marker)
	}
}

func TestGen3AppendThenReboot(t *testing.T) {
	fake := runner.NewFake()
	driversInstalled(fake)
	fake.Respond("systemctl reboot", runner.FakeResult{})
	bootConfig := writeBootConfig(t, "arm_64bit=1\n")

	p := testProvisioner(t, fake, bootConfig)
	p.Config.Provision.SetGen3Mode = "yes"
	p.Config.Provision.AutoReboot = "yes"

	_, proceed, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if proceed {
		t.Error("proceed = true after accepting a reboot")
	}
	if !fake.CalledMatching("systemctl reboot") {
		t.Error("reboot was not triggered")
	}
}

func TestPendingRebootMarkerCleared(t *testing.T) {
	fake := runner.NewFake()
	driversInstalled(fake)
	bootConfig := writeBootConfig(t, Gen3Line + "\n")

	p := testProvisioner(t, fake, bootConfig)
	if err := rebootmark.Write(p.StateDir, rebootmark.State{
		Reason:       "pcie-gen3",
		ConfigPath:   bootConfig,
		AppendedLine: Gen3Line,
		Timestamp:    time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if _, _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	marker, err := rebootmark.Check(p.StateDir)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if marker != nil {
		t.Error("marker not cleared after the post-reboot run")
	}
}

func TestDriverInstallRetriesOnce(t *testing.T) {
	fake := runner.NewFake()
	// Packages missing before install, present after. The fake cannot
	// change answers mid-test, so script the install and leave the
	// query missing: the single re-check must then report degraded
	// (proceed without Gen3) rather than loop.
	fake.Respond("dpkg-query", runner.FakeResult{Err: fmt.Errorf("not installed")})
	fake.Respond("apt-get install -y", runner.FakeResult{})
	bootConfig := writeBootConfig(t, "arm_64bit=1\n")

	p := testProvisioner(t, fake, bootConfig)
	p.Config.Provision.InstallAccelerator = "yes"
	p.Config.Provision.SetGen3Mode = "yes"

	_, proceed, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !proceed {
		t.Error("degraded path must continue to launch")
	}
	if !fake.CalledMatching("apt-get install -y hailort") {
		t.Error("driver installation did not run")
	}

	// Gen3 must not be offered without confirmed drivers.
	data, err := os.ReadFile(bootConfig)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), Gen3Line) {
		t.Error("Gen3 configured despite unconfirmed drivers")
	}
}

func TestRuntimeDeclineIsFatal(t *testing.T) {
	fake := runner.NewFake()
	bootConfig := writeBootConfig(t, "arm_64bit=1\n")

	p := testProvisioner(t, fake, bootConfig)
	p.Role = "controller" // skip the accelerator steps
	p.Config.Provision.InstallRuntime = "no"
	p.LookPath = func(string) (string, error) {
		return "", fmt.Errorf("not found")
	}

	_, proceed, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded without the runtime tool")
	}
	if proceed {
		t.Error("proceed = true on the fatal path")
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("commands ran on the declined path: %v", calls)
	}
}

func TestRuntimeBootstrapInstalls(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("print('installing')\n"))
	}))
	defer server.Close()

	runtimeHome := t.TempDir()
	homeBin := filepath.Join(runtimeHome, "bin")
	if err := os.MkdirAll(homeBin, 0o755); err != nil {
		t.Fatal(err)
	}

	fake := runner.NewFake()
	fake.Respond("env", runner.FakeResult{})

	bootstrap := &RuntimeBootstrap{
		Tool:         "poetry",
		InstallerURL: server.URL,
		RuntimeHome:  runtimeHome,
		Decision:     DecisionYes,
		Runner:       fake,
		Logger:       discard(),
		Client:       server.Client(),
		LookPath: func(string) (string, error) {
			return "", fmt.Errorf("not found")
		},
	}

	// The installer "succeeds" by the file appearing in the runtime
	// home.
	if err := os.WriteFile(filepath.Join(homeBin, "poetry"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	path, err := bootstrap.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if path != filepath.Join(homeBin, "poetry") {
		t.Errorf("path = %q", path)
	}
	if !fake.CalledMatching("env POETRY_HOME=" + runtimeHome) {
		t.Errorf("installer env not set; calls: %v", fake.Calls())
	}
}

func TestRuntimeBootstrapRejectsPlainHTTP(t *testing.T) {
	bootstrap := &RuntimeBootstrap{
		Tool:         "poetry",
		InstallerURL: "http://install.example.com",
		Decision:     DecisionYes,
		Runner:       runner.NewFake(),
		Logger:       discard(),
		LookPath: func(string) (string, error) {
			return "", fmt.Errorf("not found")
		},
	}
	if _, err := bootstrap.Ensure(context.Background()); err == nil {
		t.Fatal("plain HTTP installer URL accepted")
	}
}

func TestEnvironPrepends(t *testing.T) {
	execContext := ExecutionContext{
		RuntimeBin:  "/opt/runtime/bin",
		SourcePath:  "/opt/roost/src",
		RuntimeHome: "/opt/runtime",
		HomeEnvVar:  "POETRY_HOME",
	}

	env := execContext.Environ([]string{
		"PATH=/usr/bin:/bin",
		"PYTHONPATH=/existing",
		"TERM=xterm",
	})

	want := map[string]string{
		"PATH":        "/opt/runtime/bin:/usr/bin:/bin",
		"PYTHONPATH":  "/opt/roost/src:/existing",
		"POETRY_HOME": "/opt/runtime",
		"TERM":        "xterm",
	}
	for _, entry := range env {
		name, value, _ := strings.Cut(entry, "=")
		if expected, ok := want[name]; ok && value != expected {
			t.Errorf("%s = %q, want %q", name, value, expected)
		}
	}
}

func TestEnvironAddsMissingVariables(t *testing.T) {
	execContext := ExecutionContext{RuntimeBin: "/opt/bin", SourcePath: "/src"}
	env := execContext.Environ([]string{"TERM=xterm"})

	var pythonPath string
	for _, entry := range env {
		if strings.HasPrefix(entry, "PYTHONPATH=") {
			pythonPath = strings.TrimPrefix(entry, "PYTHONPATH=")
		}
	}
	if pythonPath != "/src" {
		t.Errorf("PYTHONPATH = %q, want bare source path", pythonPath)
	}
}

func TestResolveDecisions(t *testing.T) {
	if ok, err := Resolve(DecisionYes, nil, "q"); err != nil || !ok {
		t.Errorf("yes: (%v, %v)", ok, err)
	}
	if ok, err := Resolve(DecisionNo, nil, "q"); err != nil || ok {
		t.Errorf("no: (%v, %v)", ok, err)
	}
	// ask with no terminal resolves to no rather than blocking.
	if ok, err := Resolve(DecisionAsk, nil, "q"); err != nil || ok {
		t.Errorf("ask without prompter: (%v, %v)", ok, err)
	}
}

func TestParseDecision(t *testing.T) {
	for _, valid := range []string{"yes", "no", "ask"} {
		if _, err := ParseDecision(valid); err != nil {
			t.Errorf("ParseDecision(%q): %v", valid, err)
		}
	}
	if _, err := ParseDecision("maybe"); err == nil {
		t.Error("invalid decision accepted")
	}
}

func TestTTYPrompterConfirm(t *testing.T) {
	for input, want := range map[string]bool{
		"y\n": true, "Y\n": true, "yes\n": true,
		"n\n": false, "\n": false, "whatever\n": false,
	} {
		var out bytes.Buffer
		prompter := &TTYPrompter{in: strings.NewReader(input), out: &out}
		got, err := prompter.Confirm("proceed?")
		if err != nil {
			t.Fatalf("Confirm(%q): %v", input, err)
		}
		if got != want {
			t.Errorf("Confirm with %q = %v, want %v", input, got, want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Errorf("prompt text %q missing [y/N]", out.String())
		}
	}
}
