// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/roost-cluster/roost/lib/runner"
)

// maxInstallerSize bounds the fetched installer script. Real installer
// scripts are tens of kilobytes; anything larger is wrong.
const maxInstallerSize = 4 << 20

// RuntimeBootstrap ensures the runtime dependency-manager tool exists,
// installing it from its HTTPS installer script when missing.
//
// A missing tool that cannot be installed (operator declined, download
// failed, or the installer ran without producing the executable) is
// fatal: the launch step cannot proceed without it.
type RuntimeBootstrap struct {
	// Tool is the executable name looked up on PATH, e.g. "poetry".
	Tool string

	// InstallerURL is the HTTPS installer script. Non-HTTPS URLs are
	// rejected; the script runs with the operator's privileges.
	InstallerURL string

	// RuntimeHome is exported as the tool's home during installation
	// and searched for the executable afterwards.
	RuntimeHome string

	// Decision and Prompter resolve the install-it question.
	Decision Decision
	Prompter Prompter

	Runner runner.Runner
	Logger *slog.Logger

	// Client overrides the HTTP client in tests.
	Client *http.Client

	// LookPath overrides exec.LookPath in tests.
	LookPath func(file string) (string, error)
}

// Ensure returns the tool's path, installing it first when absent.
func (b *RuntimeBootstrap) Ensure(ctx context.Context) (string, error) {
	if path, err := b.lookPath(b.Tool); err == nil {
		b.Logger.Info("runtime tool present", "tool", b.Tool, "path", path)
		return path, nil
	}

	install, err := Resolve(b.Decision, b.Prompter,
		fmt.Sprintf("%s is not installed. Install it from %s?", b.Tool, b.InstallerURL))
	if err != nil {
		return "", err
	}
	if !install {
		return "", fmt.Errorf("%s is required but not installed; rerun with provision.install accepted or install it manually", b.Tool)
	}

	if err := b.install(ctx); err != nil {
		return "", err
	}

	// Re-verify: PATH first, then the runtime home the installer
	// targets, which is typically not on PATH yet.
	if path, err := b.lookPath(b.Tool); err == nil {
		return path, nil
	}
	homeBin := filepath.Join(b.RuntimeHome, "bin", b.Tool)
	if _, err := os.Stat(homeBin); err == nil {
		return homeBin, nil
	}
	return "", fmt.Errorf("%s still missing after running the installer", b.Tool)
}

// install fetches the installer script and runs it with the runtime
// home exported.
func (b *RuntimeBootstrap) install(ctx context.Context) error {
	script, err := b.fetchInstaller(ctx)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "roost-runtime-installer-*.py")
	if err != nil {
		return fmt.Errorf("creating installer temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(script); err != nil {
		tmp.Close()
		return fmt.Errorf("writing installer script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing installer script: %w", err)
	}

	b.Logger.Info("running runtime installer", "tool", b.Tool, "url", b.InstallerURL)
	_, err = b.Runner.Run(ctx, "env", b.HomeEnvVar()+"="+b.RuntimeHome, "python3", tmp.Name())
	if err != nil {
		return fmt.Errorf("running installer: %w", err)
	}
	return nil
}

// HomeEnvVar is the environment variable the installer reads for its
// target directory: the upper-cased tool name plus _HOME, e.g.
// POETRY_HOME.
func (b *RuntimeBootstrap) HomeEnvVar() string {
	return strings.ToUpper(b.Tool) + "_HOME"
}

// fetchInstaller downloads the installer script, enforcing HTTPS and a
// size bound.
func (b *RuntimeBootstrap) fetchInstaller(ctx context.Context) ([]byte, error) {
	parsed, err := url.Parse(b.InstallerURL)
	if err != nil {
		return nil, fmt.Errorf("installer URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return nil, fmt.Errorf("installer URL %s is not HTTPS", b.InstallerURL)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.InstallerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building installer request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching installer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching installer: status %s", resp.Status)
	}

	script, err := io.ReadAll(io.LimitReader(resp.Body, maxInstallerSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading installer: %w", err)
	}
	if len(script) > maxInstallerSize {
		return nil, fmt.Errorf("installer script exceeds %d bytes", maxInstallerSize)
	}
	return script, nil
}

func (b *RuntimeBootstrap) lookPath(file string) (string, error) {
	if b.LookPath != nil {
		return b.LookPath(file)
	}
	return exec.LookPath(file)
}
