// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner abstracts external command execution. Provisioning
// and network management shell out to system tools (apt-get, dpkg,
// nmcli, ip, ping, systemctl); routing every invocation through the
// Runner interface keeps that logic testable without root or hardware.
//
// Production code injects [Exec]; tests inject [Fake] with scripted
// results.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner executes an external command and returns its combined
// standard output, trimmed of trailing whitespace.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Exec is the production Runner backed by os/exec. Each command is
// bounded by Timeout in addition to the caller's context.
type Exec struct {
	// Timeout bounds each command. Zero means 30 seconds.
	Timeout time.Duration

	// Logger receives a debug line per invocation. If nil, commands
	// run silently.
	Logger *slog.Logger
}

// Run executes name with args and returns trimmed stdout. A non-zero
// exit status is returned as an error carrying the command line and
// stderr for diagnostics.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if e.Logger != nil {
		e.Logger.Debug("running command", "command", name, "args", args)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command %q timed out after %v", commandLine(name, args), timeout)
		}
		return "", fmt.Errorf("command %q: %w (stderr: %s)",
			commandLine(name, args), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(stdout)), nil
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Fake is a scripted Runner for tests. Results are matched by command
// line prefix; the longest matching prefix wins, so a test can script
// "dpkg-query -W hailort" specifically while letting a bare
// "dpkg-query" entry catch the rest. Unmatched commands return an
// error, which keeps tests honest about every invocation they trigger.
type Fake struct {
	mu      sync.Mutex
	results map[string]FakeResult
	calls   []string
}

// FakeResult is the scripted outcome for a command prefix.
type FakeResult struct {
	Stdout string
	Err    error
}

// NewFake returns an empty Fake. Script it with Respond.
func NewFake() *Fake {
	return &Fake{results: make(map[string]FakeResult)}
}

// Respond scripts the result for any command line starting with
// prefix.
func (f *Fake) Respond(prefix string, result FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[prefix] = result
}

// Run returns the scripted result for the longest prefix matching the
// command line, recording the call either way.
func (f *Fake) Run(_ context.Context, name string, args ...string) (string, error) {
	line := commandLine(name, args)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)

	bestLength := -1
	var best FakeResult
	for prefix, result := range f.results {
		if strings.HasPrefix(line, prefix) && len(prefix) > bestLength {
			bestLength = len(prefix)
			best = result
		}
	}
	if bestLength < 0 {
		return "", fmt.Errorf("runner.Fake: unscripted command %q", line)
	}
	return best.Stdout, best.Err
}

// Calls returns the command lines run so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CalledMatching reports whether any recorded command line contains
// substring.
func (f *Fake) CalledMatching(substring string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if strings.Contains(call, substring) {
			return true
		}
	}
	return false
}
