// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/roost-cluster/roost/lib/runner"
)

// ExecutionContext carries the resolved paths the launched process
// needs. It replaces process-wide environment mutation: the context is
// built once, applied to a copy of the environment, and handed to the
// exec call, so nothing about the provisioning process itself changes.
type ExecutionContext struct {
	// RuntimeBin is prepended to PATH so the runtime tool and its
	// shims resolve first.
	RuntimeBin string

	// SourcePath is prepended to PYTHONPATH so the entry point
	// resolves project modules first.
	SourcePath string

	// RuntimeHome is exported via the tool's home variable.
	RuntimeHome string

	// HomeEnvVar names the runtime home variable, e.g. POETRY_HOME.
	HomeEnvVar string
}

// Environ returns base with the context applied. Prepends preserve any
// prior value unchanged after the new entry; existing variables are
// replaced in place, and missing ones appended.
func (e *ExecutionContext) Environ(base []string) []string {
	env := append([]string(nil), base...)
	env = prependPathVar(env, "PATH", e.RuntimeBin)
	env = prependPathVar(env, "PYTHONPATH", e.SourcePath)
	if e.HomeEnvVar != "" && e.RuntimeHome != "" {
		env = setEnvVar(env, e.HomeEnvVar, e.RuntimeHome)
	}
	return env
}

// prependPathVar prepends value to the list variable name, keeping the
// prior content and ordering intact after it.
func prependPathVar(env []string, name, value string) []string {
	if value == "" {
		return env
	}
	prefix := name + "="
	for i, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			existing := entry[len(prefix):]
			if existing == "" {
				env[i] = prefix + value
			} else {
				env[i] = prefix + value + string(os.PathListSeparator) + existing
			}
			return env
		}
	}
	return append(env, prefix+value)
}

func setEnvVar(env []string, name, value string) []string {
	prefix := name + "="
	for i, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// Launcher installs project dependencies with the runtime tool and
// execs the entry point. Exec replaces the provisioning process; on
// success it never returns.
type Launcher struct {
	// ToolPath is the resolved runtime tool executable.
	ToolPath string

	// SourcePath is the project directory the tool runs in.
	SourcePath string

	// Context supplies the launched process's environment.
	Context ExecutionContext

	Runner runner.Runner
	Logger *slog.Logger

	// Exec overrides unix.Exec in tests.
	Exec func(argv0 string, argv []string, envv []string) error
}

// Install runs the tool's dependency install command in the source
// directory.
func (l *Launcher) Install(ctx context.Context) error {
	l.Logger.Info("installing project dependencies", "tool", l.ToolPath, "dir", l.SourcePath)
	_, err := l.Runner.Run(ctx, l.ToolPath, "-C", l.SourcePath, "install")
	if err != nil {
		return fmt.Errorf("dependency install: %w", err)
	}
	return nil
}

// Launch execs the entry-point module through the runtime tool,
// replacing the current process. Failures in the launched process are
// its own; no supervision is layered on top.
func (l *Launcher) Launch(module string) error {
	argv := []string{l.ToolPath, "-C", l.SourcePath, "run", "python", "-m", module}
	env := l.Context.Environ(os.Environ())
	l.Logger.Info("launching entry point", "module", module, "argv", strings.Join(argv, " "))

	execFn := l.Exec
	if execFn == nil {
		execFn = unix.Exec
	}
	if err := execFn(l.ToolPath, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", filepath.Base(l.ToolPath), err)
	}
	return nil
}
