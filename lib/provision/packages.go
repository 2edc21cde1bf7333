// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/roost-cluster/roost/lib/runner"
)

// PackageInstalled reports whether pkg is installed according to the
// dpkg database.
func PackageInstalled(ctx context.Context, run runner.Runner, pkg string) bool {
	out, err := run.Run(ctx, "dpkg-query", "-W", "-f=${Status}", pkg)
	if err != nil {
		// dpkg-query exits non-zero for unknown packages.
		return false
	}
	return strings.Contains(out, "install ok installed")
}

// MissingPackages returns the subset of packages not yet installed.
func MissingPackages(ctx context.Context, run runner.Runner, packages []string) []string {
	var missing []string
	for _, pkg := range packages {
		if !PackageInstalled(ctx, run, pkg) {
			missing = append(missing, pkg)
		}
	}
	return missing
}

// InstallPackages installs packages through apt-get, non-interactively.
func InstallPackages(ctx context.Context, run runner.Runner, packages []string) error {
	args := append([]string{"install", "-y"}, packages...)
	if _, err := run.Run(ctx, "apt-get", args...); err != nil {
		return fmt.Errorf("installing %s: %w", strings.Join(packages, " "), err)
	}
	return nil
}
