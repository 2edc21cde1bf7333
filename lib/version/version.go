// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the Roost build version for --version flags
// and heartbeat reporting. The version string is injected at link time
// via -ldflags; development builds report "devel".
package version

import "fmt"

// version is overridden at build time:
//
//	go build -ldflags "-X github.com/roost-cluster/roost/lib/version.version=v0.4.0"
var version = "devel"

// Short returns the bare version string (e.g., "v0.4.0" or "devel").
func Short() string {
	return version
}

// Info returns the version with the module path for diagnostic output.
func Info() string {
	return fmt.Sprintf("%s (github.com/roost-cluster/roost)", version)
}

// Print writes the standard --version line for the named binary.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Info())
}
