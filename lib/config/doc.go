// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Roost
// components.
//
// Configuration is loaded from a single file specified by either the
// ROOST_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// Cluster-level fields are validated with warn-and-default semantics:
// a missing or malformed subnet prefix, port, interface name, SSID, or
// WiFi passphrase is replaced by its documented default and logged as
// a warning rather than rejected. A worker booting with a half-written
// config file should still join the cluster on the stock 10.0.100.x
// network instead of refusing to start. Structural errors (unreadable
// file, invalid YAML) are still hard failures.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Cluster, Worker, Controller, Provision
//   - [Default] -- returns a Config with documented defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Roost packages.
package config
