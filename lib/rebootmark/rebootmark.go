// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package rebootmark provides an atomic state file that records a
// pending reboot for a boot-configuration change. roost-provision
// writes the marker before triggering (or asking for) a reboot after
// editing the firmware config; on the next run it reads the marker to
// report whether the change took effect, then clears it.
//
// The marker is written atomically (write to a temporary file, fsync,
// rename) so a power cut mid-write never leaves a corrupt marker.
// Staleness checking discards markers older than MaxAge: a marker
// left behind by an aborted provisioning run months ago should not
// alter behavior today.
package rebootmark

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MaxAge is how old a marker may be before Check discards it as stale.
const MaxAge = 7 * 24 * time.Hour

// markerFile is the filename within the state directory.
const markerFile = "reboot-pending.json"

// State records why a reboot is pending.
type State struct {
	// Reason identifies the change awaiting the reboot, e.g.
	// "pcie-gen3".
	Reason string `json:"reason"`

	// ConfigPath is the boot configuration file that was modified.
	ConfigPath string `json:"config_path"`

	// AppendedLine is the exact line added to the config file.
	AppendedLine string `json:"appended_line"`

	// Timestamp is when the marker was written.
	Timestamp time.Time `json:"timestamp"`
}

// Write atomically writes the marker into stateDir, creating the
// directory if needed.
func Write(stateDir string, state State) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding reboot marker: %w", err)
	}

	path := filepath.Join(stateDir, markerFile)
	temporary, err := os.CreateTemp(stateDir, ".reboot-pending-*")
	if err != nil {
		return fmt.Errorf("creating temporary marker: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing marker: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("syncing marker: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing marker: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("renaming marker into place: %w", err)
	}
	return nil
}

// Check reads the marker from stateDir. Returns (nil, nil) when no
// marker exists or the marker is stale; stale markers are removed.
func Check(stateDir string) (*State, error) {
	path := filepath.Join(stateDir, markerFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading reboot marker: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding reboot marker %s: %w", path, err)
	}

	if time.Since(state.Timestamp) > MaxAge {
		os.Remove(path)
		return nil, nil
	}
	return &state, nil
}

// Clear removes the marker. Missing markers are not an error.
func Clear(stateDir string) error {
	err := os.Remove(filepath.Join(stateDir, markerFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing reboot marker: %w", err)
	}
	return nil
}
