// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package rebootmark

import (
	"testing"
	"time"
)

func TestWriteCheckClear(t *testing.T) {
	stateDir := t.TempDir()

	state := State{
		Reason:       "pcie-gen3",
		ConfigPath:   "/boot/firmware/config.txt",
		AppendedLine: "dtparam=pciex1_gen=3",
		Timestamp:    time.Now(),
	}
	if err := Write(stateDir, state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Check(stateDir)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got == nil {
		t.Fatal("Check returned nil for a fresh marker")
	}
	if got.Reason != "pcie-gen3" || got.AppendedLine != "dtparam=pciex1_gen=3" {
		t.Errorf("marker round-trip mismatch: %+v", got)
	}

	if err := Clear(stateDir); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err = Check(stateDir)
	if err != nil {
		t.Fatalf("Check after Clear: %v", err)
	}
	if got != nil {
		t.Errorf("Check after Clear = %+v, want nil", got)
	}
}

func TestCheckMissingMarker(t *testing.T) {
	got, err := Check(t.TempDir())
	if err != nil {
		t.Fatalf("Check on empty dir: %v", err)
	}
	if got != nil {
		t.Errorf("Check on empty dir = %+v, want nil", got)
	}
}

func TestCheckStaleMarkerDiscarded(t *testing.T) {
	stateDir := t.TempDir()
	state := State{
		Reason:    "pcie-gen3",
		Timestamp: time.Now().Add(-MaxAge - time.Hour),
	}
	if err := Write(stateDir, state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Check(stateDir)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got != nil {
		t.Errorf("stale marker returned: %+v", got)
	}

	// The stale marker was removed, not just skipped.
	got, err = Check(stateDir)
	if err != nil || got != nil {
		t.Errorf("stale marker persisted: state=%+v err=%v", got, err)
	}
}

func TestClearIdempotent(t *testing.T) {
	stateDir := t.TempDir()
	if err := Clear(stateDir); err != nil {
		t.Fatalf("Clear on missing marker: %v", err)
	}
}
