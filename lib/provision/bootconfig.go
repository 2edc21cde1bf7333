// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"fmt"
	"os"
	"strings"
)

// Gen3Param is the firmware parameter that raises the PCIe link to
// Gen3 speed for the accelerator.
const Gen3Param = "dtparam=pciex1_gen"

// Gen3Line is the exact line appended to the boot config.
const Gen3Line = Gen3Param + "=3"

// Gen3State classifies the boot config's PCIe link-speed setting.
type Gen3State int

const (
	// Gen3Absent: no pciex1_gen parameter in the file.
	Gen3Absent Gen3State = iota

	// Gen3Present: the Gen3 line is already set.
	Gen3Present

	// Gen3Conflict: a pciex1_gen line exists with a different value.
	// Appending another would leave two contradictory settings, so
	// the conflict is surfaced instead of silently appended over.
	Gen3Conflict
)

// CheckGen3 inspects the boot config. The conflicting line, if any, is
// returned for the operator message.
func CheckGen3(bootConfigPath string) (Gen3State, string, error) {
	data, err := os.ReadFile(bootConfigPath)
	if err != nil {
		return Gen3Absent, "", fmt.Errorf("reading boot config: %w", err)
	}

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "#") || !strings.HasPrefix(line, Gen3Param) {
			continue
		}
		if line == Gen3Line {
			return Gen3Present, "", nil
		}
		return Gen3Conflict, line, nil
	}
	return Gen3Absent, "", nil
}

// AppendGen3 appends the Gen3 line to the boot config. The caller must
// have established via CheckGen3 that no pciex1_gen line exists; this
// function never deduplicates.
func AppendGen3(bootConfigPath string) error {
	f, err := os.OpenFile(bootConfigPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("opening boot config: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("\n# Roost: run the accelerator's PCIe link at Gen3 speed.\n" + Gen3Line + "\n"); err != nil {
		return fmt.Errorf("appending to boot config: %w", err)
	}
	return nil
}
