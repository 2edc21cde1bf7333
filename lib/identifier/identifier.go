// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package identifier derives worker identity from hardware. Each
// worker has two identifiers: the raw CPU serial number (unique,
// opaque) and a human-friendly "Adjective-Animal" name derived from a
// BLAKE3 digest of the serial. The derived name is stable across
// reboots and reinstalls because it depends only on the silicon.
//
// The name is for operators reading logs and the viewer table; the
// serial remains the registration key, so a name collision between two
// workers is cosmetic, not an identity conflict.
package identifier

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

var animals = []string{
	"Panda", "Tiger", "Eagle", "Whale", "Bear", "Wolf", "Fox", "Hawk",
	"Deer", "Seal", "Otter", "Lynx", "Owl", "Swan", "Crane", "Falcon",
	"Koala", "Zebra", "Giraffe", "Rhino", "Hippo", "Puma", "Jaguar", "Cheetah",
	"Leopard", "Rabbit", "Mouse", "Squirrel", "Dolphin", "Shark", "Cat", "Fish",
}

var adjectives = []string{
	"Swift", "Brave", "Calm", "Wise", "Quick", "Bright", "Keen", "Bold",
	"Cool", "Warm", "Fast", "Slow", "Kind", "Neat", "Safe", "Pure",
	"Rare", "Vast", "Wild", "Young", "Agile", "Clear", "Crisp", "Dense",
	"Eager", "Fancy", "Fleet", "Fresh", "Giant", "Grand", "Happy", "Jolly",
	"Light", "Lively", "Lucky", "Merry", "Noble", "Proud", "Quiet", "Rapid",
	"Royal", "Sharp", "Smart", "Snowy", "Solid", "Spry", "Stark", "Stout",
	"Sturdy", "Sunny", "Super", "Tidy", "Tiny", "Vivid", "Witty", "Zesty",
}

// Name derives the human-friendly "Adjective-Animal" identifier from a
// hardware serial. The first eight digest bytes select the adjective
// and animal as two big-endian uint32 indexes.
func Name(serial string) string {
	digest := blake3.Sum256([]byte(serial))
	adjective := adjectives[binary.BigEndian.Uint32(digest[0:4])%uint32(len(adjectives))]
	animal := animals[binary.BigEndian.Uint32(digest[4:8])%uint32(len(animals))]
	return adjective + "-" + animal
}

// CPUSerial reads the SoC serial number from /proc/cpuinfo.
func CPUSerial() (string, error) {
	return cpuSerialFrom("/proc/cpuinfo")
}

// cpuSerialFrom is the testable implementation of CPUSerial.
func cpuSerialFrom(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Serial") {
			continue
		}
		_, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		serial := strings.TrimSpace(value)
		if serial != "" {
			return serial, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return "", fmt.Errorf("no Serial line in %s", path)
}
