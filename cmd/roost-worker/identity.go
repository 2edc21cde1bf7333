// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roost-cluster/roost/lib/sealed"
)

// identityFile is the age private key file inside the state dir. The
// public half is derived on load and reported in heartbeats.
const identityFile = "identity.key"

// loadOrCreateKeypair returns the worker's age keypair, generating and
// persisting one on first boot. The key file is written 0600 and never
// leaves the machine.
func loadOrCreateKeypair(stateDir string) (sealed.Keypair, error) {
	path := filepath.Join(stateDir, identityFile)

	data, err := os.ReadFile(path)
	if err == nil {
		keypair, err := sealed.LoadKeypair(strings.TrimSpace(string(data)))
		if err != nil {
			return sealed.Keypair{}, fmt.Errorf("loading identity from %s: %w", path, err)
		}
		return keypair, nil
	}
	if !os.IsNotExist(err) {
		return sealed.Keypair{}, fmt.Errorf("reading %s: %w", path, err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return sealed.Keypair{}, err
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return sealed.Keypair{}, fmt.Errorf("creating state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(keypair.PrivateKey+"\n"), 0o600); err != nil {
		return sealed.Keypair{}, fmt.Errorf("persisting identity: %w", err)
	}
	return keypair, nil
}
