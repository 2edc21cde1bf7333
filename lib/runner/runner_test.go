// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFakeLongestPrefixWins(t *testing.T) {
	fake := NewFake()
	fake.Respond("dpkg-query", FakeResult{Stdout: "generic"})
	fake.Respond("dpkg-query -W hailort", FakeResult{Stdout: "specific"})

	out, err := fake.Run(context.Background(), "dpkg-query", "-W", "hailort")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "specific" {
		t.Errorf("output = %q, want %q", out, "specific")
	}

	out, err = fake.Run(context.Background(), "dpkg-query", "-W", "other-package")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "generic" {
		t.Errorf("output = %q, want %q", out, "generic")
	}
}

func TestFakeUnscriptedCommandFails(t *testing.T) {
	fake := NewFake()
	if _, err := fake.Run(context.Background(), "rm", "-rf", "/"); err == nil {
		t.Fatal("unscripted command succeeded")
	}
	if !fake.CalledMatching("rm -rf") {
		t.Error("unscripted call was not recorded")
	}
}

func TestFakeScriptedError(t *testing.T) {
	scripted := errors.New("device busy")
	fake := NewFake()
	fake.Respond("nmcli", FakeResult{Err: scripted})

	if _, err := fake.Run(context.Background(), "nmcli", "device", "status"); !errors.Is(err, scripted) {
		t.Errorf("err = %v, want scripted error", err)
	}
}

func TestFakeRecordsCallsInOrder(t *testing.T) {
	fake := NewFake()
	fake.Respond("", FakeResult{})

	fake.Run(context.Background(), "ip", "addr", "show", "eth0")
	fake.Run(context.Background(), "ping", "-c", "1", "10.0.100.1")

	calls := fake.Calls()
	if len(calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(calls))
	}
	if calls[0] != "ip addr show eth0" {
		t.Errorf("first call = %q", calls[0])
	}
	if !strings.HasPrefix(calls[1], "ping") {
		t.Errorf("second call = %q", calls[1])
	}
}

func TestExecCapturesStdout(t *testing.T) {
	exec := &Exec{}
	out, err := exec.Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q, want %q", out, "hello")
	}
}

func TestExecReportsFailure(t *testing.T) {
	exec := &Exec{}
	_, err := exec.Run(context.Background(), "false")
	if err == nil {
		t.Fatal("failing command succeeded")
	}
	if !strings.Contains(err.Error(), "false") {
		t.Errorf("error does not name the command: %v", err)
	}
}
