// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestDispatchToSubcommand(t *testing.T) {
	var got []string
	root := &Command{
		Name: "roost",
		Subcommands: []*Command{
			{Name: "status", Run: func(args []string) error {
				got = append([]string{"status"}, args...)
				return nil
			}},
		},
	}
	if err := root.Execute([]string{"status", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 2 || got[0] != "status" || got[1] != "extra" {
		t.Errorf("dispatched with %v", got)
	}
}

func TestUnknownCommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "roost",
		Subcommands: []*Command{
			{Name: "status", Run: func([]string) error { return nil }},
			{Name: "workers", Run: func([]string) error { return nil }},
		},
	}
	err := root.Execute([]string{"stauts"})
	if err == nil {
		t.Fatal("typo accepted")
	}
	if !strings.Contains(err.Error(), `"status"`) {
		t.Errorf("no suggestion in error: %v", err)
	}
}

func TestFlagParsing(t *testing.T) {
	var controller string
	cmd := &Command{
		Name: "status",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.StringVar(&controller, "controller", "10.0.100.1", "")
			return flags
		},
		Run: func(args []string) error { return nil },
	}
	if err := cmd.Execute([]string{"--controller", "10.0.50.1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if controller != "10.0.50.1" {
		t.Errorf("controller = %q", controller)
	}
}

func TestSubcommandRequired(t *testing.T) {
	root := &Command{
		Name:        "roost",
		Subcommands: []*Command{{Name: "status", Run: func([]string) error { return nil }}},
	}
	if err := root.Execute(nil); err == nil {
		t.Error("bare invocation with subcommands succeeded")
	}
}

func TestHelpOutput(t *testing.T) {
	root := &Command{
		Name:    "roost",
		Summary: "cluster control",
		Subcommands: []*Command{
			{Name: "status", Summary: "show controller status"},
		},
		Examples: []Example{{Description: "check the fleet", Command: "roost status"}},
	}
	var out strings.Builder
	root.PrintHelp(&out)
	help := out.String()
	for _, want := range []string{"cluster control", "status", "show controller status", "roost status"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"stauts", "status", 2},
		{"wrokers", "workers", 2},
		{"kitten", "sitting", 3},
	}
	for _, tc := range cases {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
