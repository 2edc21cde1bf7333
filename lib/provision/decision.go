// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision prepares a node to run Roost: accelerator driver
// installation, PCIe link-speed boot configuration, runtime tool
// bootstrap, and the final dependency install and launch.
//
// Every decision point is a tri-state config value ("yes", "no",
// "ask") instead of an unconditional interactive prompt, so the whole
// flow runs unattended when the config answers up front and only asks
// on a real terminal.
package provision

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Decision is a configured answer to one provisioning question.
type Decision string

const (
	DecisionYes Decision = "yes"
	DecisionNo  Decision = "no"
	DecisionAsk Decision = "ask"
)

// ParseDecision validates a config decision string.
func ParseDecision(value string) (Decision, error) {
	switch Decision(value) {
	case DecisionYes, DecisionNo, DecisionAsk:
		return Decision(value), nil
	default:
		return "", fmt.Errorf("invalid decision %q (want yes, no, or ask)", value)
	}
}

// Prompter asks the operator a yes/no question.
type Prompter interface {
	// Confirm prints question and reads a y/n answer.
	Confirm(question string) (bool, error)
}

// Resolve turns a decision into a concrete answer. "ask" consults the
// prompter; with no prompter available (no terminal), "ask" resolves
// to no, because blocking an unattended boot on a prompt nobody will
// answer is worse than skipping an optional step.
func Resolve(decision Decision, prompter Prompter, question string) (bool, error) {
	switch decision {
	case DecisionYes:
		return true, nil
	case DecisionNo:
		return false, nil
	case DecisionAsk:
		if prompter == nil {
			return false, nil
		}
		return prompter.Confirm(question)
	default:
		return false, fmt.Errorf("invalid decision %q", decision)
	}
}

// TTYPrompter reads y/n answers from an interactive terminal.
type TTYPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTTYPrompter returns a prompter over stdin/stdout, or nil when
// stdin is not a terminal. Callers pass the nil straight to Resolve.
func NewTTYPrompter() *TTYPrompter {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return &TTYPrompter{in: os.Stdin, out: os.Stdout}
}

// Confirm prints question with a [y/N] suffix and reads one line.
// Only "y" or "yes" (case-insensitive) answer yes.
func (p *TTYPrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
