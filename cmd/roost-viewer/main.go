// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// roost-viewer is a terminal dashboard for the cluster: a live worker
// table polled from the controller's status API. Run it from any
// machine that can reach the control network.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/roost-cluster/roost/lib/fleetview"
	"github.com/roost-cluster/roost/lib/netutil"
	"github.com/roost-cluster/roost/lib/process"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		showVersion bool
		controller  string
		port        int
		interval    time.Duration
	)
	flags := pflag.NewFlagSet("roost-viewer", pflag.ContinueOnError)
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.StringVar(&controller, "controller", "10.0.100.1", "controller control-plane address")
	flags.IntVar(&port, "port", 8001, "controller control API port")
	flags.DurationVar(&interval, "interval", 2*time.Second, "status poll interval")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("roost-viewer")
		return nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	statusURL := fmt.Sprintf("http://%s/api/v1/status", net.JoinHostPort(controller, strconv.Itoa(port)))
	fetch := func(ctx context.Context) (schema.StatusReport, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return schema.StatusReport{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return schema.StatusReport{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return schema.StatusReport{}, fmt.Errorf("%s: %s", resp.Status, netutil.ErrorBody(resp.Body))
		}
		var report schema.StatusReport
		if err := netutil.DecodeResponse(resp.Body, &report); err != nil {
			return schema.StatusReport{}, err
		}
		return report, nil
	}

	program := tea.NewProgram(fleetview.New(fetch, interval), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
