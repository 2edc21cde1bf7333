// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// roost is the cluster operator CLI: fleet status, worker management,
// data-plane switching, and model loading, all through the
// controller's control API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/roost-cluster/roost/cmd/roost/cli"
	"github.com/roost-cluster/roost/lib/process"
	"github.com/roost-cluster/roost/lib/schema"
	"github.com/roost-cluster/roost/lib/version"
)

// connection holds the flags shared by every command that talks to the
// controller.
type connection struct {
	controller string
	port       int
	jsonOut    bool
}

func (c *connection) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.controller, "controller", "10.0.100.1", "controller control-plane address")
	flags.IntVar(&c.port, "port", 8001, "controller control API port")
	flags.BoolVar(&c.jsonOut, "json", false, "output as JSON")
}

func (c *connection) client() *controllerClient {
	return newControllerClient(c.controller, c.port)
}

func main() {
	if err := rootCommand().Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:    "roost",
		Summary: "Roost cluster control",
		Description: "roost manages a Roost inference cluster through its controller:\n" +
			"fleet status, worker lifecycle, data-plane switching, and model loading.",
		Subcommands: []*cli.Command{
			statusCommand(),
			workersCommand(),
			switchCommand(),
			loadModelCommand(),
			removeCommand(),
			versionCommand(),
		},
	}
}

func statusCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "status",
		Summary: "show controller and fleet summary",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			conn.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			report, err := conn.client().Status(commandContext())
			if err != nil {
				return err
			}
			if conn.jsonOut {
				return writeJSON(report)
			}

			counts := map[schema.Health]int{}
			for _, worker := range report.Workers {
				counts[worker.Health]++
			}
			fmt.Printf("controller: %s (%s)\n", report.Identifier, report.Version)
			fmt.Printf("workers:    %d (%d online, %d suspect, %d offline)\n",
				len(report.Workers),
				counts[schema.HealthOnline], counts[schema.HealthSuspect], counts[schema.HealthOffline])
			if report.Pending > 0 {
				fmt.Printf("pending:    %d worker(s) without an assigned ID\n", report.Pending)
			}
			return nil
		},
	}
}

func workersCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "workers",
		Summary: "list registered workers",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("workers", pflag.ContinueOnError)
			conn.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			report, err := conn.client().Status(commandContext())
			if err != nil {
				return err
			}
			if conn.jsonOut {
				return writeJSON(report.Workers)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHEALTH\tCONTROL IP\tDATA PLANE\tDATA IP\tDATA OK\tLAST SEEN")
			for _, worker := range report.Workers {
				dataOK := "no"
				if worker.DataConnectivity {
					dataOK = "yes"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					worker.WorkerID, worker.Identifier, worker.Health,
					worker.ControlIP, worker.DataPlane, worker.DataIP, dataOK,
					worker.LastSeen.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func switchCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "switch",
		Summary: "switch a worker's data plane",
		Usage:   "roost switch <worker-id> <ethernet|wifi> [flags]",
		Examples: []cli.Example{
			{Description: "move worker 3's tensor traffic to the access point", Command: "roost switch 3 wifi"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("switch", pflag.ContinueOnError)
			conn.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: roost switch <worker-id> <ethernet|wifi>")
			}
			workerID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("worker ID must be an integer, got %q", args[0])
			}

			var name string
			switch args[1] {
			case "ethernet":
				name = schema.CommandSwitchToEthernet
			case "wifi":
				name = schema.CommandSwitchToWifi
			default:
				return fmt.Errorf("unknown data plane %q (want ethernet or wifi)", args[1])
			}

			return runCommand(&conn, workerID, schema.Command{Name: name})
		},
	}
}

func loadModelCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "load-model",
		Summary: "load a model on a worker",
		Usage:   "roost load-model <worker-id> <model> [flags]",
		Examples: []cli.Example{
			{Description: "load the yolov4 manifest on worker 0", Command: "roost load-model 0 yolov4"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("load-model", pflag.ContinueOnError)
			conn.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: roost load-model <worker-id> <model>")
			}
			workerID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("worker ID must be an integer, got %q", args[0])
			}
			return runCommand(&conn, workerID, schema.Command{
				Name: schema.CommandLoadModel,
				Data: map[string]string{"model": args[1]},
			})
		},
	}
}

func removeCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "remove",
		Summary: "remove a worker registration, freeing its ID",
		Usage:   "roost remove <worker-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("remove", pflag.ContinueOnError)
			conn.addFlags(flags)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: roost remove <worker-id>")
			}
			workerID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("worker ID must be an integer, got %q", args[0])
			}
			if err := conn.client().Remove(commandContext(), workerID); err != nil {
				return err
			}
			fmt.Printf("worker %d removed\n", workerID)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print version information",
		Run: func(args []string) error {
			version.Print("roost")
			return nil
		},
	}
}

func runCommand(conn *connection, workerID int, cmd schema.Command) error {
	result, err := conn.client().Command(commandContext(), workerID, cmd)
	if err != nil {
		return err
	}
	if conn.jsonOut {
		return writeJSON(result)
	}
	if !result.OK {
		return fmt.Errorf("worker %d: %s", workerID, result.Message)
	}
	fmt.Println(result.Message)
	return nil
}

func commandContext() context.Context {
	return context.Background()
}

func writeJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
