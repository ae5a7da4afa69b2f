// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/isolant-project/isolant/cmd/isolant/cli"
	"github.com/isolant-project/isolant/lib/process"
	"github.com/isolant-project/isolant/lib/selftest"
)

func selftestCommand() *cli.Command {
	var (
		options     commonOptions
		workerPath  string
		callTimeout time.Duration
	)
	return &cli.Command{
		Name:    "selftest",
		Summary: "Verify the control channel against a live worker",
		Description: `Start a worker, drive it through every built-in command, and check
the replies: byte reversal, descriptor order, size accounting, delayed
replies, discarding of late replies after a timeout, BLAKE3 digests,
and zstd and LZ4 round trips. The worker is then stopped and must exit
cleanly without escalation.`,
		Usage: "isolant selftest [flags]",
		Examples: []cli.Example{
			{Description: "Use the worker next to this binary", Command: "isolant selftest"},
			{Description: "Test a specific build with verbose worker logs",
				Command: "isolant selftest --worker ./bin/isolant-worker --log-level debug"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("selftest", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringVar(&workerPath, "worker", "", "worker binary (overrides worker.binary)")
			flagSet.DurationVar(&callTimeout, "call-timeout", 0, "per-call timeout (overrides channel.call_timeout)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, sink, err := options.load()
			if err != nil {
				return err
			}
			defer sink.Close()

			if workerPath != "" {
				cfg.Worker.Binary = workerPath
			}
			path, err := cfg.WorkerBinaryPath()
			if err != nil {
				return err
			}
			if callTimeout <= 0 {
				callTimeout = cfg.Channel.CallTimeout
			}

			report, err := selftest.Run(selftest.Config{
				WorkerPath:  path,
				WorkerArgs:  workerFlags(cfg),
				CallTimeout: callTimeout,
				Supervisor:  supervisorConfig(cfg, sink),
				Logger:      sink.Logger(),
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "CHECK\tRESULT\tELAPSED\n")
			for _, result := range report.Results {
				outcome := "ok"
				if result.Err != nil {
					outcome = "FAIL: " + result.Err.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", result.Name, outcome, result.Elapsed.Round(time.Microsecond))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nworker %s", report.Exit)
			if report.Escalated {
				fmt.Print(" after escalation")
			}
			fmt.Println()

			if report.Err() != nil {
				fmt.Fprintf(os.Stderr, "selftest failed: %d of %d checks failed\n",
					len(report.Failed()), len(report.Results))
				return &process.ExitError{Code: process.ExitFailure}
			}
			return nil
		},
	}
}
