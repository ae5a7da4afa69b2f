// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/isolant-project/isolant/cmd/isolant/cli"
	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/process"
	"github.com/isolant-project/isolant/lib/supervisor"
)

func runCommand() *cli.Command {
	var (
		options   commonOptions
		stopAfter time.Duration
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Supervise one worker and exit with its code",
		Description: `Start a worker, wait for it to exit, report how it ended, and exit
with its code (128 plus the signal number when a signal ended it).
Without a command the configured isolant-worker is started. SIGINT and
SIGTERM stop the worker through the shutdown command, escalating to
signals after the configured grace periods.`,
		Usage: "isolant run [flags] [-- <command> [args...]]",
		Examples: []cli.Example{
			{Description: "Run the configured worker until interrupted", Command: "isolant run"},
			{Description: "Start a worker and stop it after five seconds",
				Command: "isolant run --stop-after 5s -- ./isolant-worker --channel-fd=3"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.DurationVar(&stopAfter, "stop-after", 0, "stop the worker after this long (0 waits for it to exit)")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, sink, err := options.load()
			if err != nil {
				return err
			}
			defer sink.Close()
			logger := sink.Logger()

			var path string
			if len(args) > 0 {
				path, args = args[0], args[1:]
			} else {
				if path, err = cfg.WorkerBinaryPath(); err != nil {
					return err
				}
				args = supervisor.WorkerArgs(workerFlags(cfg)...)
			}

			loop, err := eventloop.New(eventloop.Config{Logger: logger})
			if err != nil {
				return err
			}
			defer loop.Close()

			config := supervisorConfig(cfg, sink)
			config.Loop = loop
			config.Stdout = os.Stdout
			worker, err := supervisor.New(config)
			if err != nil {
				return err
			}
			if err := worker.Start(path, args); err != nil {
				return err
			}

			stop := func() {
				if err := worker.Stop(); err != nil {
					logger.Warn("stopping worker failed", "error", err)
				}
			}
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			defer func() {
				signal.Stop(signals)
				close(signals)
			}()
			go func() {
				for received := range signals {
					logger.Info("stopping worker on signal", "signal", received.String())
					loop.Post(stop)
				}
			}()
			if stopAfter > 0 {
				loop.NewTimer(stop).Start(stopAfter)
			}

			for {
				status, err := worker.Wait(time.Minute)
				if errors.Is(err, fault.ErrTimeout) {
					continue
				}
				if err != nil {
					return err
				}
				logger.Info("worker finished", "status", status.String(), "escalated", worker.Escalated())
				if status.Success() {
					return nil
				}
				return &process.ExitError{Code: status.ExitCode()}
			}
		},
	}
}
