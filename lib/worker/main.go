// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/isolant-project/isolant/lib/ipc"
	"github.com/isolant-project/isolant/lib/logsink"
	"github.com/isolant-project/isolant/lib/process"
	"github.com/isolant-project/isolant/lib/version"
)

// Main runs a worker with the built-in handlers and returns the
// process exit code. args excludes the program name.
func Main(args []string) int {
	var (
		channelFD   int
		logFile     string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("isolant-worker", pflag.ContinueOnError)
	flagSet.IntVar(&channelFD, ipc.ChannelFDFlag, channelFDFromEnvironment(),
		"inherited descriptor of the control channel (default from "+ipc.ChannelFDEnv+")")
	flagSet.StringVar(&logFile, "log-file", "", "append diagnostics to this file instead of stderr")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return process.ExitSuccess
		}
		fmt.Fprintf(os.Stderr, "isolant-worker: %v\n", err)
		return process.ExitUsage
	}
	if showVersion {
		version.Print(os.Stdout, "isolant-worker")
		return process.ExitSuccess
	}
	if channelFD < 0 {
		fmt.Fprintf(os.Stderr, "isolant-worker: no channel descriptor; pass --%s or set %s\n",
			ipc.ChannelFDFlag, ipc.ChannelFDEnv)
		return process.ExitUsage
	}
	level, err := logsink.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isolant-worker: %v\n", err)
		return process.ExitUsage
	}

	// The supervisor does not read worker stdio, so a log file must be
	// in place before anything is logged.
	var sink *logsink.Sink
	if logFile != "" {
		sink, err = logsink.SetFile(logFile, level)
	} else {
		sink, err = logsink.New(logsink.Options{Level: level, Writer: os.Stderr})
		if err == nil {
			slog.SetDefault(sink.Logger())
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "isolant-worker: %v\n", err)
		return process.ExitFailure
	}
	defer sink.Close()

	logger := sink.Logger().With("pid", os.Getpid())
	startAttributes := []any{"version", version.Info(), "channel_fd", channelFD}
	if digest, err := version.SelfDigest(); err == nil {
		startAttributes = append(startAttributes, "binary_digest", digest)
	}
	logger.Info("worker starting", startAttributes...)

	w, err := New(Config{Logger: logger})
	if err != nil {
		logger.Error("creating worker failed", "error", err)
		return process.ExitFailure
	}
	RegisterBuiltins(w)
	return w.Run(context.Background(), channelFD)
}

func channelFDFromEnvironment() int {
	value := os.Getenv(ipc.ChannelFDEnv)
	if value == "" {
		return -1
	}
	descriptor, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return descriptor
}
