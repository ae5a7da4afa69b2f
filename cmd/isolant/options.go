// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/isolant-project/isolant/lib/config"
	"github.com/isolant-project/isolant/lib/logsink"
	"github.com/isolant-project/isolant/lib/supervisor"
)

// commonOptions are the flags every subcommand shares.
type commonOptions struct {
	configPath string
	logLevel   string
}

func (o *commonOptions) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "configuration file (default from "+config.EnvironmentVariable+")")
	flagSet.StringVar(&o.logLevel, "log-level", "", "override log.level: debug, info, warn, or error")
}

// load reads and validates the configuration and builds the logger.
// The caller closes the returned sink.
func (o *commonOptions) load() (*config.Config, *logsink.Sink, error) {
	var cfg *config.Config
	var err error
	switch {
	case o.configPath != "":
		cfg, err = config.LoadFile(o.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logsink.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	sink, err := logsink.New(logsink.Options{Level: level, Path: cfg.Log.File, Writer: os.Stderr})
	if err != nil {
		return nil, nil, err
	}
	return cfg, sink, nil
}

// workerFlags are the isolant-worker flags the configuration asks for,
// not counting the channel descriptor flag.
func workerFlags(cfg *config.Config) []string {
	flags := append([]string{}, cfg.Worker.Args...)
	flags = append(flags, "--log-level", cfg.Worker.LogLevel)
	if cfg.Worker.LogFile != "" {
		flags = append(flags, "--log-file", cfg.Worker.LogFile)
	}
	return flags
}

func supervisorConfig(cfg *config.Config, sink *logsink.Sink) supervisor.Config {
	return supervisor.Config{
		Logger:      sink.Logger(),
		StopTimeout: cfg.Supervisor.StopTimeout,
		KillTimeout: cfg.Supervisor.KillTimeout,
		SendTimeout: cfg.Channel.SendTimeout,
		Stderr:      os.Stderr,
	}
}
