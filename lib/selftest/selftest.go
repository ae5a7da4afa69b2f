// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package selftest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/isolant-project/isolant/lib/command"
	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/supervisor"
)

// DefaultCallTimeout bounds each call a check makes.
const DefaultCallTimeout = 5 * time.Second

// Config configures a self-test run.
type Config struct {
	// WorkerPath is the worker executable. Required.
	WorkerPath string

	// WorkerArgs follow the channel descriptor flag on the worker's
	// command line.
	WorkerArgs []string

	// CallTimeout bounds each call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// Supervisor configures the worker process. Its Loop and Logger
	// are filled in by Run when unset.
	Supervisor supervisor.Config

	// Logger receives per-check progress. Defaults to slog.Default().
	Logger *slog.Logger

	// Checks overrides the battery. Defaults to Checks().
	Checks []Check
}

// Result is the outcome of one check.
type Result struct {
	Name    string
	Elapsed time.Duration
	Err     error
}

// Report is the outcome of a run.
type Report struct {
	Results   []Result
	Exit      supervisor.ExitStatus
	Escalated bool
}

// Failed returns the results of checks that did not pass.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, result := range r.Results {
		if result.Err != nil {
			failed = append(failed, result)
		}
	}
	return failed
}

// Err joins every check failure with an unclean worker exit. It is nil
// only when every check passed and the worker stopped gracefully.
func (r *Report) Err() error {
	var errs []error
	for _, result := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", result.Name, result.Err))
	}
	if err := r.Exit.Err(); err != nil {
		errs = append(errs, err)
	}
	if r.Escalated {
		errs = append(errs, fmt.Errorf("worker ignored the shutdown command: %w", fault.ErrProcess))
	}
	return errors.Join(errs...)
}

// Run starts a worker, runs the checks against it in order, stops it,
// and reports. The returned error covers failures to run at all;
// check failures are in the Report.
func Run(config Config) (*Report, error) {
	if config.WorkerPath == "" {
		return nil, fmt.Errorf("selftest: no worker path: %w", fault.ErrArgument)
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Checks == nil {
		config.Checks = Checks()
	}
	logger := config.Logger.With("component", "selftest")

	supervisorConfig := config.Supervisor
	if supervisorConfig.Loop == nil {
		loop, err := eventloop.New(eventloop.Config{Logger: logger})
		if err != nil {
			return nil, err
		}
		defer loop.Close()
		supervisorConfig.Loop = loop
	}
	if supervisorConfig.Logger == nil {
		supervisorConfig.Logger = config.Logger
	}

	directory, err := os.MkdirTemp("", "isolant-selftest-*")
	if err != nil {
		return nil, fmt.Errorf("selftest: creating scratch directory: %w: %w", fault.ErrResource, err)
	}
	defer os.RemoveAll(directory)

	worker, err := supervisor.New(supervisorConfig)
	if err != nil {
		return nil, err
	}
	if err := worker.Start(config.WorkerPath, supervisor.WorkerArgs(config.WorkerArgs...)); err != nil {
		return nil, err
	}

	session := &Session{
		Client:      worker.Client(),
		Loop:        supervisorConfig.Loop,
		CallTimeout: config.CallTimeout,
		directory:   directory,
	}
	report := &Report{}
	for _, check := range config.Checks {
		if worker.Phase() == supervisor.Exited {
			status, _ := worker.Status()
			report.Results = append(report.Results, Result{
				Name: check.Name,
				Err:  fmt.Errorf("worker already %s: %w", status, fault.ErrProcess),
			})
			continue
		}
		start := time.Now()
		err := check.Run(session)
		result := Result{Name: check.Name, Elapsed: time.Since(start), Err: err}
		report.Results = append(report.Results, result)
		if err != nil {
			logger.Error("check failed", "check", check.Name, "error", err, "kind", fault.KindOf(err))
		} else {
			logger.Info("check passed", "check", check.Name, "elapsed", result.Elapsed)
		}
	}

	if err := worker.Stop(); err != nil {
		return report, err
	}
	grace := supervisorConfig.StopTimeout + supervisorConfig.KillTimeout
	if grace <= 0 {
		grace = supervisor.DefaultStopTimeout + supervisor.DefaultKillTimeout
	}
	status, err := worker.Wait(grace + time.Second)
	if err != nil {
		_ = worker.Kill(syscall.SIGKILL)
		status, err = worker.Wait(time.Second)
		if err != nil {
			return report, err
		}
	}
	report.Exit = status
	report.Escalated = worker.Escalated()
	return report, nil
}

// Session is what a check sees of the worker under test.
type Session struct {
	Client      *command.Client
	Loop        *eventloop.Loop
	CallTimeout time.Duration
	directory   string
}

// TempFile returns a scratch file holding content, positioned at its
// start. It is removed when the run ends.
func (s *Session) TempFile(content []byte) (*os.File, error) {
	file, err := os.CreateTemp(s.directory, "input-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch file: %w: %w", fault.ErrResource, err)
	}
	if _, err := file.Write(content); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing scratch file: %w: %w", fault.ErrIO, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewinding scratch file: %w: %w", fault.ErrIO, err)
	}
	return file, nil
}

// Pause runs the loop for d, so channel traffic keeps being handled.
func (s *Session) Pause(d time.Duration) error {
	elapsed := false
	timer := s.Loop.NewTimer(func() { elapsed = true })
	timer.Start(d)
	defer timer.Stop()
	for !elapsed {
		if err := s.Loop.ProcessEvents(); err != nil {
			return err
		}
	}
	return nil
}
