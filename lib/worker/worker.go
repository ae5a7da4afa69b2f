// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/clock"
	"github.com/isolant-project/isolant/lib/command"
	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/process"
)

// Config holds the optional collaborators of a Worker.
type Config struct {
	// Logger receives worker diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock drives the worker loop's timers. Defaults to clock.Real().
	Clock clock.Clock

	// SendTimeout bounds a blocked reply. Defaults to
	// channel.DefaultSendTimeout.
	SendTimeout time.Duration
}

// Worker owns the event loop, channel, and dispatcher of one worker
// process.
type Worker struct {
	loop       *eventloop.Loop
	channel    *channel.Channel
	dispatcher *command.Dispatcher
	logger     *slog.Logger
	stopErr    error
}

// New creates a worker with an unbound channel and an empty
// dispatcher.
func New(config Config) (*Worker, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")

	loop, err := eventloop.New(eventloop.Config{Clock: config.Clock, Logger: logger})
	if err != nil {
		return nil, err
	}

	w := &Worker{
		loop:    loop,
		channel: channel.New(loop, channel.Config{Logger: logger, SendTimeout: config.SendTimeout}),
		logger:  logger,
	}
	w.dispatcher = command.NewDispatcher(command.Config{Logger: logger, Fatal: w.fail})
	return w, nil
}

// Loop returns the worker's event loop.
func (w *Worker) Loop() *eventloop.Loop { return w.loop }

// Channel returns the worker's channel.
func (w *Worker) Channel() *channel.Channel { return w.channel }

// Dispatcher returns the dispatcher handlers are registered on.
func (w *Worker) Dispatcher() *command.Dispatcher { return w.dispatcher }

// Logger returns the worker's logger.
func (w *Worker) Logger() *slog.Logger { return w.logger }

// Stop ends Run with code after the current handler returns.
func (w *Worker) Stop(code int) {
	w.logger.Info("worker stopping", "exit_code", code)
	w.loop.Exit(code)
}

func (w *Worker) fail(code int, err error) {
	if w.stopErr == nil {
		w.stopErr = err
	}
	w.logger.Error("worker stopping after fatal error", "error", err, "kind", fault.KindOf(err), "exit_code", code)
	w.loop.Exit(code)
}

// Err returns the error that stopped the worker, if any.
func (w *Worker) Err() error { return w.stopErr }

// Run binds fd, serves commands until the worker is stopped or ctx is
// cancelled, and returns the process exit code. The loop and channel
// are released before Run returns.
func (w *Worker) Run(ctx context.Context, fd int) int {
	defer w.loop.Close()
	defer w.channel.Close()

	if err := w.channel.Bind(fd); err != nil {
		w.stopErr = fmt.Errorf("binding channel descriptor %d: %w", fd, err)
		w.logger.Error("failed to bind channel", "fd", fd, "error", err)
		return process.ExitChannel
	}
	w.dispatcher.Serve(w.channel)
	w.logger.Info("worker serving", "fd", fd)

	code, err := w.loop.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			w.logger.Info("worker cancelled")
			return process.ExitSuccess
		}
		w.logger.Error("event loop failed", "error", err)
		return process.ExitFailure
	}
	stats := w.channel.Stats()
	w.logger.Info("worker exiting", "exit_code", code,
		"messages_received", stats.MessagesReceived, "messages_sent", stats.MessagesSent)
	return code
}
