// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/process"
)

// Request is one inbound command as seen by a handler.
type Request struct {
	Tag  byte
	Body []byte

	// Files are the descriptors that arrived with the command, in
	// order. Any still set when the handler returns are closed; a
	// handler keeps one by setting its entry to nil.
	Files []*os.File
}

// Handler processes one command. A nil response sends nothing back.
// A returned error is fatal to the worker.
type Handler func(*Request) (*channel.Payload, error)

// FatalFunc ends the serving process with code after err.
type FatalFunc func(code int, err error)

// Config holds the optional collaborators of a Dispatcher.
type Config struct {
	// Logger receives dispatch diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Fatal is invoked when serving cannot continue. Defaults to
	// logging the error and calling os.Exit(code).
	Fatal FatalFunc
}

type registration struct {
	name    string
	handler Handler
}

// Dispatcher routes commands to handlers by tag.
type Dispatcher struct {
	handlers map[byte]registration
	logger   *slog.Logger
	fatal    FatalFunc
}

// NewDispatcher returns a dispatcher with no handlers registered.
func NewDispatcher(config Config) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatcher")

	fatal := config.Fatal
	if fatal == nil {
		fatal = func(code int, err error) {
			logger.Error("stopping after fatal command error", "error", err, "exit_code", code)
			os.Exit(code)
		}
	}
	return &Dispatcher{
		handlers: make(map[byte]registration),
		logger:   logger,
		fatal:    fatal,
	}
}

// Handle registers handler for tag. Panics if tag already has a
// handler.
func (d *Dispatcher) Handle(tag byte, name string, handler Handler) {
	if existing, exists := d.handlers[tag]; exists {
		panic(fmt.Sprintf("command.Dispatcher: duplicate handler for tag %d (%q, already %q)", tag, name, existing.name))
	}
	d.handlers[tag] = registration{name: name, handler: handler}
}

// Name returns the registered name for tag, or "unknown".
func (d *Dispatcher) Name(tag byte) string {
	if registered, ok := d.handlers[tag]; ok {
		return registered.name
	}
	return "unknown"
}

// Dispatch runs the handler for payload's tag and returns its
// response. Unknown tags are protocol errors. Descriptors the handler
// did not keep are closed before Dispatch returns.
func (d *Dispatcher) Dispatch(payload *channel.Payload) (*channel.Payload, error) {
	defer payload.Close()

	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("command: empty payload: %w", fault.ErrProtocol)
	}
	tag := payload.Data[0]
	registered, ok := d.handlers[tag]
	if !ok {
		return nil, fmt.Errorf("command: unknown tag %d: %w", tag, fault.ErrProtocol)
	}

	request := &Request{Tag: tag, Body: payload.Data[1:], Files: payload.Files}
	response, err := registered.handler(request)
	if err != nil {
		return nil, fmt.Errorf("command: %s: %w", registered.name, err)
	}
	return response, nil
}

// Serve attaches the dispatcher to ch. Every inbound message is
// dispatched and any response is sent back on ch. Serve returns
// immediately; the work happens as ch's loop runs.
func (d *Dispatcher) Serve(ch *channel.Channel) {
	ch.OnReadyRead(func() { d.serveOne(ch) })
	ch.OnDisconnected(func() {
		d.fatal(process.ExitChannel, fmt.Errorf("command: supervisor closed the channel: %w", fault.ErrIO))
	})
}

func (d *Dispatcher) serveOne(ch *channel.Channel) {
	payload, err := ch.Receive()
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN):
			return
		case errors.Is(err, fault.ErrProtocol):
			d.fatal(process.ExitProtocol, err)
		default:
			d.fatal(process.ExitChannel, err)
		}
		return
	}

	tag := payload.Data[0]
	logger := d.logger.With("tag", tag, "command", d.Name(tag))
	logger.Debug("dispatching command", "bytes", len(payload.Data), "files", len(payload.Files))

	response, err := d.Dispatch(payload)
	if err != nil {
		if errors.Is(err, fault.ErrProtocol) {
			d.fatal(process.ExitProtocol, err)
		} else {
			d.fatal(process.ExitFailure, err)
		}
		return
	}
	if response == nil {
		return
	}
	if err := ch.Send(response); err != nil {
		logger.Error("sending response failed", "error", err)
		d.fatal(process.ExitChannel, err)
	}
}
