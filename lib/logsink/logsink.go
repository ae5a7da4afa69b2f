// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Options selects the destination and verbosity of a logger.
type Options struct {
	Level slog.Level

	// Path, when set, names a file opened in append mode (created
	// with mode 0644) that receives the log. It takes precedence over
	// Writer.
	Path string

	// Writer receives the log when Path is empty. Defaults to
	// os.Stderr.
	Writer io.Writer
}

// Sink is a logger together with the file it writes to, if any.
type Sink struct {
	logger *slog.Logger
	file   *os.File
}

// New builds a logger from options.
func New(options Options) (*Sink, error) {
	writer := options.Writer
	var file *os.File
	if options.Path != "" {
		opened, err := os.OpenFile(options.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_CLOEXEC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logsink: opening %s: %w", options.Path, err)
		}
		file = opened
		writer = opened
	}
	if writer == nil {
		writer = os.Stderr
	}

	handlerOptions := &slog.HandlerOptions{Level: options.Level}
	var handler slog.Handler
	if isTerminal(writer) {
		handler = slog.NewTextHandler(writer, handlerOptions)
	} else {
		handler = slog.NewJSONHandler(writer, handlerOptions)
	}
	return &Sink{logger: slog.New(handler), file: file}, nil
}

// Logger returns the sink's logger.
func (s *Sink) Logger() *slog.Logger { return s.logger }

// Close closes the log file, if the sink owns one.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// SetFile routes the process-default logger to the file at path. Call
// it before the first diagnostic is emitted.
func SetFile(path string, level slog.Level) (*Sink, error) {
	sink, err := New(Options{Level: level, Path: path})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(sink.logger)
	return sink, nil
}

// ParseLevel maps debug, info, warn (or warning), and error to their
// slog levels. Case is ignored; an empty name means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logsink: unknown log level %q (want debug, info, warn, or error)", name)
	}
}

func isTerminal(writer io.Writer) bool {
	descriptor, ok := writer.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(descriptor.Fd()))
}
