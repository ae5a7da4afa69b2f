// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1

	// ExitUsage reports invalid command-line arguments.
	ExitUsage = 2

	// ExitProtocol reports a malformed frame or an unknown command
	// tag on the control channel.
	ExitProtocol = 3

	// ExitChannel reports that the inherited channel descriptor could
	// not be bound.
	ExitChannel = 4

	// ExitSkip tells a test harness the check was skipped.
	ExitSkip = 77
)

// ExitError carries an exit code up to main without an extra error
// message. The command is expected to have reported the problem
// itself.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitFailure)
}

// Exit terminates the process for an error returned from run(). A nil
// error exits 0, an error with an ExitCode method exits with that code
// silently, and anything else goes through Fatal.
func Exit(err error) {
	if err == nil {
		os.Exit(ExitSuccess)
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		os.Exit(coder.ExitCode())
	}
	Fatal(err)
}
