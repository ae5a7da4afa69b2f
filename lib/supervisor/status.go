// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/process"
)

// Phase is the lifecycle position of a Process. Phases only advance.
type Phase int

const (
	Starting Phase = iota
	Running
	Stopping
	Exited
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Kind classifies how a worker terminated.
type Kind int

const (
	// NormalExit: the worker called exit; Code holds the status.
	NormalExit Kind = iota

	// SignalExit: a signal terminated the worker; Signal names it.
	SignalExit

	// CrashExit covers core dumps and states wait4 should not report
	// for a supervised child.
	CrashExit
)

func (k Kind) String() string {
	switch k {
	case NormalExit:
		return "normal"
	case SignalExit:
		return "signal"
	case CrashExit:
		return "crash"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ExitStatus is the classified termination of one worker.
type ExitStatus struct {
	Kind   Kind
	Code   int
	Signal syscall.Signal
}

func (s ExitStatus) String() string {
	switch s.Kind {
	case NormalExit:
		return fmt.Sprintf("exited with code %d", s.Code)
	case SignalExit:
		return fmt.Sprintf("killed by %v", s.Signal)
	default:
		if s.Signal != 0 {
			return fmt.Sprintf("crashed (%v, core dumped)", s.Signal)
		}
		return "crashed"
	}
}

// Success reports a normal exit with code 0.
func (s ExitStatus) Success() bool {
	return s.Kind == NormalExit && s.Code == 0
}

// Err returns nil for a successful exit and an error wrapping
// fault.ErrProcess otherwise.
func (s ExitStatus) Err() error {
	if s.Success() {
		return nil
	}
	return fmt.Errorf("worker %s: %w", s, fault.ErrProcess)
}

// ExitCode maps the status to a shell-style exit code: the worker's own
// code for a normal exit, 128 plus the signal number for a signal exit.
func (s ExitStatus) ExitCode() int {
	switch s.Kind {
	case NormalExit:
		return s.Code
	case SignalExit:
		return 128 + int(s.Signal)
	default:
		return process.ExitFailure
	}
}

func classify(status unix.WaitStatus) ExitStatus {
	switch {
	case status.Exited():
		return ExitStatus{Kind: NormalExit, Code: status.ExitStatus()}
	case status.Signaled() && status.CoreDump():
		return ExitStatus{Kind: CrashExit, Code: -1, Signal: syscall.Signal(status.Signal())}
	case status.Signaled():
		return ExitStatus{Kind: SignalExit, Code: -1, Signal: syscall.Signal(status.Signal())}
	default:
		return ExitStatus{Kind: CrashExit, Code: -1}
	}
}
