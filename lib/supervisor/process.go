// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/binhash"
	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/command"
	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/ipc"
)

// Default grace periods for Stop.
const (
	DefaultStopTimeout = 2 * time.Second
	DefaultKillTimeout = 1 * time.Second
)

// Config configures a Process.
type Config struct {
	// Loop hosts the channel and the exit watch. Required.
	Loop *eventloop.Loop

	// Logger receives lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger

	// StopTimeout is how long Stop waits after the shutdown command
	// before sending SIGTERM.
	StopTimeout time.Duration

	// KillTimeout is how long Stop waits after SIGTERM before sending
	// SIGKILL.
	KillTimeout time.Duration

	// SendTimeout bounds a blocked send on the channel.
	SendTimeout time.Duration

	// Shutdown builds the payload Stop sends. Defaults to a bare
	// ipc.CmdClose.
	Shutdown func() *channel.Payload

	// Env is appended to the supervisor's environment for the child.
	Env []string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout *os.File
	Stderr *os.File
}

// WorkerArgs returns the argument list that tells an isolant worker
// where its channel is, followed by extra.
func WorkerArgs(extra ...string) []string {
	return append([]string{"--" + ipc.ChannelFDFlag + "=" + strconv.Itoa(ipc.ChannelFD)}, extra...)
}

// Process supervises one worker. All methods run on the loop's
// goroutine.
type Process struct {
	config Config
	loop   *eventloop.Loop
	logger *slog.Logger

	phase     Phase
	pid       int
	pidfd     int
	watch     *eventloop.Notifier
	channel   *channel.Channel
	client    *command.Client
	status    ExitStatus
	observers []func(ExitStatus)

	stopTimer *eventloop.Timer
	killTimer *eventloop.Timer
	escalated bool
}

// New returns a Process in the Starting phase.
func New(config Config) (*Process, error) {
	if config.Loop == nil {
		return nil, fmt.Errorf("supervisor: config has no event loop: %w", fault.ErrArgument)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	if config.KillTimeout <= 0 {
		config.KillTimeout = DefaultKillTimeout
	}
	if config.Shutdown == nil {
		config.Shutdown = func() *channel.Payload {
			return &channel.Payload{Data: []byte{ipc.CmdClose}}
		}
	}
	return &Process{
		config: config,
		loop:   config.Loop,
		logger: config.Logger.With("component", "supervisor"),
		pidfd:  -1,
	}, nil
}

// Phase returns the current lifecycle phase.
func (p *Process) Phase() Phase { return p.phase }

// Pid returns the worker's pid, or 0 before Start and after exit.
func (p *Process) Pid() int { return p.pid }

// Channel returns the supervisor end of the control channel, or nil
// before Start. It is closed once the worker has exited.
func (p *Process) Channel() *channel.Channel { return p.channel }

// Client returns the command client on the control channel, or nil
// before Start.
func (p *Process) Client() *command.Client { return p.client }

// Escalated reports whether Stop had to signal the worker.
func (p *Process) Escalated() bool { return p.escalated }

// Status returns the exit status once the worker has exited.
func (p *Process) Status() (ExitStatus, bool) {
	return p.status, p.phase == Exited
}

// OnExit registers an observer notified once with the exit status. An
// observer registered after exit runs immediately.
func (p *Process) OnExit(observer func(ExitStatus)) {
	if p.phase == Exited {
		observer(p.status)
		return
	}
	p.observers = append(p.observers, observer)
}

// Start spawns path with args, passing the peer end of a new channel
// as descriptor 3 and announcing it in ipc.ChannelFDEnv. Callers
// starting an isolant worker pass [WorkerArgs] as well. On failure no
// child remains, every descriptor is closed, and the error wraps
// fault.ErrResource; Start may then be retried.
func (p *Process) Start(path string, args []string) error {
	if p.phase != Starting || p.channel != nil {
		return fmt.Errorf("supervisor: start in %s phase: %w", p.phase, fault.ErrArgument)
	}

	ch := channel.New(p.loop, channel.Config{Logger: p.logger, SendTimeout: p.config.SendTimeout})
	peer, err := ch.Create()
	if err != nil {
		return err
	}
	// The child holds its own copy once exec has run.
	defer peer.Close()

	pidfd := -1
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), ipc.ChannelFDEnv+"="+strconv.Itoa(ipc.ChannelFD))
	cmd.Env = append(cmd.Env, p.config.Env...)
	cmd.ExtraFiles = []*os.File{peer} // becomes fd 3 in child
	if p.config.Stdout != nil {
		cmd.Stdout = p.config.Stdout
	}
	if p.config.Stderr != nil {
		cmd.Stderr = p.config.Stderr
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
		PidFD:     &pidfd,
	}

	if err := cmd.Start(); err != nil {
		ch.Close()
		return fmt.Errorf("supervisor: starting %s: %w: %w", path, fault.ErrResource, err)
	}

	p.pid = cmd.Process.Pid
	p.pidfd = pidfd
	// The supervisor reaps with wait4; os.Process must not.
	_ = cmd.Process.Release()

	p.channel = ch
	p.client = command.NewClient(ch, p.logger)
	p.client.Caller().OnDisconnected(func() {
		p.logger.Debug("worker closed its channel", "pid", p.pid)
	})
	p.logger = p.logger.With("pid", p.pid)
	p.phase = Running

	attributes := []any{"path", cmd.Path, "args", args, "pidfd", p.pidfd >= 0}
	if digest, err := binhash.HashFile(cmd.Path); err == nil {
		attributes = append(attributes, "binary_digest", binhash.FormatDigest(digest))
	}
	p.logger.Info("worker started", attributes...)

	p.monitor()
	return nil
}

func (p *Process) monitor() {
	if p.pidfd >= 0 {
		watch, err := p.loop.Watch(p.pidfd, eventloop.Readable, func(eventloop.Events) { p.reap() })
		if err == nil {
			p.watch = watch
			return
		}
		p.logger.Warn("watching pidfd failed, waiting on a goroutine", "error", err)
	}

	pid := p.pid
	go func() {
		var status unix.WaitStatus
		var err error
		for {
			_, err = unix.Wait4(pid, &status, 0, nil)
			if !errors.Is(err, unix.EINTR) {
				break
			}
		}
		p.loop.Post(func() { p.finish(status, err) })
	}()
}

// reap collects the worker once its pidfd reports readable.
func (p *Process) reap() {
	var status unix.WaitStatus
	for {
		reaped, err := unix.Wait4(p.pid, &status, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err == nil && reaped == 0 {
			return
		}
		p.finish(status, err)
		return
	}
}

func (p *Process) finish(status unix.WaitStatus, waitErr error) {
	if p.phase == Exited {
		return
	}
	if waitErr != nil {
		p.logger.Error("reaping worker failed", "error", waitErr)
		p.status = ExitStatus{Kind: CrashExit, Code: -1}
	} else {
		p.status = classify(status)
	}
	p.phase = Exited
	p.pid = 0

	if p.watch != nil {
		p.watch.Close()
		p.watch = nil
	}
	if p.pidfd >= 0 {
		unix.Close(p.pidfd)
		p.pidfd = -1
	}
	if p.stopTimer != nil {
		p.stopTimer.Stop()
	}
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	p.channel.Close()

	level := slog.LevelInfo
	if !p.status.Success() && !p.escalated {
		level = slog.LevelWarn
	}
	p.logger.Log(context.Background(), level, "worker exited",
		"kind", p.status.Kind.String(), "code", p.status.Code, "signal", p.status.Signal,
		"escalated", p.escalated)

	observers := p.observers
	p.observers = nil
	for _, observer := range observers {
		observer(p.status)
	}
}

// Stop asks the worker to exit by sending the shutdown payload, then
// escalates to SIGTERM after StopTimeout and SIGKILL after a further
// KillTimeout. It returns without waiting; use Wait for the outcome.
// Stop is a no-op while stopping or after exit.
func (p *Process) Stop() error {
	switch p.phase {
	case Starting:
		return fmt.Errorf("supervisor: stop before start: %w", fault.ErrArgument)
	case Stopping, Exited:
		return nil
	}
	p.phase = Stopping

	if p.channel.State() == channel.Bound {
		if err := p.channel.Send(p.config.Shutdown()); err != nil {
			p.logger.Warn("sending shutdown command failed", "error", err)
		}
	}

	p.stopTimer = p.loop.NewTimer(p.escalate)
	p.stopTimer.Start(p.config.StopTimeout)
	p.logger.Debug("worker stopping", "stop_timeout", p.config.StopTimeout)
	return nil
}

func (p *Process) escalate() {
	if p.phase == Exited {
		return
	}
	p.escalated = true
	p.logger.Warn("worker ignored shutdown, sending SIGTERM", "stop_timeout", p.config.StopTimeout)
	if err := p.signal(syscall.SIGTERM); err != nil {
		p.logger.Warn("sending SIGTERM failed", "error", err)
	}

	p.killTimer = p.loop.NewTimer(func() {
		if p.phase == Exited {
			return
		}
		p.logger.Warn("worker survived SIGTERM, sending SIGKILL", "kill_timeout", p.config.KillTimeout)
		if err := p.signal(syscall.SIGKILL); err != nil {
			p.logger.Warn("sending SIGKILL failed", "error", err)
		}
	})
	p.killTimer.Start(p.config.KillTimeout)
}

// Kill sends sig to the worker. It fails with fault.ErrProcess once the
// worker has been reaped.
func (p *Process) Kill(sig syscall.Signal) error {
	if p.phase == Starting {
		return fmt.Errorf("supervisor: kill before start: %w", fault.ErrArgument)
	}
	if p.phase == Exited {
		return fmt.Errorf("supervisor: kill after exit: %w", fault.ErrProcess)
	}
	return p.signal(sig)
}

// signal goes through the pidfd when there is one, so a recycled pid
// is never signalled.
func (p *Process) signal(sig syscall.Signal) error {
	var err error
	if p.pidfd >= 0 {
		err = unix.PidfdSendSignal(p.pidfd, sig, nil, 0)
	} else {
		err = unix.Kill(p.pid, sig)
	}
	if err != nil {
		return fmt.Errorf("supervisor: sending %v to %d: %w: %w", sig, p.pid, fault.ErrProcess, err)
	}
	return nil
}

// Wait runs the loop until the worker exits or timeout elapses. It
// returns immediately if the worker has already exited.
func (p *Process) Wait(timeout time.Duration) (ExitStatus, error) {
	switch {
	case p.phase == Starting:
		return ExitStatus{}, fmt.Errorf("supervisor: wait before start: %w", fault.ErrArgument)
	case p.phase == Exited:
		return p.status, nil
	case timeout <= 0:
		return ExitStatus{}, fmt.Errorf("supervisor: wait timeout %v must be positive: %w", timeout, fault.ErrArgument)
	}

	expired := false
	timer := p.loop.NewTimer(func() { expired = true })
	timer.Start(timeout)
	defer timer.Stop()

	for p.phase != Exited {
		if expired {
			return ExitStatus{}, fmt.Errorf("supervisor: worker still %s after %v: %w", p.phase, timeout, fault.ErrTimeout)
		}
		if err := p.loop.ProcessEvents(); err != nil {
			return ExitStatus{}, err
		}
	}
	return p.status, nil
}
