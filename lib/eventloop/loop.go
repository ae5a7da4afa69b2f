// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/clock"
	"github.com/isolant-project/isolant/lib/fault"
)

// Events is a set of poll(2) readiness bits.
type Events int16

const (
	Readable Events = unix.POLLIN
	Writable Events = unix.POLLOUT
	Priority Events = unix.POLLPRI
	Hangup   Events = unix.POLLHUP
	Error    Events = unix.POLLERR
	Invalid  Events = unix.POLLNVAL
)

// Has reports whether every bit in mask is set.
func (e Events) Has(mask Events) bool { return e&mask == mask }

// Config holds the optional collaborators of a Loop.
type Config struct {
	// Clock measures timer deadlines. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives loop diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Loop is a single-threaded event loop. Create one with New and
// release it with Close.
type Loop struct {
	clock  clock.Clock
	logger *slog.Logger

	// wakeMu guards wakeFD against a concurrent Close. Interrupt may
	// be called from any goroutine (clock hooks, Post, Exit).
	wakeMu sync.Mutex
	wakeFD int

	notifiers []*Notifier
	timers    []*Timer

	postMu sync.Mutex
	posted []func()

	exitRequested atomic.Bool
	exitCode      atomic.Int32
	closed        atomic.Bool
}

// New creates a Loop. Fails with a resource error if the wake eventfd
// cannot be allocated.
func New(config Config) (*Loop, error) {
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventloop: creating eventfd: %w: %w", fault.ErrResource, err)
	}

	loopClock := config.Clock
	if loopClock == nil {
		loopClock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loop := &Loop{
		clock:  loopClock,
		logger: logger.With("component", "eventloop"),
		wakeFD: wakeFD,
	}
	if advancer, ok := loopClock.(clock.Advancer); ok {
		advancer.OnAdvance(loop.Interrupt)
	}
	return loop, nil
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clock.Clock { return l.clock }

// Interrupt wakes a loop blocked in ProcessEvents. Safe to call from
// any goroutine, and a no-op after Close.
func (l *Loop) Interrupt() {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.wakeFD < 0 {
		return
	}

	var value [8]byte
	binary.NativeEndian.PutUint64(value[:], 1)
	if _, err := unix.Write(l.wakeFD, value[:]); err != nil && err != unix.EAGAIN {
		// EAGAIN means the counter is saturated, which still wakes
		// the loop.
		l.logger.Error("failed to interrupt event loop", "error", err)
	}
}

// Post queues f to run on the loop thread during the next
// ProcessEvents and wakes the loop. Safe to call from any goroutine.
func (l *Loop) Post(f func()) {
	l.postMu.Lock()
	l.posted = append(l.posted, f)
	l.postMu.Unlock()
	l.Interrupt()
}

// Exit asks Run to return code after the current iteration. Safe to
// call from any goroutine.
func (l *Loop) Exit(code int) {
	l.exitCode.Store(int32(code))
	l.exitRequested.Store(true)
	l.Interrupt()
}

// Run processes events until Exit is called or ctx is cancelled. It
// returns the code passed to Exit, or ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) (int, error) {
	stop := context.AfterFunc(ctx, l.Interrupt)
	defer stop()
	defer l.exitRequested.Store(false)

	for !l.exitRequested.Load() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := l.ProcessEvents(); err != nil {
			return 0, err
		}
	}
	return int(l.exitCode.Load()), nil
}

// ProcessEvents runs one loop iteration: it waits until a notifier is
// ready, a posted function is queued, the loop is interrupted, or the
// earliest timer expires, then dispatches everything that is ready.
//
// With no timers, no ready descriptors, and nothing posted, it blocks
// until the loop is interrupted.
func (l *Loop) ProcessEvents() error {
	if l.closed.Load() {
		return fmt.Errorf("eventloop: loop is closed: %w", fault.ErrArgument)
	}

	// Snapshot the watched set. Handlers may add, disable, or close
	// notifiers while we dispatch; the snapshot keeps indexes stable
	// and the per-notifier checks below skip anything that changed.
	active := make([]*Notifier, 0, len(l.notifiers))
	pollFDs := make([]unix.PollFd, 0, len(l.notifiers)+1)
	for _, notifier := range l.notifiers {
		if !notifier.enabled {
			continue
		}
		active = append(active, notifier)
		pollFDs = append(pollFDs, unix.PollFd{Fd: int32(notifier.fd), Events: int16(notifier.events)})
	}
	pollFDs = append(pollFDs, unix.PollFd{Fd: int32(l.wakeFD), Events: unix.POLLIN})

	count, err := l.poll(pollFDs)
	if err != nil {
		l.logger.Warn("poll failed", "error", err)
	} else if count > 0 {
		l.drainWake(pollFDs[len(pollFDs)-1])
		l.dispatchNotifiers(active, pollFDs[:len(pollFDs)-1])
	}

	l.runPosted()
	l.fireTimers()
	return nil
}

// poll waits on pollFDs with a timeout derived from the earliest
// timer. EINTR is retried.
func (l *Loop) poll(pollFDs []unix.PollFd) (int, error) {
	var timeout *unix.Timespec

	l.postMu.Lock()
	pending := len(l.posted) > 0
	l.postMu.Unlock()

	if pending {
		timeout = &unix.Timespec{}
	} else if len(l.timers) > 0 {
		remaining := clock.Until(l.clock, l.timers[0].deadline)
		spec := unix.NsecToTimespec(remaining.Nanoseconds())
		timeout = &spec
	}

	for {
		count, err := unix.Ppoll(pollFDs, timeout, nil)
		if err == unix.EINTR {
			continue
		}
		return count, err
	}
}

func (l *Loop) drainWake(wake unix.PollFd) {
	if wake.Revents&unix.POLLIN == 0 {
		return
	}
	var value [8]byte
	if _, err := unix.Read(l.wakeFD, value[:]); err != nil && err != unix.EAGAIN {
		l.logger.Warn("failed to drain eventfd", "error", err)
	}
}

func (l *Loop) dispatchNotifiers(active []*Notifier, pollFDs []unix.PollFd) {
	for index, pollFD := range pollFDs {
		if pollFD.Revents == 0 {
			continue
		}
		notifier := active[index]
		// An earlier handler in this iteration may have disabled or
		// closed this notifier.
		if !notifier.registered || !notifier.enabled {
			continue
		}

		revents := Events(pollFD.Revents)
		if revents.Has(Invalid) {
			l.logger.Warn("watched descriptor is invalid, disabling notifier", "fd", notifier.fd)
			notifier.enabled = false
			continue
		}
		notifier.handler(revents)
	}
}

func (l *Loop) runPosted() {
	l.postMu.Lock()
	posted := l.posted
	l.posted = nil
	l.postMu.Unlock()

	for _, f := range posted {
		f()
	}
}

// fireTimers runs every timer whose deadline has passed. The expired
// set is computed once up front, so a callback that restarts a timer
// with a zero duration fires it on the next iteration rather than
// spinning here.
func (l *Loop) fireTimers() {
	if len(l.timers) == 0 {
		return
	}
	now := l.clock.Now()

	var expired []*Timer
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		timer := l.timers[0]
		l.timers = l.timers[1:]
		timer.running = false
		timer.due = true
		expired = append(expired, timer)
	}

	for _, timer := range expired {
		// An earlier callback in this batch may have stopped or
		// restarted the timer.
		if !timer.due {
			continue
		}
		timer.due = false
		timer.callback()
	}
}

// Close releases the loop's eventfd and drops every notifier and timer.
// Descriptors watched by notifiers are not closed; they belong to
// whoever registered them. Close is idempotent.
func (l *Loop) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	for _, notifier := range l.notifiers {
		notifier.registered = false
		notifier.enabled = false
	}
	l.notifiers = nil
	for _, timer := range l.timers {
		timer.running = false
	}
	l.timers = nil

	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	err := unix.Close(l.wakeFD)
	l.wakeFD = -1
	if err != nil {
		return fmt.Errorf("eventloop: closing eventfd: %w", err)
	}
	return nil
}

// errDuplicateNotifier is returned by Watch when fd already has an
// active notifier on this loop.
var errDuplicateNotifier = errors.New("eventloop: descriptor already watched")

// Watch registers handler to run on the loop thread whenever fd is
// ready for any of events. Hangup, error, and invalid conditions are
// always reported by poll(2) and are passed to the handler in its
// argument. The notifier starts enabled.
func (l *Loop) Watch(fd int, events Events, handler func(Events)) (*Notifier, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("eventloop: loop is closed: %w", fault.ErrArgument)
	}
	if fd < 0 {
		return nil, fmt.Errorf("eventloop: invalid descriptor %d: %w", fd, fault.ErrArgument)
	}
	for _, existing := range l.notifiers {
		if existing.fd == fd {
			return nil, fmt.Errorf("%w (fd %d): %w", errDuplicateNotifier, fd, fault.ErrArgument)
		}
	}

	notifier := &Notifier{
		loop:       l,
		fd:         fd,
		events:     events,
		handler:    handler,
		enabled:    true,
		registered: true,
	}
	l.notifiers = append(l.notifiers, notifier)
	return notifier, nil
}

func (l *Loop) removeNotifier(target *Notifier) {
	for index, notifier := range l.notifiers {
		if notifier == target {
			l.notifiers = append(l.notifiers[:index], l.notifiers[index+1:]...)
			return
		}
	}
}

// NewTimer returns a stopped timer that runs callback on the loop
// thread when it expires.
func (l *Loop) NewTimer(callback func()) *Timer {
	return &Timer{loop: l, callback: callback}
}

func (l *Loop) scheduleTimer(timer *Timer) {
	// Keep the list sorted by deadline; equal deadlines fire in
	// scheduling order.
	for index, existing := range l.timers {
		if existing.deadline.After(timer.deadline) {
			l.timers = append(l.timers, nil)
			copy(l.timers[index+1:], l.timers[index:])
			l.timers[index] = timer
			return
		}
	}
	l.timers = append(l.timers, timer)
}

func (l *Loop) unscheduleTimer(target *Timer) {
	for index, timer := range l.timers {
		if timer == target {
			l.timers = append(l.timers[:index], l.timers[index+1:]...)
			return
		}
	}
}

// pendingTimers reports how many timers are scheduled. Used by tests.
func (l *Loop) pendingTimers() int { return len(l.timers) }
