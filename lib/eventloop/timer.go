// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import "time"

// Timer is a one-shot deadline on a Loop. Created by Loop.NewTimer.
// The callback runs on the loop thread from ProcessEvents.
type Timer struct {
	loop     *Loop
	callback func()
	deadline time.Time
	running  bool

	// due is set while the timer sits in the expired batch of the
	// current iteration and cleared by Stop or Start, so a timer
	// cancelled by an earlier callback in the same batch does not
	// fire.
	due bool
}

// Start (re)arms the timer to fire d from now, measured on the loop's
// clock. A running timer is rescheduled.
func (t *Timer) Start(d time.Duration) {
	t.StartAt(t.loop.clock.Now().Add(d))
}

// StartAt (re)arms the timer to fire at deadline.
func (t *Timer) StartAt(deadline time.Time) {
	t.Stop()
	t.deadline = deadline
	t.running = true
	t.loop.scheduleTimer(t)
}

// Stop cancels the timer. Idempotent.
func (t *Timer) Stop() {
	t.due = false
	if !t.running {
		return
	}
	t.running = false
	t.loop.unscheduleTimer(t)
}

// Running reports whether the timer is armed and has not fired yet.
func (t *Timer) Running() bool { return t.running }

// Deadline returns the time the timer was last armed for.
func (t *Timer) Deadline() time.Time { return t.deadline }
