// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source consulted by event loop timers.
type Clock interface {
	// Now returns the current time. Real clocks carry a monotonic
	// reading so deadlines are immune to wall-clock steps.
	Now() time.Time
}

// Advancer is implemented by clocks whose time moves in discrete steps
// under test control. The event loop registers an interrupt hook so
// that it wakes whenever time moves.
type Advancer interface {
	OnAdvance(hook func())
}

// Until returns the duration from c.Now() to deadline, clamped at
// zero.
func Until(c Clock, deadline time.Time) time.Duration {
	remaining := deadline.Sub(c.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
