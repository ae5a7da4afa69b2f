// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source behind event loop
// timers and call deadlines.
//
// Timers in Isolant are not goroutines: the event loop keeps a sorted
// list of deadlines, derives its poll(2) timeout from the earliest one,
// and fires expired timers on the loop thread. The loop therefore only
// needs to ask "what time is it". Production code uses [Real]; tests use
// [Fake], which stands still until Advance is called.
//
// # Waking a sleeping loop
//
// A loop blocked in poll(2) with a timeout computed from fake time would
// otherwise keep sleeping in real time after the test advances the
// clock. FakeClock therefore accepts advance hooks ([FakeClock.OnAdvance]);
// the event loop registers its interrupt there so that every Advance
// makes the loop recompute its deadlines:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	loop, _ := eventloop.New(eventloop.Config{Clock: c})
//	timer := loop.NewTimer(fire)
//	timer.Start(5 * time.Second)
//	c.Advance(5 * time.Second)
//	loop.ProcessEvents() // fires the timer without sleeping
package clock
