// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop provides the single-threaded, poll(2)-based event
// loop that every Isolant process runs.
//
// A [Loop] multiplexes three kinds of sources:
//
//   - [Notifier]: a file descriptor watched for readiness. The channel
//     transport watches its socket; the supervisor watches each
//     worker's pidfd.
//   - [Timer]: a one-shot deadline measured against an injected
//     [clock.Clock]. Call deadlines and stop grace periods are timers.
//   - Posted functions ([Loop.Post]): work handed to the loop thread from
//     another goroutine, woken through an eventfd.
//
// [Loop.ProcessEvents] performs exactly one iteration: wait for the
// first ready source (or the earliest timer deadline), then run every
// ready notifier handler, every posted function, and every expired
// timer. Handlers never run concurrently with each other. Blocking
// operations built on top of the loop (the synchronous call adapter in
// lib/channel, supervisor waits) suspend by calling ProcessEvents
// repeatedly rather than blocking in a raw read, so unrelated sources
// keep being serviced while they wait.
//
// Loops are explicit objects, never process-wide singletons: tests run
// several independent loops concurrently, one per goroutine. Apart from
// Post, Interrupt, and Exit, a Loop and the notifiers and timers it
// owns must only be used from the goroutine that runs it.
package eventloop
