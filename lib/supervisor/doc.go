// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor spawns worker processes, wires each one's control
// channel, and reports how it terminated.
//
// A [Process] moves through Starting, Running, Stopping, and Exited.
// [Process.Start] creates a socket pair, execs the worker with the peer
// end at descriptor 3, and keeps the local end bound to a
// [channel.Channel] on the caller's event loop. Termination is observed
// through a pidfd watched on that same loop, so exit handling never
// runs concurrently with channel callbacks. Kernels without pidfd
// support fall back to a goroutine blocked in wait4 that posts the
// status back to the loop. Either way the Process is the only reaper
// of its pid and produces exactly one [ExitStatus].
//
// [Process.Stop] asks the worker to exit over the channel and
// escalates to SIGTERM and then SIGKILL when the grace periods lapse.
// [Manager] keeps several named workers on one loop.
package supervisor
