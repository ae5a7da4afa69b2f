// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the runtime of an isolated worker process.
//
// A worker is started by the supervisor with its end of the control
// channel inherited at a known descriptor. [Worker.Run] binds that
// descriptor, serves commands through a command.Dispatcher on the
// worker's own event loop, and returns the exit code the process
// should end with. Handler failures stop the loop through the
// dispatcher's fatal hook, so the channel is always closed before the
// process exits.
//
// [RegisterBuiltins] installs the diagnostic command set from lib/ipc.
// [Main] is the complete entrypoint used by cmd/isolant-worker: it
// parses flags, routes diagnostics to the log file, and runs a worker
// with the built-ins.
package worker
