// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Isolant
// binaries and the exit-code table shared by the supervisor and its
// workers.
//
// The supervisor classifies a worker's termination from its exit code,
// so the codes here are part of the contract between the two sides:
// a worker that rejects a malformed frame exits [ExitProtocol], one
// that cannot bind its inherited channel exits [ExitChannel].
//
// [Fatal] is the one place raw output goes to stderr, for errors that
// happen before the structured logger is configured.
package process
