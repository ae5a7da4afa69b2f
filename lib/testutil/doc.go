// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Isolant packages.
//
// [RequireReceive] bounds a wait on a Go channel so that a hung event
// loop fails the test instead of stalling the suite. Timer behaviour
// itself is tested against clock.Fake.
//
// [RunHelper] and [HelperCommand] implement the self re-exec pattern
// used by supervisor and worker tests: the test binary is started
// again as a child process and TestMain dispatches it to a named
// helper mode instead of running the tests.
//
// [LogDir] returns a short temporary directory for log files and
// other artifacts that a child process writes. [TempFileWithContent]
// returns an open file with known contents for descriptor-passing
// tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
