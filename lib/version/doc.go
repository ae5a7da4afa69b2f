// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of an Isolant binary is running.
//
// Release builds inject [Version], [Commit], [Modified] and [Built]
// with -ldflags -X. Development builds leave them empty and [Current]
// falls back to the VCS stamp that the go command embeds.
//
// [SelfDigest] hashes the running executable, so a log line can name
// the exact worker build even when nothing was injected.
package version
