// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package selftest drives a live worker through every built-in command
// and verifies the results on the supervisor side: byte reversal,
// descriptor order, size accounting, delayed replies, late-reply
// discarding after a timeout, BLAKE3 digests, and zstd and LZ4 round
// trips. It backs the "isolant selftest" command.
package selftest
