// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Isolant supervises isolated worker processes over a SOCK_SEQPACKET
// control channel.
//
//	isolant selftest            verify the channel against a live worker
//	isolant run -- <cmd> [args] supervise one worker and exit with its code
//	isolant version             print version information
//
// Configuration comes from the file named by --config or
// ISOLANT_CONFIG; without either the built-in defaults apply.
package main
