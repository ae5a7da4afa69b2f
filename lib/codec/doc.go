// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used for command
// bodies on the control channel.
//
// Encoding is Core Deterministic (RFC 8949 §4.2) so the same request
// always produces the same bytes, which keeps digests of request
// bodies stable and makes wire captures diffable. Decoding is bounded
// because bodies arrive from a process that is isolated precisely
// because it is not trusted: nesting depth, array length, and map size
// are capped and duplicate map keys are rejected.
//
// Both sides import this package rather than fxamacker/cbor directly,
// so the configuration cannot drift between supervisor and worker.
package codec
