// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes BLAKE3 content digests of files.
//
// The worker's digest command hashes every descriptor it is handed,
// the selftest battery recomputes the same digests locally to check
// the round trip, and the supervisor records the digest of each worker
// binary it starts so log readers can tell which build ran.
//
//   - [HashFile] and [HashReader] stream content through BLAKE3 with
//     constant memory use
//   - [FormatDigest] and [ParseDigest] convert to and from the
//     hex form used in log output
//
// This package has no dependencies on other Isolant packages.
package binhash
