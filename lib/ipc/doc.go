// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the worker command set: the tag byte that leads
// every payload and the CBOR bodies that follow it. Both
// cmd/isolant-worker and the supervisor side (lib/selftest,
// cmd/isolant) import this package so the command table is defined
// once rather than mirrored.
//
// Every command except Reverse carries a CBOR body (possibly empty).
// Reverse carries raw bytes so that its reply can be checked byte for
// byte. Replies echo the request tag.
package ipc
