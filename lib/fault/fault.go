// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import "errors"

var (
	// ErrArgument reports a caller contract violation: an empty
	// payload, an oversized payload, binding an already-bound channel,
	// or issuing a call while another is outstanding.
	ErrArgument = errors.New("argument error")

	// ErrIO reports a socket read or write failure, including a peer
	// that has hung up (EPIPE, ECONNRESET, EOF).
	ErrIO = errors.New("i/o error")

	// ErrProtocol reports a malformed frame, a descriptor count that
	// disagrees with the frame header, or an unknown command tag.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout reports that a call deadline elapsed before a reply.
	ErrTimeout = errors.New("timeout")

	// ErrResource reports that the OS could not allocate something:
	// a socket pair, a descriptor, or a child process.
	ErrResource = errors.New("resource error")

	// ErrProcess reports an unexpected worker exit or an operation on a
	// worker that has already exited.
	ErrProcess = errors.New("process error")
)

// Kind names an error class for logging.
type Kind string

const (
	KindNone     Kind = ""
	KindArgument Kind = "argument"
	KindIO       Kind = "io"
	KindProtocol Kind = "protocol"
	KindTimeout  Kind = "timeout"
	KindResource Kind = "resource"
	KindProcess  Kind = "process"
	KindUnknown  Kind = "unknown"
)

// kinds is checked in order. Producers occasionally wrap two sentinels
// (a protocol error discovered during a read, say); the first match
// wins, so the more specific classes come first.
var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrArgument, KindArgument},
	{ErrProtocol, KindProtocol},
	{ErrTimeout, KindTimeout},
	{ErrResource, KindResource},
	{ErrProcess, KindProcess},
	{ErrIO, KindIO},
}

// KindOf returns the class of err. A nil error is KindNone; an error
// that wraps none of the sentinels is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kinds {
		if errors.Is(err, entry.sentinel) {
			return entry.kind
		}
	}
	return KindUnknown
}
