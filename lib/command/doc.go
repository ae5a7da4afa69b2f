// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package command interprets the leading tag byte of control channel
// payloads.
//
// The worker side registers one [Handler] per tag on a [Dispatcher]
// and calls [Dispatcher.Serve] with its bound channel. Each inbound
// message is received, routed by tag, and the handler's response (if
// any) is sent back verbatim on the same channel. Handlers run on the
// loop thread, one at a time, in arrival order.
//
// Failures are fatal to a worker. A malformed frame or an unknown tag
// ends the process with process.ExitProtocol; any other handler error
// ends it with process.ExitFailure. The exit goes through the
// dispatcher's fatal hook so the worker runtime can stop its loop and
// release the channel first.
//
// The supervisor side uses a [Client], which wraps a channel.Caller
// and checks that every reply echoes the tag of its request.
package command
