// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the control channel between a supervisor
// and an isolated worker process: a SOCK_SEQPACKET Unix-domain socket
// carrying opaque payloads together with open file descriptors.
//
// Each [Payload] travels as exactly one socket record:
//
//	[u32 dataLength LE][u32 fileCount LE][data...] + SCM_RIGHTS(files...)
//
// The first data byte is the command tag. The channel itself never
// looks past it; interpretation belongs to lib/command.
//
// A [Channel] is driven by an eventloop.Loop. The loop thread is told
// about each complete inbound message once through the OnReadyRead
// callback, and the read notifier stays disabled until the consumer
// calls [Channel.Receive], so an unconsumed message never re-fires.
// Peer hangup is reported once through OnDisconnected.
//
// Ownership of descriptors is explicit. [Channel.Send] consumes the
// payload's files: the kernel duplicates them into the message and the
// sender's handles are closed, including when the send fails with an
// I/O error. Only argument errors leave the payload untouched.
// Received payloads own their files; release them with
// [Payload.Close] or hand them on.
//
// [Caller] layers blocking request/response calls on top of a Channel
// without blocking the loop: it drives ProcessEvents until the reply,
// a deadline, or a disconnect ends the call.
package channel
