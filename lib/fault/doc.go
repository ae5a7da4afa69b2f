// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error taxonomy shared by the channel,
// dispatcher, and supervisor packages.
//
// Each failure class is a sentinel error. Producers wrap the sentinel
// (and, where one exists, the underlying OS error) with fmt.Errorf and
// %w so that callers can classify with errors.Is while still seeing the
// full context in the message:
//
//	return fmt.Errorf("channel: sendmsg: %w: %w", fault.ErrIO, err)
//
// [KindOf] maps an arbitrary error back to its class for structured
// logging. The package has no Isolant-internal dependencies.
package fault
