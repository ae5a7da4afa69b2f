// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first. Tests that run an
// event loop on another goroutine use it to bound how long they wait
// for the loop to report back. about is formatted with fmt.Sprint
// or, when it starts with a string, fmt.Sprintf.
//
//	code := testutil.RequireReceive(t, exited, 5*time.Second, "waiting for worker exit")
func RequireReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration, about ...any) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed before a value arrived (%s)", describe(about))
		}
		return v
	case <-timer.C:
		t.Fatalf("nothing received within %v (%s)", timeout, describe(about))
	}
	panic("unreachable")
}

func describe(about []any) string {
	if len(about) == 0 {
		return "no context"
	}
	if format, ok := about[0].(string); ok && len(about) > 1 {
		return fmt.Sprintf(format, about[1:]...)
	}
	return fmt.Sprint(about...)
}
