// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance or Set is called.
//
// FakeClock is safe for concurrent use: a test goroutine may advance
// the clock while a loop goroutine reads it.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	hooks   []func()
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d and runs every advance hook.
// Negative durations are ignored: loop deadlines assume time never
// runs backwards.
func (c *FakeClock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	// Hooks run without the lock so they may call Now.
	for _, hook := range hooks {
		hook()
	}
}

// Set moves the clock to t if t is later than the current time, then
// runs the advance hooks. Earlier times are ignored.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	if !t.After(c.current) {
		c.mu.Unlock()
		return
	}
	delta := t.Sub(c.current)
	c.mu.Unlock()
	c.Advance(delta)
}

// OnAdvance registers hook to run after every Advance. Hooks run in
// registration order on the advancing goroutine and must not block.
func (c *FakeClock) OnAdvance(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}
