// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

// Notifier watches one descriptor on a Loop. Created by Loop.Watch.
type Notifier struct {
	loop       *Loop
	fd         int
	events     Events
	handler    func(Events)
	enabled    bool
	registered bool
}

// FD returns the watched descriptor.
func (n *Notifier) FD() int { return n.fd }

// Enabled reports whether the notifier currently participates in
// polling.
func (n *Notifier) Enabled() bool { return n.registered && n.enabled }

// SetEnabled includes or excludes the notifier from polling without
// unregistering it. A disabled notifier keeps its descriptor reserved,
// and a handler that was already selected for the current iteration is
// skipped. No-op after Close.
func (n *Notifier) SetEnabled(enabled bool) {
	if !n.registered {
		return
	}
	n.enabled = enabled
}

// Close unregisters the notifier. The descriptor is not closed.
// Idempotent.
func (n *Notifier) Close() {
	if !n.registered {
		return
	}
	n.registered = false
	n.enabled = false
	n.loop.removeNotifier(n)
}
