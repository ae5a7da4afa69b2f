// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/isolant-project/isolant/lib/fault"
)

// Manager supervises named workers that share one event loop. Each
// worker has its own channel; messages on different channels are not
// ordered relative to each other.
type Manager struct {
	config  Config
	workers map[string]*Process
}

// NewManager returns an empty Manager. config is the template for
// every worker it starts; each worker's logger gains a "worker"
// attribute.
func NewManager(config Config) (*Manager, error) {
	if config.Loop == nil {
		return nil, fmt.Errorf("supervisor: config has no event loop: %w", fault.ErrArgument)
	}
	return &Manager{config: config, workers: make(map[string]*Process)}, nil
}

// Start spawns a worker under name. A name still held by a worker that
// has not exited is rejected with fault.ErrArgument; an exited
// worker's name is reused.
func (m *Manager) Start(name, path string, args []string) (*Process, error) {
	if existing, ok := m.workers[name]; ok && existing.Phase() != Exited {
		return nil, fmt.Errorf("supervisor: worker %q is %s: %w", name, existing.Phase(), fault.ErrArgument)
	}

	config := m.config
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Logger = config.Logger.With("worker", name)
	p, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := p.Start(path, args); err != nil {
		return nil, fmt.Errorf("worker %q: %w", name, err)
	}
	m.workers[name] = p
	return p, nil
}

// Get returns the worker started under name.
func (m *Manager) Get(name string) (*Process, bool) {
	p, ok := m.workers[name]
	return p, ok
}

// Names returns the worker names in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.workers))
	for name := range m.workers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StopAll stops every worker and runs the loop until all have exited
// or timeout elapses. It returns the exit status of each worker that
// exited, and an error wrapping fault.ErrTimeout naming any that did
// not.
func (m *Manager) StopAll(timeout time.Duration) (map[string]ExitStatus, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("supervisor: stop timeout %v must be positive: %w", timeout, fault.ErrArgument)
	}
	for _, name := range m.Names() {
		if err := m.workers[name].Stop(); err != nil {
			return nil, fmt.Errorf("stopping worker %q: %w", name, err)
		}
	}

	expired := false
	timer := m.config.Loop.NewTimer(func() { expired = true })
	timer.Start(timeout)
	defer timer.Stop()

	for !expired && !m.allExited() {
		if err := m.config.Loop.ProcessEvents(); err != nil {
			return nil, err
		}
	}

	statuses := make(map[string]ExitStatus, len(m.workers))
	var errs []error
	for _, name := range m.Names() {
		status, exited := m.workers[name].Status()
		if !exited {
			errs = append(errs, fmt.Errorf("worker %q still running after %v: %w", name, timeout, fault.ErrTimeout))
			continue
		}
		statuses[name] = status
	}
	return statuses, errors.Join(errs...)
}

func (m *Manager) allExited() bool {
	for _, p := range m.workers {
		if p.Phase() != Exited {
			return false
		}
	}
	return true
}
