// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/descriptor"
	"sqlbridge/shared/logger"
)

// DefaultAcquireTimeout bounds the wait for a free slot when a pool is at capacity
const DefaultAcquireTimeout = 15 * time.Second

// Manager owns one Pool per target. Pools are created on first use and
// replaced when a target's descriptor changes.
type Manager struct {
	opener         Opener
	observer       Observer
	acquireTimeout time.Duration
	logger         *logger.Logger

	mu    sync.Mutex
	pools map[string]*Pool
}

// forgetter is implemented by openers that keep per-descriptor driver state
type forgetter interface {
	Forget(d descriptor.Normalized) error
}

// NewManager creates a pool manager. A negative acquireTimeout selects
// DefaultAcquireTimeout; zero makes Acquire fail fast at capacity.
func NewManager(opener Opener, observer Observer, acquireTimeout time.Duration) *Manager {
	if acquireTimeout < 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Manager{
		opener:         opener,
		observer:       observer,
		acquireTimeout: acquireTimeout,
		logger:         logger.New("pool"),
		pools:          make(map[string]*Pool),
	}
}

// Get returns the pool serving target, creating it on first use. When the
// target's descriptor changed, the old pool is retired after the lock is
// released so other targets are not held up by its shutdown.
func (m *Manager) Get(target base.Target) (*Pool, error) {
	m.mu.Lock()
	old, ok := m.pools[target.Name]
	if ok && old.Descriptor() == target.Descriptor {
		m.mu.Unlock()
		return old, nil
	}

	p, err := New(ConfigFor(target.Name, target.Descriptor, m.acquireTimeout), m.opener, m.observer)
	if err == nil {
		m.pools[target.Name] = p
	} else if ok {
		delete(m.pools, target.Name)
	}
	m.mu.Unlock()

	if ok {
		m.retire(target.Name, old)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for %s: %w", target.Name, err)
	}
	return p, nil
}

// retire closes a pool whose descriptor is no longer current
func (m *Manager) retire(name string, p *Pool) {
	p.Close()
	if f, ok := m.opener.(forgetter); ok {
		if err := f.Forget(p.Descriptor()); err != nil {
			m.logger.Warn(name, "", "Failed to close retired driver handle", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	m.logger.Info(name, "", "Descriptor changed, pool replaced", nil)
}

// Clear purges the pool of the named target if it exists
func (m *Manager) Clear(name string) bool {
	m.mu.Lock()
	p, ok := m.pools[name]
	m.mu.Unlock()
	if ok {
		p.Clear()
	}
	return ok
}

// ClearAll purges every pool
func (m *Manager) ClearAll() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		p.Clear()
	}
}

// Stats returns the counters of every pool sorted by target name
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Close closes every pool
func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
