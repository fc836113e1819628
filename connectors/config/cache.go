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

package config

import (
	"sync"
	"time"
)

// CacheEntry represents a cached value with expiration
type CacheEntry[T any] struct {
	Value      T
	ExpiresAt  time.Time
	LastUpdate time.Time
}

// IsExpiredAt checks if the cache entry has expired at now
func (e *CacheEntry[T]) IsExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	LastEviction time.Time
}

// TTLCache is a thread-safe map whose entries expire after a fixed TTL
type TTLCache[K comparable, V any] struct {
	entries map[K]*CacheEntry[V]
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	stats   CacheStats
}

// NewTTLCache creates a cache. A non-positive ttl selects 30s.
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TTLCache[K, V]{
		entries: make(map[K]*CacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the live value for key
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.IsExpiredAt(c.now()) {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return entry.Value, true
}

// Set stores value under key for one TTL
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &CacheEntry[V]{
		Value:      value,
		ExpiresAt:  now.Add(c.ttl),
		LastUpdate: now,
	}
}

// Delete evicts key
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Evictions++
		c.stats.LastEviction = c.now()
	}
}

// Clear evicts every entry
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += int64(len(c.entries))
	c.stats.LastEviction = c.now()
	c.entries = make(map[K]*CacheEntry[V])
}

// Stats returns a copy of the cache counters
func (c *TTLCache[K, V]) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
