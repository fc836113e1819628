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
	"testing"
	"time"
)

func TestTTLCacheGetSet(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("Expected miss on empty cache")
	}

	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Expected hit with 1, got %v %v", v, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, string](time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("sales", "descriptor")
	now = now.Add(500 * time.Millisecond)
	if _, ok := c.Get("sales"); !ok {
		t.Error("Expected entry to be live before TTL")
	}

	now = now.Add(time.Second)
	if _, ok := c.Get("sales"); ok {
		t.Error("Expected entry to expire after TTL")
	}
}

func TestTTLCacheDeleteAndClear(t *testing.T) {
	c := NewTTLCache[string, int](0)
	if c.ttl != 30*time.Second {
		t.Errorf("Expected default TTL 30s, got %s", c.ttl)
	}

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	c.Delete("missing")
	if _, ok := c.Get("a"); ok {
		t.Error("Expected a to be deleted")
	}

	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Error("Expected b to be cleared")
	}
	if got := c.Stats().Evictions; got != 2 {
		t.Errorf("Expected 2 evictions, got %d", got)
	}
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int, int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(i%5, i)
			c.Get(i % 5)
			if i%10 == 0 {
				c.Delete(i % 5)
			}
		}(i)
	}
	wg.Wait()
}
