/*
Copyright 2025 The Jib Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache implements the bounded LRU cache the policy engine keeps
// over remote PR state. The cache itself has no notion of freshness; every
// value carries the time it was fetched and callers compare that against
// their own staleness threshold.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// ValConstructor knows how to build the value for a key on a miss.
type ValConstructor func() (interface{}, error)

// LRUCache is a concurrency-safe fixed-capacity cache. Setting an existing
// key moves it to most-recently-used; inserting above capacity evicts the
// least-recently-used entry.
type LRUCache struct {
	cache *lru.Cache
}

// NewLRUCache returns a cache of the given fixed capacity.
func NewLRUCache(size int) (*LRUCache, error) {
	if size < 1 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: cache}, nil
}

// Get returns the value stored under key, if any.
func (c *LRUCache) Get(key interface{}) (interface{}, bool) {
	return c.cache.Get(key)
}

// Set stores val under key, evicting the oldest entry if the cache is at
// capacity.
func (c *LRUCache) Set(key, val interface{}) {
	c.cache.Add(key, val)
}

// Remove drops key from the cache. Callers use this to treat a stale entry
// as absent.
func (c *LRUCache) Remove(key interface{}) {
	c.cache.Remove(key)
}

// GetOrAdd returns the cached value for key, constructing and caching it
// with valConstructor on a miss. Two goroutines racing on the same absent
// key may both invoke the constructor; both end up observing a cached
// value (last write wins). A constructor error caches nothing, so a key
// that is present is never partially filled.
func (c *LRUCache) GetOrAdd(key interface{}, valConstructor ValConstructor) (interface{}, error) {
	if val, ok := c.cache.Get(key); ok {
		return val, nil
	}
	val, err := valConstructor()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, val)
	return val, nil
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	return c.cache.Len()
}
