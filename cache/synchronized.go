/*
Copyright 2026 The Flux authors

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

package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Synchronized is a thread-safe WeakLRU. Every method takes the same mutex
// for its whole duration, lookups included, because a hit reorders the
// recency list.
type Synchronized[K comparable, V any] struct {
	lru   *WeakLRU[K, V]
	mu    sync.Mutex
	group singleflight.Group
}

var _ Store[string, any] = &Synchronized[string, any]{}

// NewSynchronized returns a new Synchronized cache with the given capacity.
// It fails like NewWeakLRU.
func NewSynchronized[K comparable, V any](capacity int, opts ...Options) (*Synchronized[K, V], error) {
	lru, err := NewWeakLRU[K, V](capacity, opts...)
	if err != nil {
		return nil, err
	}
	return &Synchronized[K, V]{lru: lru}, nil
}

// Put stores a weak pointer to value under key. See WeakLRU.Put.
func (c *Synchronized[K, V]) Put(key K, value *V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Put(key, value)
}

// Get returns the value stored for key. See WeakLRU.Get.
func (c *Synchronized[K, V]) Get(key K) (*V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Peek returns the value stored for key without changing the recency order.
func (c *Synchronized[K, V]) Peek(key K) (*V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Contains reports whether key occupies a slot.
func (c *Synchronized[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Delete removes key from the cache.
func (c *Synchronized[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Delete(key)
}

// Len returns the number of occupied slots, reclaimed values included.
func (c *Synchronized[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cap returns the maximum number of slots.
func (c *Synchronized[K, V]) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Cap()
}

// Keys returns the keys from the most to the least recently used.
func (c *Synchronized[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Reachable returns the number of slots whose value has not been reclaimed.
func (c *Synchronized[K, V]) Reachable() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Reachable()
}

// Prune removes every slot whose value has been reclaimed.
func (c *Synchronized[K, V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Prune()
}

// Purge removes every key from the cache.
func (c *Synchronized[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Resize changes the capacity and returns the number of evicted keys.
func (c *Synchronized[K, V]) Resize(capacity int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Resize(capacity)
}

// GetOrSet returns the value for the given key if it is present and still
// reachable, or calls fetch to get a new value and stores it in the cache.
// The boolean return value indicates whether the value was retrieved from the
// cache.
//
// Concurrent calls for the same key share a single fetch. The mutex is not
// held while fetch runs. The shared fetch runs under a context that keeps the
// values of the caller that started it but is never cancelled, so one caller
// giving up does not fail the others. Each caller stops waiting as soon as its
// own ctx is done and gets ctx.Err(). The returned pointer is the only thing
// keeping a fetched value alive: the caller becomes its owner.
//
// If fetch fails nothing is stored and the error is returned as is.
func (c *Synchronized[K, V]) GetOrSet(ctx context.Context,
	key K,
	fetch func(context.Context) (*V, error),
) (*V, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(key), func() (any, error) {
		// Another flight may have stored the value since the miss above.
		if value, ok := c.Peek(key); ok {
			return value, nil
		}
		value, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.Put(key, value)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*V), false, nil
	}
}

// flightKey maps a cache key to the string used to coalesce fetches. The
// dynamic type is part of the result so that keys of different types never
// share a fetch when K is an interface.
func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%T/%#v", key, key)
}
