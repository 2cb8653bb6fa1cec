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

// Package cache provides a Store interface for a cache store, along with a
// bounded least recently used cache that only holds weak references to the
// values stored in it (WeakLRU).
//
// Two independent forces remove values from a WeakLRU. The capacity policy
// evicts the least recently used key once the slot limit is exceeded, and the
// garbage collector may reclaim a value at any time once nothing outside the
// cache holds a pointer to it. A reclaimed value keeps its slot and its
// position in the recency order; a lookup on it reports a miss.
//
// The cache is generic over the key and the value type. Values are stored as
// pointers and the caller stays their owner:
//
//	c, err := NewWeakLRU[string, Manifest](10)
//	...
//	m := &Manifest{...}
//	c.Put("app", m)
//	got, ok := c.Get("app") // ok while m is reachable elsewhere
//
// WeakLRU is not safe for concurrent use. Synchronized wraps it with a single
// mutex and adds GetOrSet for memoized lookups:
//
//	c, err := NewSynchronized[string, Manifest](10, WithMetricsRegisterer(reg))
//	m, hit, err := c.GetOrSet(ctx, "app", fetchManifest)
//
// The cache implementations are self-instrumenting and export metrics about
// the internal operations of the cache if configured with a metrics
// registerer.
package cache
