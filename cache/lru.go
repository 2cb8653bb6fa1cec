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
	"fmt"
	"weak"

	"github.com/go-logr/logr"

	"github.com/fluxcd/weakcache/logger"
)

// node is a node in a doubly linked list
// that is used to implement an LRU cache
type node[K comparable, V any] struct {
	key    K
	handle weak.Pointer[V]
	prev   *node[K, V]
	next   *node[K, V]
}

func (n *node[K, V]) addNext(node *node[K, V]) {
	n.next = node
}

func (n *node[K, V]) addPrev(node *node[K, V]) {
	n.prev = node
}

// WeakLRU is a bounded in-memory key/value store that evicts the least
// recently used key once its capacity is reached and holds its values through
// weak pointers only. A value stays retrievable for as long as the caller, or
// anything else, keeps a pointer to it. Once the garbage collector reclaims
// it, Get reports a miss while the key keeps its slot and its position in the
// recency order.
//
// WeakLRU is not safe for concurrent use: Get reorders the recency list, so
// every method is a writer. Use Synchronized when the cache is shared between
// goroutines.
//
// All operations except Keys, Prune and Reachable are O(1). The hash map
// lookup is O(1) and so is the doubly linked list insertion/deletion.
//
// The recency order is a doubly linked list between two sentinels. The least
// recently used key sits right after HEAD and the most recently used one
// right before TAIL. Touching a key moves it in front of TAIL; overflowing
// the capacity removes the node after HEAD.
//
//	                                  Cache
//	           ┌───────────────────────────────────────────────────┐
//	           │  coldest                                 freshest │
//	  empty    │     obj         obj          obj          obj     │    empty
//	┌───────┐  │  ┌───────┐   ┌───────┐     ┌───────┐   ┌───────┐  │  ┌───────┐
//	│       │  │  │       │   │       │ ... │       │   │       │  │  │       │
//	│ HEAD  │◄─┼─►│  weak │◄─►│  weak │◄───►│  weak │◄─►│  weak │◄─┼─►│ TAIL  │
//	│       │  │  │       │   │       │     │       │   │       │  │  │       │
//	└───────┘  │  └───────┘   └───────┘     └───────┘   └───────┘  │  └───────┘
//	           │                                                   │
//	           └───────────────────────────────────────────────────┘
//
// Use the NewWeakLRU function to create a new cache that is ready to use.
type WeakLRU[K comparable, V any] struct {
	index    map[K]*node[K, V]
	capacity int
	head     *node[K, V]
	tail     *node[K, V]

	metrics        *cacheMetrics
	log            logr.Logger
	purgeReclaimed bool
}

var _ Store[string, any] = &WeakLRU[string, any]{}

// NewWeakLRU creates a new WeakLRU cache holding at most capacity keys.
// A capacity lower than 1 returns an error matching ErrInvalidCapacity.
func NewWeakLRU[K comparable, V any](capacity int, opts ...Options) (*WeakLRU[K, V], error) {
	if capacity < 1 {
		return nil, invalidCapacity(capacity)
	}

	opt, err := makeOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to apply options: %w", err)
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.addNext(tail)
	tail.addPrev(head)

	lru := &WeakLRU[K, V]{
		index:          make(map[K]*node[K, V], capacity),
		capacity:       capacity,
		head:           head,
		tail:           tail,
		log:            opt.log,
		purgeReclaimed: opt.purgeReclaimed,
	}

	if opt.registerer != nil {
		lru.metrics = newCacheMetrics(opt.metricsPrefix, opt.registerer)
	}

	return lru, nil
}

// Put stores a weak pointer to value under key and marks key as the most
// recently used. An existing key keeps its slot and gets the new pointer.
// A new key added to a full cache first evicts the least recently used key.
//
// The cache does not keep value alive. Values smaller than 16 bytes that
// contain no pointers may share an allocation with other values, in which
// case their reclamation is delayed until the whole allocation is unreachable.
func (c *WeakLRU[K, V]) Put(key K, value *V) {
	handle := weak.Make(value)

	if n, ok := c.index[key]; ok {
		n.handle = handle
		c.moveToBack(n)
		recordRequest(c.metrics, StatusSuccess)
		return
	}

	if len(c.index) >= c.capacity {
		c.evict(c.head.next)
	}
	c.pushBack(&node[K, V]{key: key, handle: handle})
	recordRequest(c.metrics, StatusSuccess)
	recordItemIncrement(c.metrics)
}

// Get returns the value stored for key and marks key as the most recently
// used. It returns false if key is absent or if its value has been reclaimed;
// a reclaimed key keeps its position in the recency order.
func (c *WeakLRU[K, V]) Get(key K) (*V, bool) {
	recordRequest(c.metrics, StatusSuccess)
	n, ok := c.index[key]
	if !ok {
		recordEvent(c.metrics, CacheEventTypeMiss)
		return nil, false
	}

	value := n.handle.Value()
	if value == nil {
		recordEvent(c.metrics, CacheEventTypeMiss)
		recordReclaimed(c.metrics)
		c.log.V(logger.DebugLevel).Info("cached value has been reclaimed", "key", key)
		c.dropReclaimed(n)
		return nil, false
	}

	c.moveToBack(n)
	recordEvent(c.metrics, CacheEventTypeHit)
	return value, true
}

// Peek returns the value stored for key without changing the recency order.
// Unlike Get it records no hit, miss or reclaimed event.
func (c *WeakLRU[K, V]) Peek(key K) (*V, bool) {
	recordRequest(c.metrics, StatusSuccess)
	n, ok := c.index[key]
	if !ok {
		return nil, false
	}
	value := n.handle.Value()
	if value == nil {
		c.dropReclaimed(n)
		return nil, false
	}
	return value, true
}

// Contains reports whether key occupies a slot, whether or not its value is
// still reachable. It does not change the recency order.
func (c *WeakLRU[K, V]) Contains(key K) bool {
	_, ok := c.index[key]
	return ok
}

// Delete removes key from the cache. Deleting an absent key is a no-op.
func (c *WeakLRU[K, V]) Delete(key K) {
	recordRequest(c.metrics, StatusSuccess)
	n, ok := c.index[key]
	if !ok {
		return
	}
	c.delete(n)
	recordDecrement(c.metrics)
}

// Len returns the number of occupied slots, reclaimed values included.
func (c *WeakLRU[K, V]) Len() int {
	return len(c.index)
}

// Cap returns the maximum number of slots.
func (c *WeakLRU[K, V]) Cap() int {
	return c.capacity
}

// Keys returns the keys in the cache, from the most to the least recently
// used.
func (c *WeakLRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.index))
	for n := c.tail.prev; n != c.head; n = n.prev {
		keys = append(keys, n.key)
	}
	recordRequest(c.metrics, StatusSuccess)
	return keys
}

// Reachable returns the number of slots whose value has not been reclaimed.
func (c *WeakLRU[K, V]) Reachable() int {
	count := 0
	for n := c.head.next; n != c.tail; n = n.next {
		if n.handle.Value() != nil {
			count++
		}
	}
	return count
}

// Prune removes every slot whose value has been reclaimed and returns the
// number of slots removed.
func (c *WeakLRU[K, V]) Prune() int {
	pruned := 0
	for n := c.head.next; n != c.tail; {
		next := n.next
		if n.handle.Value() == nil {
			c.delete(n)
			recordDecrement(c.metrics)
			pruned++
		}
		n = next
	}
	recordRequest(c.metrics, StatusSuccess)
	return pruned
}

// Purge removes every key from the cache.
func (c *WeakLRU[K, V]) Purge() {
	for n := c.head.next; n != c.tail; {
		next := n.next
		n.next, n.prev = nil, nil
		n = next
	}
	c.head.addNext(c.tail)
	c.tail.addPrev(c.head)
	c.index = make(map[K]*node[K, V], c.capacity)
	recordRequest(c.metrics, StatusSuccess)
	recordItems(c.metrics, 0)
}

// Resize changes the capacity of the cache and returns the number of least
// recently used keys evicted to fit the new capacity.
func (c *WeakLRU[K, V]) Resize(capacity int) (int, error) {
	if capacity < 1 {
		recordRequest(c.metrics, StatusFailure)
		return 0, invalidCapacity(capacity)
	}

	overflow := len(c.index) - capacity
	c.capacity = capacity
	for i := 0; i < overflow; i++ {
		c.evict(c.head.next)
	}
	recordRequest(c.metrics, StatusSuccess)
	if overflow < 0 {
		return 0, nil
	}
	return overflow, nil
}

func (c *WeakLRU[K, V]) evict(n *node[K, V]) {
	c.log.V(logger.TraceLevel).Info("evicting least recently used key", "key", n.key)
	c.delete(n)
	recordEviction(c.metrics)
	recordDecrement(c.metrics)
}

func (c *WeakLRU[K, V]) dropReclaimed(n *node[K, V]) {
	if !c.purgeReclaimed {
		return
	}
	c.delete(n)
	recordDecrement(c.metrics)
}

func (c *WeakLRU[K, V]) pushBack(n *node[K, V]) {
	prev := c.tail.prev
	prev.addNext(n)
	c.tail.addPrev(n)
	n.addPrev(prev)
	n.addNext(c.tail)
	c.index[n.key] = n
}

func (c *WeakLRU[K, V]) moveToBack(n *node[K, V]) {
	if n.next == c.tail {
		return
	}
	n.prev.next, n.next.prev = n.next, n.prev
	c.pushBack(n)
}

func (c *WeakLRU[K, V]) delete(n *node[K, V]) {
	n.prev.next, n.next.prev = n.next, n.prev
	n.next, n.prev = nil, nil // avoid memory leaks
	delete(c.index, n.key)
}
