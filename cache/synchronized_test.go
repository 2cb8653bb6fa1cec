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

package cache_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/weakcache/cache"
)

type manifest struct {
	name     string
	revision int
}

func TestNewSynchronized_InvalidCapacity(t *testing.T) {
	g := NewWithT(t)
	c, err := cache.NewSynchronized[string, manifest](0)
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, cache.ErrInvalidCapacity)).To(BeTrue())
	g.Expect(c).To(BeNil())
}

func TestSynchronized_Lifecycle(t *testing.T) {
	g := NewWithT(t)
	c, err := cache.NewSynchronized[string, manifest](2)
	g.Expect(err).ToNot(HaveOccurred())

	a := &manifest{name: "a"}
	b := &manifest{name: "b"}
	c.Put("a", a)
	c.Put("b", b)
	g.Expect(c.Len()).To(Equal(2))
	g.Expect(c.Cap()).To(Equal(2))
	g.Expect(c.Contains("a")).To(BeTrue())

	got, ok := c.Peek("a")
	g.Expect(ok).To(BeTrue())
	g.Expect(got).To(BeIdenticalTo(a))

	got, ok = c.Get("a")
	g.Expect(ok).To(BeTrue())
	g.Expect(got).To(BeIdenticalTo(a))
	g.Expect(c.Keys()).To(Equal([]string{"a", "b"}))
	g.Expect(c.Reachable()).To(Equal(2))

	c.Delete("a")
	g.Expect(c.Keys()).To(Equal([]string{"b"}))
	g.Expect(c.Prune()).To(BeZero())

	evicted, err := c.Resize(1)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(evicted).To(BeZero())

	c.Purge()
	g.Expect(c.Len()).To(BeZero())
	runtime.KeepAlive([]*manifest{a, b})
}

func TestSynchronized_GetOrSet(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	c, err := cache.NewSynchronized[string, manifest](1)
	g.Expect(err).ToNot(HaveOccurred())

	m, retrieved, err := c.GetOrSet(ctx, "app", func(context.Context) (*manifest, error) {
		return &manifest{name: "app", revision: 1}, nil
	})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(retrieved).To(BeFalse())
	g.Expect(m).To(Equal(&manifest{name: "app", revision: 1}))

	m2, retrieved, err := c.GetOrSet(ctx, "app", func(context.Context) (*manifest, error) {
		return nil, errors.New("should not be called")
	})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(retrieved).To(BeTrue())
	g.Expect(m2).To(BeIdenticalTo(m))

	// A different key evicts app from the single slot.
	other, retrieved, err := c.GetOrSet(ctx, "other", func(context.Context) (*manifest, error) {
		return &manifest{name: "other"}, nil
	})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(retrieved).To(BeFalse())
	g.Expect(c.Keys()).To(Equal([]string{"other"}))

	m3, retrieved, err := c.GetOrSet(ctx, "app", func(context.Context) (*manifest, error) {
		return &manifest{name: "app", revision: 2}, nil
	})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(retrieved).To(BeFalse())
	g.Expect(m3.revision).To(Equal(2))
	runtime.KeepAlive([]*manifest{m, other, m3})
}

func TestSynchronized_GetOrSetError(t *testing.T) {
	g := NewWithT(t)

	c, err := cache.NewSynchronized[string, manifest](2)
	g.Expect(err).ToNot(HaveOccurred())

	fetchErr := errors.New("registry unavailable")
	m, retrieved, err := c.GetOrSet(context.Background(), "app", func(context.Context) (*manifest, error) {
		return nil, fetchErr
	})
	g.Expect(err).To(MatchError(fetchErr))
	g.Expect(retrieved).To(BeFalse())
	g.Expect(m).To(BeNil())
	g.Expect(c.Contains("app")).To(BeFalse())
}

func TestSynchronized_GetOrSetCancelled(t *testing.T) {
	g := NewWithT(t)

	c, err := cache.NewSynchronized[string, manifest](2)
	g.Expect(err).ToNot(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, _, err = c.GetOrSet(ctx, "app", func(context.Context) (*manifest, error) {
		called = true
		return &manifest{}, nil
	})
	g.Expect(err).To(MatchError(context.Canceled))
	g.Expect(called).To(BeFalse())
}

func TestSynchronized_GetOrSetCallerCancelled(t *testing.T) {
	g := NewWithT(t)

	c, err := cache.NewSynchronized[string, manifest](2)
	g.Expect(err).ToNot(HaveOccurred())

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fetch := func(ctx context.Context) (*manifest, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return &manifest{name: "app"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	type result struct {
		m   *manifest
		err error
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan result, 1)
	go func() {
		m, _, err := c.GetOrSet(firstCtx, "app", fetch)
		first <- result{m, err}
	}()
	<-started

	second := make(chan result, 1)
	go func() {
		m, _, err := c.GetOrSet(context.Background(), "app", fetch)
		second <- result{m, err}
	}()
	// Let the second caller join the running fetch.
	time.Sleep(50 * time.Millisecond)

	cancel()
	var r result
	g.Eventually(first).Should(Receive(&r))
	g.Expect(r.err).To(MatchError(context.Canceled))
	g.Expect(r.m).To(BeNil())

	close(release)
	g.Eventually(second).Should(Receive(&r))
	g.Expect(r.err).ToNot(HaveOccurred())
	g.Expect(r.m).ToNot(BeNil())
	g.Expect(r.m.name).To(Equal("app"))

	got, ok := c.Get("app")
	g.Expect(ok).To(BeTrue())
	g.Expect(got).To(BeIdenticalTo(r.m))
	runtime.KeepAlive(r.m)
}

func TestSynchronized_GetOrSetMixedKeyTypes(t *testing.T) {
	g := NewWithT(t)

	c, err := cache.NewSynchronized[any, string](4)
	g.Expect(err).ToNot(HaveOccurred())

	var fetches atomic.Int32
	release := make(chan struct{})
	fetchOf := func(value string) func(context.Context) (*string, error) {
		return func(context.Context) (*string, error) {
			fetches.Add(1)
			<-release
			return &value, nil
		}
	}

	keys := []any{"1", 1}
	want := []string{"string-one", "int-one"}
	results := make([]*string, len(keys))
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrSet(context.Background(), keys[i], fetchOf(want[i]))
			if err == nil {
				results[i] = v
			}
		}()
	}

	// Each key runs its own fetch.
	g.Eventually(fetches.Load).Should(BeEquivalentTo(2))
	close(release)
	wg.Wait()

	for i, key := range keys {
		g.Expect(results[i]).ToNot(BeNil())
		g.Expect(*results[i]).To(Equal(want[i]))

		got, ok := c.Get(key)
		g.Expect(ok).To(BeTrue())
		g.Expect(*got).To(Equal(want[i]))
	}
	g.Expect(c.Len()).To(Equal(2))
	runtime.KeepAlive(results)
}

func TestSynchronized_GetOrSetCoalesces(t *testing.T) {
	const callers = 50
	g := NewWithT(t)

	c, err := cache.NewSynchronized[int, manifest](4)
	g.Expect(err).ToNot(HaveOccurred())

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (*manifest, error) {
		fetches.Add(1)
		<-release
		return &manifest{name: "shared"}, nil
	}

	results := make([]*manifest, callers)
	var started, done sync.WaitGroup
	for i := range callers {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			m, _, err := c.GetOrSet(context.Background(), 7, fetch)
			if err == nil {
				results[i] = m
			}
		}()
	}
	started.Wait()
	g.Eventually(fetches.Load).Should(BeNumerically(">=", 1))
	close(release)
	done.Wait()

	g.Expect(fetches.Load()).To(BeNumerically("<=", callers))
	for _, m := range results {
		g.Expect(m).ToNot(BeNil())
		g.Expect(m.name).To(Equal("shared"))
	}
	g.Expect(c.Len()).To(Equal(1))
	runtime.KeepAlive(results)
}

func TestSynchronized_Concurrent(t *testing.T) {
	const (
		concurrency = 500
		keysNum     = 10
	)
	g := NewWithT(t)
	c, err := cache.NewSynchronized[string, manifest](10,
		cache.WithMetricsRegisterer(prometheus.NewPedanticRegistry()))
	g.Expect(err).ToNot(HaveOccurred())

	keymap := map[int]string{}
	values := map[int]*manifest{}
	for i := 0; i < keysNum; i++ {
		key := fmt.Sprintf("test-%d", i)
		keymap[i] = key
		values[i] = &manifest{name: key}
	}

	wg := sync.WaitGroup{}
	run := make(chan bool)

	// simulate concurrent read and write
	for i := 0; i < concurrency; i++ {
		key := rand.IntN(keysNum)
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Put(keymap[key], values[key])
		}()
		go func() {
			defer wg.Done()
			<-run
			_, _ = c.Get(keymap[key])
		}()
	}
	close(run)
	wg.Wait()

	g.Expect(c.Len()).To(BeNumerically("<=", keysNum))
	for _, key := range c.Keys() {
		val, ok := c.Get(key)
		g.Expect(ok).To(BeTrue())
		g.Expect(val.name).To(Equal(key))
	}
	runtime.KeepAlive(values)
}
