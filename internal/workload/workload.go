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

// Package workload drives a weak cache the way a surrounding service would:
// workers memoize object lookups through the cache while an owner pool keeps
// some of the objects alive and periodically lets them go.
package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/fluxcd/weakcache/logger"
)

const payloadSize = 256

// Object is the value produced on a cache miss.
type Object struct {
	Key        string
	Generation uint64
	Payload    []byte
}

// Cache is the part of the cache API the workload depends on.
type Cache interface {
	GetOrSet(ctx context.Context, key string, fetch func(context.Context) (*Object, error)) (*Object, bool, error)
}

// Stats summarizes a workload run. Hits plus Misses always equals Requests.
type Stats struct {
	Requests uint64
	Hits     uint64
	Misses   uint64
	Fetches  uint64
	Released uint64
}

// HitRatio returns the share of requests served from the cache.
func (s Stats) HitRatio() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Requests)
}

// Driver runs a workload against a Cache.
type Driver struct {
	opts    Options
	cache   Cache
	log     logr.Logger
	owners  *owners
	metrics *workloadMetrics

	requests   atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
	fetches    atomic.Uint64
	generation atomic.Uint64
}

// New returns a Driver for the given cache. Metrics are registered with reg
// when it is not nil.
func New(opts Options, c Cache, log logr.Logger, reg prometheus.Registerer) (*Driver, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload options: %w", err)
	}
	d := &Driver{
		opts:   opts,
		cache:  c,
		log:    log,
		owners: newOwners(),
	}
	if reg != nil {
		d.metrics = newWorkloadMetrics(reg)
	}
	return d, nil
}

// Run issues lookups until the configured duration elapses or ctx is done,
// and returns the statistics of the run. Reaching the end of the run is not
// an error; a failing fetch is.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	if d.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Duration)
		defer cancel()
	}

	d.log.Info("starting workload",
		"keys", d.opts.Keys,
		"workers", d.opts.Workers,
		"duration", d.opts.Duration.String(),
		"retainRatio", d.opts.RetainRatio)

	g, ctx := errgroup.WithContext(ctx)
	for i := range d.opts.Workers {
		rng := rand.New(rand.NewPCG(d.opts.Seed, uint64(i)))
		g.Go(func() error {
			return d.work(ctx, rng)
		})
	}
	if d.opts.ReleaseInterval > 0 {
		rng := rand.New(rand.NewPCG(d.opts.Seed, uint64(d.opts.Workers)))
		g.Go(func() error {
			d.every(ctx, d.opts.ReleaseInterval, func() {
				n := d.owners.release(rng)
				d.log.V(logger.DebugLevel).Info("released owned objects", "count", n)
				d.metrics.released(n, d.owners.len())
			})
			return nil
		})
	}
	if d.opts.GCInterval > 0 {
		g.Go(func() error {
			d.every(ctx, d.opts.GCInterval, runtime.GC)
			return nil
		})
	}

	err := g.Wait()
	stats := d.Stats()
	if err != nil {
		return stats, err
	}
	d.log.Info("workload finished",
		"requests", stats.Requests,
		"hits", stats.Hits,
		"misses", stats.Misses,
		"released", stats.Released,
		"hitRatio", strconv.FormatFloat(stats.HitRatio(), 'f', 3, 64))
	return stats, nil
}

// Stats returns the statistics collected so far.
func (d *Driver) Stats() Stats {
	return Stats{
		Requests: d.requests.Load(),
		Hits:     d.hits.Load(),
		Misses:   d.misses.Load(),
		Fetches:  d.fetches.Load(),
		Released: d.owners.released.Load(),
	}
}

// ReleaseAll drops every owned object, leaving the cached values reclaimable.
func (d *Driver) ReleaseAll() int {
	n := d.owners.releaseAll()
	d.metrics.released(n, 0)
	return n
}

func (d *Driver) work(ctx context.Context, rng *rand.Rand) error {
	zipf := rand.NewZipf(rng, 1.1, 1, uint64(d.opts.Keys-1))
	for ctx.Err() == nil {
		key := "object-" + strconv.FormatUint(zipf.Uint64(), 10)
		obj, hit, err := d.cache.GetOrSet(ctx, key, func(ctx context.Context) (*Object, error) {
			return d.fetch(ctx, key)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to get %s: %w", key, err)
		}

		d.requests.Add(1)
		if hit {
			d.hits.Add(1)
			continue
		}
		d.misses.Add(1)
		if rng.Float64() < d.opts.RetainRatio {
			d.owners.retain(obj)
			d.metrics.retained(d.owners.len())
		}
	}
	return nil
}

func (d *Driver) fetch(ctx context.Context, key string) (*Object, error) {
	if d.opts.FetchLatency > 0 {
		t := time.NewTimer(d.opts.FetchLatency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	d.fetches.Add(1)
	gen := d.generation.Add(1)
	return &Object{
		Key:        key,
		Generation: gen,
		Payload:    make([]byte, payloadSize),
	}, nil
}

func (d *Driver) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// owners holds the strong references that keep cached objects alive.
type owners struct {
	mu       sync.Mutex
	objects  []*Object
	released atomic.Uint64
}

func newOwners() *owners {
	return &owners{}
}

func (o *owners) retain(obj *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects = append(o.objects, obj)
}

// release drops roughly half of the owned objects, picked at random, and
// returns how many were dropped.
func (o *owners) release(rng *rand.Rand) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.objects[:0]
	for _, obj := range o.objects {
		if rng.IntN(2) == 0 {
			kept = append(kept, obj)
		}
	}
	n := len(o.objects) - len(kept)
	clear(o.objects[len(kept):])
	o.objects = kept
	o.released.Add(uint64(n))
	return n
}

func (o *owners) releaseAll() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.objects)
	clear(o.objects)
	o.objects = o.objects[:0]
	o.released.Add(uint64(n))
	return n
}

func (o *owners) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

type workloadMetrics struct {
	retainedGauge   prometheus.Gauge
	releasedCounter prometheus.Counter
}

func newWorkloadMetrics(reg prometheus.Registerer) *workloadMetrics {
	return &workloadMetrics{
		retainedGauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "weakcache_workload_owned_objects",
			Help: "Number of objects currently kept alive by the workload owners.",
		}),
		releasedCounter: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "weakcache_workload_released_total",
			Help: "Total number of objects released by the workload owners.",
		}),
	}
}

func (m *workloadMetrics) retained(owned int) {
	if m == nil {
		return
	}
	m.retainedGauge.Set(float64(owned))
}

func (m *workloadMetrics) released(n, owned int) {
	if m == nil {
		return
	}
	m.releasedCounter.Add(float64(n))
	m.retainedGauge.Set(float64(owned))
}
