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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// CacheEventTypeMiss is the event type for cache misses.
	CacheEventTypeMiss = "cache_miss"
	// CacheEventTypeHit is the event type for cache hits.
	CacheEventTypeHit = "cache_hit"
	// StatusSuccess is the status for successful cache requests.
	StatusSuccess = "success"
	// StatusFailure is the status for failed cache requests.
	StatusFailure = "failure"
)

type cacheMetrics struct {
	cacheEventsCounter    *prometheus.CounterVec
	cacheReclaimedCounter prometheus.Counter
	cacheItemsGauge       prometheus.Gauge
	cacheRequestsCounter  *prometheus.CounterVec
	cacheEvictionCounter  prometheus.Counter
}

// newCacheMetrics returns a new cacheMetrics registered with reg.
func newCacheMetrics(prefix string, reg prometheus.Registerer) *cacheMetrics {
	return &cacheMetrics{
		cacheEventsCounter: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%scache_events_total", prefix),
				Help: "Total number of cache retrieval events partitioned by hit or miss.",
			},
			[]string{"event_type"},
		),
		cacheReclaimedCounter: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%scache_reclaimed_total", prefix),
				Help: "Total number of cache misses caused by a value reclaimed by the garbage collector.",
			},
		),
		cacheItemsGauge: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%scached_items", prefix),
				Help: "Total number of items in the cache.",
			},
		),
		cacheRequestsCounter: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%scache_requests_total", prefix),
				Help: "Total number of cache requests partioned by success or failure.",
			},
			[]string{"status"},
		),
		cacheEvictionCounter: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%scache_evictions_total", prefix),
				Help: "Total number of cache evictions.",
			},
		),
	}
}

// incCacheEvents increments by 1 the cache event count for the given event type.
func (m *cacheMetrics) incCacheEvents(event string) {
	m.cacheEventsCounter.WithLabelValues(event).Inc()
}

func (m *cacheMetrics) incCacheReclaimed() {
	m.cacheReclaimedCounter.Inc()
}

// setCachedItems sets the number of cached items.
func (m *cacheMetrics) setCachedItems(value float64) {
	m.cacheItemsGauge.Set(value)
}

// incCacheItems increments the number of cached items by 1.
func (m *cacheMetrics) incCacheItems() {
	m.cacheItemsGauge.Inc()
}

// decCacheItems decrements the number of cached items by 1.
func (m *cacheMetrics) decCacheItems() {
	m.cacheItemsGauge.Dec()
}

// incCacheRequests increments the cache request count for the given status.
func (m *cacheMetrics) incCacheRequests(status string) {
	m.cacheRequestsCounter.WithLabelValues(status).Inc()
}

// incCacheEvictions increments the cache eviction count by 1.
func (m *cacheMetrics) incCacheEvictions() {
	m.cacheEvictionCounter.Inc()
}

func recordRequest(metrics *cacheMetrics, status string) {
	if metrics != nil {
		metrics.incCacheRequests(status)
	}
}

func recordEvent(metrics *cacheMetrics, event string) {
	if metrics != nil {
		metrics.incCacheEvents(event)
	}
}

func recordReclaimed(metrics *cacheMetrics) {
	if metrics != nil {
		metrics.incCacheReclaimed()
	}
}

func recordEviction(metrics *cacheMetrics) {
	if metrics != nil {
		metrics.incCacheEvictions()
	}
}

func recordDecrement(metrics *cacheMetrics) {
	if metrics != nil {
		metrics.decCacheItems()
	}
}

func recordItemIncrement(metrics *cacheMetrics) {
	if metrics != nil {
		metrics.incCacheItems()
	}
}

func recordItems(metrics *cacheMetrics, n int) {
	if metrics != nil {
		metrics.setCachedItems(float64(n))
	}
}
