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
	"regexp"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is an interface for a cache store.
type Store[K comparable, V any] interface {
	// Put adds an item to the store for the given key.
	Put(key K, value *V)
	// Get returns an item stored in the store for the given key.
	Get(key K) (*V, bool)
	// Delete deletes an item in the store for the given key.
	Delete(key K)
}

var metricsPrefixRegexp = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

type storeOptions struct {
	registerer     prometheus.Registerer
	metricsPrefix  string
	log            logr.Logger
	purgeReclaimed bool
}

// Options is a function that sets the store options.
type Options func(*storeOptions) error

func makeOptions(opts ...Options) (*storeOptions, error) {
	opt := storeOptions{log: logr.Discard()}
	for _, o := range opts {
		if err := o(&opt); err != nil {
			return nil, &CacheError{Reason: ErrInvalidOption, Err: err}
		}
	}
	return &opt, nil
}

// WithMetricsRegisterer sets the Prometheus registerer for the cache metrics.
func WithMetricsRegisterer(r prometheus.Registerer) Options {
	return func(o *storeOptions) error {
		o.registerer = r
		return nil
	}
}

// WithMetricsPrefix sets the metrics prefix for the cache metrics.
// The prefix must be usable as the start of a Prometheus metric name.
func WithMetricsPrefix(prefix string) Options {
	return func(o *storeOptions) error {
		if prefix != "" && !metricsPrefixRegexp.MatchString(prefix) {
			return fmt.Errorf("metrics prefix %q is not a valid metric name prefix", prefix)
		}
		o.metricsPrefix = prefix
		return nil
	}
}

// WithLogger sets the logger used to report evictions and reclaimed values.
func WithLogger(log logr.Logger) Options {
	return func(o *storeOptions) error {
		o.log = log
		return nil
	}
}

// WithPurgeReclaimed controls what happens to a slot whose value has been
// reclaimed when a lookup finds it. When false, the default, the slot is left
// in place and is only freed by capacity pressure or an explicit removal.
// When true, the lookup removes the slot immediately.
func WithPurgeReclaimed(purge bool) Options {
	return func(o *storeOptions) error {
		o.purgeReclaimed = purge
		return nil
	}
}
