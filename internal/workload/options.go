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

package workload

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

const (
	flagKeys            = "keys"
	flagWorkers         = "workers"
	flagDuration        = "duration"
	flagRetainRatio     = "retain-ratio"
	flagReleaseInterval = "release-interval"
	flagGCInterval      = "gc-interval"
	flagFetchLatency    = "fetch-latency"
	flagSeed            = "seed"
)

// Options configures a workload run.
type Options struct {
	// Keys is the size of the key space. Keys are picked with a Zipf
	// distribution, so low numbered keys are requested more often.
	Keys int
	// Workers is the number of goroutines issuing lookups.
	Workers int
	// Duration bounds the run. Zero runs until the context is cancelled.
	Duration time.Duration
	// RetainRatio is the probability that a freshly fetched object is kept
	// alive by the owner pool.
	RetainRatio float64
	// ReleaseInterval is how often half of the owned objects are released.
	// Zero disables releases.
	ReleaseInterval time.Duration
	// GCInterval is how often a garbage collection is forced. Zero leaves
	// collections to the runtime.
	GCInterval time.Duration
	// FetchLatency is the simulated cost of producing an object on a miss.
	FetchLatency time.Duration
	Seed         uint64
}

// BindFlags will parse the given pflag.FlagSet for workload flags and set the Options accordingly.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Keys, flagKeys, 1024,
		"The number of distinct keys requested by the workload.")
	fs.IntVar(&o.Workers, flagWorkers, 4,
		"The number of concurrent workers issuing cache lookups.")
	fs.DurationVar(&o.Duration, flagDuration, 30*time.Second,
		"How long the workload runs. Zero runs until interrupted.")
	fs.Float64Var(&o.RetainRatio, flagRetainRatio, 0.5,
		"The probability that a fetched object is kept alive by an owner.")
	fs.DurationVar(&o.ReleaseInterval, flagReleaseInterval, time.Second,
		"The interval at which half of the owned objects are released. Zero disables releases.")
	fs.DurationVar(&o.GCInterval, flagGCInterval, 0,
		"The interval at which a garbage collection is forced. Zero leaves it to the runtime.")
	fs.DurationVar(&o.FetchLatency, flagFetchLatency, time.Millisecond,
		"The simulated latency of fetching an object on a cache miss.")
	fs.Uint64Var(&o.Seed, flagSeed, 1,
		"The seed of the key and retention random generators.")
}

// Validate returns an error describing every invalid option.
func (o Options) Validate() error {
	var errs []error
	if o.Keys < 1 {
		errs = append(errs, fmt.Errorf("--%s must be at least 1, got %d", flagKeys, o.Keys))
	}
	if o.Workers < 1 {
		errs = append(errs, fmt.Errorf("--%s must be at least 1, got %d", flagWorkers, o.Workers))
	}
	if o.RetainRatio < 0 || o.RetainRatio > 1 {
		errs = append(errs, fmt.Errorf("--%s must be between 0 and 1, got %v", flagRetainRatio, o.RetainRatio))
	}
	for _, d := range []struct {
		flag  string
		value time.Duration
	}{
		{flagDuration, o.Duration},
		{flagReleaseInterval, o.ReleaseInterval},
		{flagGCInterval, o.GCInterval},
		{flagFetchLatency, o.FetchLatency},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("--%s must not be negative, got %s", d.flag, d.value))
		}
	}
	return errors.Join(errs...)
}
