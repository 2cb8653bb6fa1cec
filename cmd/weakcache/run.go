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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fluxcd/weakcache/cache"
	"github.com/fluxcd/weakcache/internal/features"
	"github.com/fluxcd/weakcache/internal/server"
	"github.com/fluxcd/weakcache/internal/workload"
	"github.com/fluxcd/weakcache/logger"
)

const metricsPrefix = "weakcache_"

type runFlags struct {
	capacity        int
	workloadOptions workload.Options
	serverOptions   server.Options
}

func newRunCommand(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic workload against the cache and serve its metrics",
		Example: `  # Run for a minute with 128 slots and a forced collection every second
  weakcache run --capacity 128 --duration 1m --gc-interval 1s

  # Free reclaimed slots on lookup instead of waiting for capacity pressure
  weakcache run --feature-gates=PurgeReclaimedOnGet=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkload(cmd, root, flags)
		},
	}

	cmd.Flags().IntVar(&flags.capacity, "capacity", 256,
		"The maximum number of keys held by the cache.")
	flags.workloadOptions.BindFlags(cmd.Flags())
	flags.serverOptions.BindFlags(cmd.Flags())
	return cmd
}

func runWorkload(cmd *cobra.Command, root *rootFlags, flags *runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loggerOptions := root.loggerOptions
	loggerOptions.Output = cmd.ErrOrStderr()
	log := logger.NewLogger(loggerOptions).WithName("weakcache")

	if err := root.featureGates.WithLogger(log).SupportedFeatures(features.Defaults()); err != nil {
		return fmt.Errorf("unable to load feature gates: %w", err)
	}
	purgeReclaimed, err := features.Enabled(features.PurgeReclaimedOnGet)
	if err != nil {
		return fmt.Errorf("unable to check feature gate %s: %w", features.PurgeReclaimedOnGet, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := cache.NewSynchronized[string, workload.Object](flags.capacity,
		cache.WithMetricsRegisterer(reg),
		cache.WithMetricsPrefix(metricsPrefix),
		cache.WithLogger(log.WithName("cache")),
		cache.WithPurgeReclaimed(purgeReclaimed))
	if err != nil {
		return fmt.Errorf("unable to create cache: %w", err)
	}

	driver, err := workload.New(flags.workloadOptions, c, log.WithName("workload"), reg)
	if err != nil {
		return err
	}
	srv := server.New(flags.serverOptions, reg, log.WithName("server"))

	g, ctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g.Go(func() error {
		return srv.Start(srvCtx)
	})

	var stats workload.Stats
	g.Go(func() error {
		defer stopServer()
		var err error
		stats, err = driver.Run(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "requests:  %d\n", stats.Requests)
	fmt.Fprintf(out, "hits:      %d\n", stats.Hits)
	fmt.Fprintf(out, "misses:    %d\n", stats.Misses)
	fmt.Fprintf(out, "released:  %d\n", stats.Released)
	fmt.Fprintf(out, "hit ratio: %.3f\n", stats.HitRatio())
	fmt.Fprintf(out, "slots:     %d/%d (%d reachable)\n", c.Len(), c.Cap(), c.Reachable())
	return nil
}
