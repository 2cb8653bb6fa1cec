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

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

const (
	flagBindAddress = "metrics-addr"
	flagEnablePprof = "enable-pprof"

	// DisabledAddress turns the server off when used as BindAddress.
	DisabledAddress = "0"

	// HTTPPrefixPProf is the prefix appended to all pprof endpoints.
	HTTPPrefixPProf = "/debug/pprof"

	shutdownTimeout = 5 * time.Second
)

// Endpoints defines the debugging endpoints added when pprof is enabled.
var Endpoints = map[string]http.Handler{
	HTTPPrefixPProf + "/":             http.HandlerFunc(pprof.Index),
	HTTPPrefixPProf + "/cmdline":      http.HandlerFunc(pprof.Cmdline),
	HTTPPrefixPProf + "/profile":      http.HandlerFunc(pprof.Profile),
	HTTPPrefixPProf + "/symbol":       http.HandlerFunc(pprof.Symbol),
	HTTPPrefixPProf + "/trace":        http.HandlerFunc(pprof.Trace),
	HTTPPrefixPProf + "/heap":         pprof.Handler("heap"),
	HTTPPrefixPProf + "/goroutine":    pprof.Handler("goroutine"),
	HTTPPrefixPProf + "/threadcreate": pprof.Handler("threadcreate"),
	HTTPPrefixPProf + "/block":        pprof.Handler("block"),
	HTTPPrefixPProf + "/mutex":        pprof.Handler("mutex"),
}

// Options contains the configuration of the metrics server.
type Options struct {
	BindAddress string
	EnablePprof bool
}

// BindFlags will parse the given pflag.FlagSet for server option flags and set the Options accordingly.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.BindAddress, flagBindAddress, ":8080",
		"The address the metric endpoint binds to. Use '0' to disable it.")
	fs.BoolVar(&o.EnablePprof, flagEnablePprof, false,
		"Expose the pprof debugging endpoints under "+HTTPPrefixPProf+".")
}

// Server serves the Prometheus metrics of a gatherer, a health endpoint and,
// optionally, the pprof endpoints.
type Server struct {
	opts Options
	srv  *http.Server
	log  logr.Logger
}

// New returns a Server for the given gatherer. It does not start listening.
func New(opts Options, gatherer prometheus.Gatherer, log logr.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: promErrorLogger{log},
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if opts.EnablePprof {
		// Only set the fraction if there is no existing setting
		if runtime.SetMutexProfileFraction(-1) == 0 {
			// Default to report 1 out of 5 mutex events, on average
			runtime.SetMutexProfileFraction(5)
		}
		for p, h := range Endpoints {
			mux.Handle(p, h)
		}
	}

	return &Server{
		opts: opts,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until ctx is done, then shuts the server down gracefully.
// With BindAddress set to DisabledAddress it only waits for ctx.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.BindAddress == DisabledAddress {
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", s.opts.BindAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.BindAddress, err)
	}
	s.log.Info("starting metrics server", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	s.log.Info("metrics server stopped")
	return nil
}

type promErrorLogger struct {
	log logr.Logger
}

func (l promErrorLogger) Println(v ...interface{}) {
	l.log.Error(nil, fmt.Sprint(v...))
}
