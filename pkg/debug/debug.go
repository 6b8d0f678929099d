// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug serves the operational sidecar endpoints: pprof profiles,
// Prometheus metrics, and liveness/readiness probes. It is bound to its own
// port so none of these routes can collide with an emulated provider path.
package debug

import (
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	// registry collects metrics registered by other packages; /metrics
	// exports it alongside the default Go process metrics.
	registry = prometheus.NewRegistry()
)

// SetReady marks the process ready. /ready returns 200 afterwards.
func SetReady() { ready.Store(true) }

// SetNotReady marks the process not ready, for startup and drain.
func SetNotReady() { ready.Store(false) }

// IsReady reports the current readiness state.
func IsReady() bool { return ready.Load() }

// Registry returns the registerer for process-local metrics.
func Registry() prometheus.Registerer { return registry }

// GetMux builds the debug mux.
func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, registry}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	mux.Handle("/debug/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/allocs/", pprof.Handler("allocs"))
	mux.Handle("/debug/block/", pprof.Handler("block"))
	mux.Handle("/debug/cmdline", http.HandlerFunc(pprof.Cmdline))
	mux.Handle("/debug/goroutine/", pprof.Handler("goroutine"))
	mux.Handle("/debug/heap/", pprof.Handler("heap"))
	mux.Handle("/debug/mutex/", pprof.Handler("mutex"))
	mux.Handle("/debug/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/symbol", http.HandlerFunc(pprof.Symbol))
	mux.Handle("/debug/trace", http.HandlerFunc(pprof.Trace))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	return mux
}
