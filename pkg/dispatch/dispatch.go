// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch owns the HTTP surface: one listener per vendor family,
// each with an Adapter translating between that family's wire dialect and
// the engine's canonical operations.
package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/logger"
)

// Adapter translates one vendor family's wire dialect. Parse builds a
// canonical Operation from the request; Render writes a Result in the
// family's dialect. Parse errors are rendered too, so every response a
// client sees is in the shape it expects.
type Adapter interface {
	Family() string
	Parse(r *http.Request) (engine.Operation, error)
	Render(w http.ResponseWriter, op engine.Operation, res engine.Result)
}

// NewRouter builds the chi router for one family: health endpoint, optional
// metrics endpoint, and the adapter catch-all.
func NewRouter(e *engine.Engine, a Adapter, m *Metrics, withMetrics bool) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.Family()))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Handle("/*", operationHandler(e, a, m))
	return r
}

// operationHandler is the Parse → Execute → Render pipeline.
func operationHandler(e *engine.Engine, a Adapter, m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		op, err := a.Parse(r)
		var res engine.Result
		if err != nil {
			res = engine.Result{Status: engine.StatusFor(err), Err: err}
		} else {
			res = e.Execute(r.Context(), op)
		}
		a.Render(w, op, res)

		if m != nil {
			m.Observe(a.Family(), op, res, time.Since(start))
		}
	})
}

func requestLogger(family string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("family", family).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}

// Server runs one HTTP listener per configured family address.
type Server struct {
	engine  *engine.Engine
	servers []*http.Server
}

// listenerSpec binds an adapter to an address.
type listenerSpec struct {
	addr        string
	adapter     Adapter
	withMetrics bool
}

// NewServer wires the configured families. An empty listen address disables
// that family.
func NewServer(e *engine.Engine, adapters map[string]Adapter) *Server {
	cfg := e.Config()
	m := NewMetrics()

	specs := []listenerSpec{
		{addr: cfg.AWSListen, adapter: adapters["aws"], withMetrics: true},
		{addr: cfg.AzureListen, adapter: adapters["azure"]},
		{addr: cfg.GCPListen, adapter: adapters["gcp"]},
	}

	s := &Server{engine: e}
	for _, spec := range specs {
		if spec.addr == "" || spec.adapter == nil {
			continue
		}
		s.servers = append(s.servers, &http.Server{
			Addr:              spec.addr,
			Handler:           NewRouter(e, spec.adapter, m, spec.withMetrics),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	return s
}

// Run serves until ctx is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, len(s.servers))
	for _, srv := range s.servers {
		srv := srv
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("listener up")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		s.shutdown()
		return nil
	}
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", srv.Addr).Msg("listener shutdown")
		}
	}
}
