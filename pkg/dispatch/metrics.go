// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cloudshim/cloudshim/pkg/engine"
)

// Metrics counts and times operations per family.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide dispatch metrics. Collectors register
// once on the default registry.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cloudshim",
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Operations handled, by family, service, action, and status.",
			}, []string{"family", "service", "action", "status"}),
			duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cloudshim",
				Subsystem: "dispatch",
				Name:      "request_duration_seconds",
				Help:      "Operation latency, by family and service.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"family", "service"}),
		}
	})
	return metricsInst
}

// Observe records one handled operation.
func (m *Metrics) Observe(family string, op engine.Operation, res engine.Result, elapsed time.Duration) {
	service := string(op.Service)
	if service == "" {
		service = "unknown"
	}
	action := op.Action
	if action == "" {
		action = "unknown"
	}
	m.requests.WithLabelValues(family, service, action, strconv.Itoa(res.Status)).Inc()
	m.duration.WithLabelValues(family, service).Observe(elapsed.Seconds())
}
