/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exports prometheus metrics about protocol dispatching.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "protoengine"

type Metrics struct {
	dispatches    *prometheus.CounterVec
	steps         *prometheus.HistogramVec
	cancellations *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	synthesized   *prometheus.CounterVec
}

// New creates the metrics and registers them with reg (if not nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "dispatches_total",
				Help:      "Inbound messages dispatched, by outcome.",
			},
			[]string{"protocol", "status"},
		),
		steps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "step_duration_seconds",
				Help:      "Duration of step executions, including the commit of their transaction.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"protocol", "step"},
		),
		cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "cancellations_total",
				Help:      "Protocol instances that transitioned to their cancelled state.",
			},
			[]string{"protocol", "step"},
		),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "conflicts_total",
				Help:      "Dispatch transactions retried because of a concurrent transition of the same instance.",
			},
			[]string{"protocol"},
		),
		synthesized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "waiters",
				Name:      "synthesized_total",
				Help:      "Messages synthesized for satisfied trust level waiters.",
			},
			[]string{"protocol"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.dispatches, m.steps, m.cancellations, m.conflicts, m.synthesized)
	}
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns metrics registered with the default prometheus registry.
// Registration happens once, no matter how many runtimes use the default metrics.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (m *Metrics) RecordDispatch(protocol, status string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(protocol, status).Inc()
}

func (m *Metrics) RecordStep(protocol, step string, duration time.Duration, cancelled bool) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(protocol, step).Observe(duration.Seconds())
	if cancelled {
		m.cancellations.WithLabelValues(protocol, step).Inc()
	}
}

func (m *Metrics) RecordConflict(protocol string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(protocol).Inc()
}

func (m *Metrics) RecordSynthesized(protocol string) {
	if m == nil {
		return
	}
	m.synthesized.WithLabelValues(protocol).Inc()
}
