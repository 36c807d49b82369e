// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry registers the Prometheus instruments the control plane
// exports and optionally serves them on a standalone endpoint.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics bundles every instrument so call sites receive one handle instead of
// reaching for package globals.
type Metrics struct {
	SignalsPublished prometheus.Counter
	SignalsConsumed  prometheus.Counter
	SignalsStored    prometheus.Counter
	SignalsSampled   prometheus.Counter
	ConsumeFailures  prometheus.Counter

	Decisions    *prometheus.CounterVec
	AdvisorCalls *prometheus.CounterVec

	WorkerRuns     *prometheus.CounterVec
	WorkerDuration *prometheus.HistogramVec
}

// New creates and registers the instruments against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlplane_signals_published_total",
			Help: "Signals accepted by the ingest API and handed to the queue.",
		}),
		SignalsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlplane_signals_consumed_total",
			Help: "Signals pulled off the queue and aggregated.",
		}),
		SignalsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlplane_signals_stored_total",
			Help: "Signals persisted raw to the durable store.",
		}),
		SignalsSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlplane_signals_sampled_out_total",
			Help: "Successful signals dropped by the persistence sampler.",
		}),
		ConsumeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlplane_consume_failures_total",
			Help: "Messages nacked back to the queue after a processing failure.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_decisions_total",
			Help: "Decision engine verdicts by primary action.",
		}, []string{"action"}),
		AdvisorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_advisor_calls_total",
			Help: "Advisor invocations by outcome (ok, invalid, error).",
		}, []string{"outcome"}),
		WorkerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_worker_runs_total",
			Help: "Background job executions by job name.",
		}, []string{"job"}),
		WorkerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "controlplane_worker_duration_seconds",
			Help:    "Background job wall time by job name.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.SignalsPublished, m.SignalsConsumed, m.SignalsStored,
		m.SignalsSampled, m.ConsumeFailures,
		m.Decisions, m.AdvisorCalls, m.WorkerRuns, m.WorkerDuration,
	)
	return m
}

// ObserveJob records one background job execution.
func (m *Metrics) ObserveJob(job string, start time.Time) {
	m.WorkerRuns.WithLabelValues(job).Inc()
	m.WorkerDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr in a background goroutine. Errors are logged,
// not fatal: losing the scrape endpoint should never take the service down.
func Serve(addr string, g prometheus.Gatherer, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
}
