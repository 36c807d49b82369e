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

// Package decision assembles the inputs for the engine: consolidated metrics
// through the fallback tiers, the endpoint's thresholds, and the caller's own
// request rate.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/engine"
	"controlplane/internal/controlplane/signal"
	"controlplane/internal/controlplane/telemetry"
	"controlplane/internal/controlplane/thresholds"
)

// MetricsSource resolves the consolidated window view.
type MetricsSource interface {
	Read(ctx context.Context, userID int64, service, endpoint string, w aggregate.Window) (*aggregate.MetricsSnapshot, error)
}

// CustomerRateSource reads one customer's current-minute rate.
type CustomerRateSource interface {
	CustomerRate(ctx context.Context, userID int64, service, endpoint, customerID string) (float64, error)
}

// ThresholdSource reads per-endpoint limits (with default fallback).
type ThresholdSource interface {
	ReadOne(ctx context.Context, userID int64, service, endpoint string) (thresholds.Record, error)
}

// Result pairs a verdict with the metrics it was based on, so callers can
// render both.
type Result struct {
	Verdict engine.Verdict
	Metrics *aggregate.MetricsSnapshot // nil when no tier had data
}

// Service evaluates decisions for authenticated accounts.
type Service struct {
	metrics    MetricsSource
	rates      CustomerRateSource
	thresholds ThresholdSource
	telemetry  *telemetry.Metrics
	log        zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New wires a Service. telemetry may be nil.
func New(metrics MetricsSource, rates CustomerRateSource, ths ThresholdSource,
	tm *telemetry.Metrics, logger zerolog.Logger) *Service {
	return &Service{metrics: metrics, rates: rates, thresholds: ths, telemetry: tm, log: logger, now: time.Now}
}

// Decide evaluates the current guidance for one endpoint as seen by one
// (optional) customer. The decision window is the rolling hour.
func (s *Service) Decide(ctx context.Context, userID int64, service, endpoint string,
	priority signal.Priority, customerID string) (Result, error) {

	snap, err := s.metrics.Read(ctx, userID, service, endpoint, aggregate.Window1h)
	if err != nil {
		return Result{}, fmt.Errorf("resolve metrics: %w", err)
	}

	var m engine.Metrics
	if snap != nil {
		m = engine.Metrics{
			Count:             snap.Count,
			AvgLatencyMS:      snap.AvgLatencyMS,
			ErrorRate:         snap.ErrorRate,
			RequestsPerMinute: snap.RequestsPerMinute,
		}
	}

	if customerID != "" {
		rate, err := s.rates.CustomerRate(ctx, userID, service, endpoint, customerID)
		if err != nil {
			// A Fast Store failure degrades to "no per-customer limit":
			// the decision still goes out on the remaining inputs.
			s.log.Warn().Err(err).
				Str("service", service).Str("endpoint", endpoint).
				Msg("customer rate unavailable, treating as zero")
			rate = 0
		}
		m.CustomerRPM = rate
	}

	ths, err := s.thresholds.ReadOne(ctx, userID, service, endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("resolve thresholds: %w", err)
	}

	verdict := engine.Evaluate(m, ths, priority, s.now())
	if s.telemetry != nil {
		s.telemetry.Decisions.WithLabelValues(verdict.Action()).Inc()
	}
	return Result{Verdict: verdict, Metrics: snap}, nil
}
