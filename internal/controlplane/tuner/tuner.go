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

// Package tuner runs the periodic analysis loop that asks the advisor for
// threshold recommendations and records its insights. One failing endpoint
// never blocks the rest of a cycle.
package tuner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/advisor"
	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/persistence"
	"controlplane/internal/controlplane/telemetry"
	"controlplane/internal/controlplane/thresholds"
)

const (
	// defaultInterval paces the analysis loop.
	defaultInterval = 5 * time.Minute
	// minSignals is the volume an endpoint needs in the lookback hour before
	// it is worth an advisor call.
	minSignals = 10
	// lookback is the metrics horizon analyzed each cycle.
	lookback = time.Hour
)

// MetricsSource resolves the consolidated window view for one endpoint.
type MetricsSource interface {
	Read(ctx context.Context, userID int64, service, endpoint string, w aggregate.Window) (*aggregate.MetricsSnapshot, error)
}

// EndpointSource lists recently active endpoints with their volumes.
type EndpointSource interface {
	ActiveEndpoints(ctx context.Context, since time.Time) ([]persistence.ActiveEndpoint, error)
}

// ThresholdStore reads and writes per-endpoint limits.
type ThresholdStore interface {
	ReadOne(ctx context.Context, userID int64, service, endpoint string) (thresholds.Record, error)
	Upsert(ctx context.Context, r thresholds.Record) error
}

// InsightSink records analysis notes.
type InsightSink interface {
	Insert(ctx context.Context, in persistence.Insight) error
}

// Tuner owns the loop goroutine and its cooperative shutdown.
type Tuner struct {
	advisor    advisor.Advisor
	metrics    MetricsSource
	endpoints  EndpointSource
	thresholds ThresholdStore
	insights   InsightSink
	telemetry  *telemetry.Metrics
	log        zerolog.Logger

	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// New wires a Tuner. telemetry may be nil.
func New(adv advisor.Advisor, metrics MetricsSource, endpoints EndpointSource,
	store ThresholdStore, insights InsightSink, tm *telemetry.Metrics, logger zerolog.Logger) *Tuner {
	return &Tuner{
		advisor:    adv,
		metrics:    metrics,
		endpoints:  endpoints,
		thresholds: store,
		insights:   insights,
		telemetry:  tm,
		log:        logger,
		interval:   defaultInterval,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (t *Tuner) Start() {
	t.wg.Add(1)
	go t.loop()
}

// Stop halts the loop and waits for an in-flight cycle to finish. Safe to
// call more than once.
func (t *Tuner) Stop() {
	if !atomic.CompareAndSwapUint32(&t.stopped, 0, 1) {
		return
	}
	close(t.stopChan)
	t.wg.Wait()
}

func (t *Tuner) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.interval)
			if err := t.RunCycle(ctx); err != nil {
				t.log.Error().Err(err).Msg("tuning cycle failed")
			}
			cancel()
		}
	}
}

// RunCycle analyzes every endpoint active in the lookback hour. Exported so
// operators can trigger an immediate pass.
func (t *Tuner) RunCycle(ctx context.Context) error {
	start := time.Now()
	active, err := t.endpoints.ActiveEndpoints(ctx, start.Add(-lookback))
	if err != nil {
		return fmt.Errorf("list active endpoints: %w", err)
	}

	analyzed := 0
	for _, ep := range active {
		if ep.SignalCount < minSignals {
			continue
		}
		if err := t.analyzeEndpoint(ctx, ep); err != nil {
			t.log.Warn().Err(err).
				Int64("user_id", ep.UserID).
				Str("service", ep.ServiceName).
				Str("endpoint", ep.Endpoint).
				Msg("endpoint analysis failed, continuing")
			continue
		}
		analyzed++
	}

	if t.telemetry != nil {
		t.telemetry.ObserveJob("tuner", start)
	}
	t.log.Info().Int("analyzed", analyzed).Int("active", len(active)).
		Dur("took", time.Since(start)).Msg("tuning cycle complete")
	return nil
}

func (t *Tuner) analyzeEndpoint(ctx context.Context, ep persistence.ActiveEndpoint) error {
	m, err := t.metrics.Read(ctx, ep.UserID, ep.ServiceName, ep.Endpoint, aggregate.Window1h)
	if err != nil {
		return fmt.Errorf("read metrics: %w", err)
	}
	if m == nil || m.Count < minSignals {
		return nil
	}

	current, err := t.thresholds.ReadOne(ctx, ep.UserID, ep.ServiceName, ep.Endpoint)
	if err != nil {
		return fmt.Errorf("read thresholds: %w", err)
	}

	report := advisor.MetricsReport{
		ServiceName:       ep.ServiceName,
		Endpoint:          ep.Endpoint,
		SignalCount:       m.Count,
		RequestsPerMinute: m.RequestsPerMinute,
		AvgLatencyMS:      m.AvgLatencyMS,
		P50LatencyMS:      m.P50LatencyMS,
		P95LatencyMS:      m.P95LatencyMS,
		P99LatencyMS:      m.P99LatencyMS,
		ErrorRatePct:      m.ErrorRate * 100,
	}

	if err := t.recommend(ctx, ep, report, current); err != nil {
		return err
	}
	return t.analyze(ctx, ep, report)
}

func (t *Tuner) recommend(ctx context.Context, ep persistence.ActiveEndpoint,
	report advisor.MetricsReport, current thresholds.Record) error {
	rec, err := t.advisor.RecommendThresholds(ctx, report, advisor.CurrentThresholds{
		CacheLatencyMS:          current.CacheLatencyMS,
		CircuitBreakerErrorRate: current.CircuitBreakerErrorRate,
		QueueDeferralRPM:        current.QueueDeferralRPM,
		LoadSheddingRPM:         current.LoadSheddingRPM,
		RateLimitCustomerRPM:    current.RateLimitCustomerRPM,
		Source:                  string(current.Source),
	})
	if err != nil {
		t.countAdvisor("error")
		return fmt.Errorf("recommend thresholds: %w", err)
	}
	t.countAdvisor("ok")

	t.recordInsight(ctx, ep, "recommendation", fmt.Sprintf(
		"Proposed thresholds (cache %dms, breaker %.2f, queue %drpm, shed %drpm, per-customer %drpm): %s",
		rec.CacheLatencyMS, rec.CircuitBreakerErrorRate, rec.QueueDeferralRPM,
		rec.LoadSheddingRPM, rec.RateLimitCustomerRPM, rec.Reasoning), string(rec.Confidence))

	if !rec.Confidence.Actionable() {
		t.log.Debug().Str("endpoint", ep.Endpoint).
			Str("confidence", string(rec.Confidence)).
			Msg("recommendation below confidence bar, keeping current thresholds")
		return nil
	}

	updated := thresholds.Record{
		UserID:                  ep.UserID,
		ServiceName:             ep.ServiceName,
		Endpoint:                ep.Endpoint,
		CacheLatencyMS:          rec.CacheLatencyMS,
		CircuitBreakerErrorRate: rec.CircuitBreakerErrorRate,
		QueueDeferralRPM:        rec.QueueDeferralRPM,
		LoadSheddingRPM:         rec.LoadSheddingRPM,
		RateLimitCustomerRPM:    rec.RateLimitCustomerRPM,
		Confidence:              rec.Confidence.Float(),
		Reasoning:               rec.Reasoning,
		Source:                  thresholds.SourceTuned,
	}
	if err := t.thresholds.Upsert(ctx, updated); err != nil {
		return fmt.Errorf("apply recommendation: %w", err)
	}
	t.log.Info().Str("service", ep.ServiceName).Str("endpoint", ep.Endpoint).
		Str("confidence", string(rec.Confidence)).Msg("thresholds tuned")
	return nil
}

func (t *Tuner) analyze(ctx context.Context, ep persistence.ActiveEndpoint, report advisor.MetricsReport) error {
	analysis, err := t.advisor.AnalyzePatterns(ctx, report)
	if err != nil {
		t.countAdvisor("error")
		return fmt.Errorf("analyze patterns: %w", err)
	}
	t.countAdvisor("ok")

	if len(analysis.Patterns) > 0 {
		var lines []string
		for _, p := range analysis.Patterns {
			lines = append(lines, fmt.Sprintf("[%s] %s Suggested: %s", p.PatternType, p.Description, p.Recommendation))
		}
		t.recordInsight(ctx, ep, "pattern", strings.Join(lines, "\n"), highestConfidence(analysis.Patterns))
	}

	// The anomaly row is always written so the insight feed distinguishes
	// "no anomalies" from "never looked".
	anomalyText := "No anomalies detected in the last analysis window."
	if len(analysis.Anomalies) > 0 {
		var lines []string
		for _, a := range analysis.Anomalies {
			lines = append(lines, fmt.Sprintf("[%s] %s Likely cause: %s", a.Severity, a.Description, a.SuggestedCause))
		}
		anomalyText = strings.Join(lines, "\n")
	}
	t.recordInsight(ctx, ep, "anomaly", anomalyText, string(advisor.ConfidenceMedium))

	t.recordInsight(ctx, ep, "summary", analysis.Summary, string(advisor.ConfidenceMedium))
	return nil
}

func (t *Tuner) recordInsight(ctx context.Context, ep persistence.ActiveEndpoint, kind, content, confidence string) {
	err := t.insights.Insert(ctx, persistence.Insight{
		UserID:      ep.UserID,
		ServiceName: ep.ServiceName,
		Endpoint:    ep.Endpoint,
		InsightType: kind,
		Content:     content,
		Confidence:  confidence,
	})
	if err != nil {
		t.log.Warn().Err(err).Str("type", kind).Msg("insight write failed")
	}
}

func (t *Tuner) countAdvisor(outcome string) {
	if t.telemetry != nil {
		t.telemetry.AdvisorCalls.WithLabelValues(outcome).Inc()
	}
}

func highestConfidence(patterns []advisor.Pattern) string {
	best := advisor.ConfidenceLow
	for _, p := range patterns {
		if p.Confidence == advisor.ConfidenceHigh {
			return string(advisor.ConfidenceHigh)
		}
		if p.Confidence == advisor.ConfidenceMedium {
			best = advisor.ConfidenceMedium
		}
	}
	return string(best)
}
