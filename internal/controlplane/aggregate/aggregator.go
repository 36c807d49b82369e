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

// Package aggregate maintains the multi-tier sliding windows the decision
// engine reads: counter triples and latency reservoirs per (user, service,
// endpoint) over 1m/1h/24h horizons, plus per-customer minute buckets.
package aggregate

import (
	"context"
	"errors"
	"time"

	"controlplane/internal/controlplane/signal"
	"controlplane/internal/controlplane/store"
)

// ReservoirCap bounds each latency reservoir; eviction is oldest-first.
const ReservoirCap = 1000

// Aggregator writes signals into the Fast Store and answers window queries.
type Aggregator struct {
	fast *store.Store

	// now is swappable for tests.
	now func() time.Time
}

// New builds an Aggregator over the Fast Store.
func New(fast *store.Store) *Aggregator {
	return &Aggregator{fast: fast, now: time.Now}
}

// Record folds one signal into every window it belongs to. A failed window
// update does not stop the others; the joined error reports what was missed.
// Callers treat failure as degraded accuracy, not message loss.
func (a *Aggregator) Record(ctx context.Context, s signal.Signal) error {
	now := a.now().UTC()
	seq := now.UnixNano()
	isErr := s.IsError()

	var errs []error
	for _, w := range []Window{Window1m, Window1h, Window24h} {
		key := windowKey(s.UserID, s.ServiceName, s.Endpoint, w, now)
		if err := a.fast.IncrWindow(ctx, key, s.LatencyMS, isErr, w.TTL()); err != nil {
			errs = append(errs, err)
			continue
		}
		rkey := reservoirKey(s.UserID, s.ServiceName, s.Endpoint, w, now)
		if err := a.fast.AppendReservoir(ctx, rkey, seq, s.LatencyMS, ReservoirCap, w.TTL()); err != nil {
			errs = append(errs, err)
		}
	}

	if s.CustomerIdentifier != "" {
		key := clientKey(s.UserID, s.ServiceName, s.Endpoint, s.CustomerIdentifier, now)
		if _, err := a.fast.IncrCounter(ctx, key, Window1m.TTL()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rate returns the request rate in requests per minute for one window: the
// 1m window reads the current minute bucket directly; 1h and 24h divide their
// rolling counts by the window length.
func (a *Aggregator) Rate(ctx context.Context, userID int64, service, endpoint string, w Window) (float64, error) {
	now := a.now().UTC()
	counters, ok, err := a.fast.ReadWindow(ctx, windowKey(userID, service, endpoint, w, now))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	switch w {
	case Window1m:
		return float64(counters.Count), nil
	case Window1h:
		return float64(counters.Count) / 60, nil
	default:
		return float64(counters.Count) / 1440, nil
	}
}

// Percentiles reads one window's reservoir and interpolates p50/p95/p99.
func (a *Aggregator) Percentiles(ctx context.Context, userID int64, service, endpoint string, w Window) (p50, p95, p99 float64, err error) {
	key := reservoirKey(userID, service, endpoint, w, a.now().UTC())
	samples, err := a.fast.ReadReservoir(ctx, key)
	if err != nil {
		return 0, 0, 0, err
	}
	return Percentile(samples, 50), Percentile(samples, 95), Percentile(samples, 99), nil
}

// CustomerRate returns the current-minute request count for one customer of an
// endpoint, which doubles as their requests-per-minute.
func (a *Aggregator) CustomerRate(ctx context.Context, userID int64, service, endpoint, customerID string) (float64, error) {
	if customerID == "" {
		return 0, nil
	}
	key := clientKey(userID, service, endpoint, customerID, a.now().UTC())
	n, _, err := a.fast.GetCounter(ctx, key)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

// MetricsSnapshot is the consolidated view handed to the decision engine.
// Source records which tier produced it.
type MetricsSnapshot struct {
	Count             int64
	AvgLatencyMS      float64
	ErrorRate         float64 // fraction in [0,1]
	RequestsPerMinute float64
	P50LatencyMS      float64
	P95LatencyMS      float64
	P99LatencyMS      float64
	LastUpdated       time.Time
	Source            MetricsSource
}

// MetricsSource names the fallback tier a snapshot came from.
type MetricsSource string

const (
	SourceFastStore MetricsSource = "fast_store"
	SourceSnapshot  MetricsSource = "snapshot"
	SourceRaw       MetricsSource = "raw_signals"
)

// SnapshotReader serves the second fallback tier.
type SnapshotReader interface {
	Latest(ctx context.Context, userID int64, service, endpoint, window string) (*SnapshotRecord, error)
}

// SnapshotRecord is the slice of a persisted snapshot the fallback needs.
type SnapshotRecord struct {
	Count        int64
	SumLatencyMS float64
	Errors       int64
	P50LatencyMS float64
	P95LatencyMS float64
	P99LatencyMS float64
	TakenAt      time.Time
}

// RawReader serves the last fallback tier.
type RawReader interface {
	Recent(ctx context.Context, userID int64, service, endpoint string, limit int) ([]RawSignal, error)
}

// RawSignal is the slice of a stored signal the fallback needs.
type RawSignal struct {
	LatencyMS float64
	IsError   bool
	Timestamp time.Time
}

const (
	// snapshotMaxAge is how stale a persisted snapshot may be before the
	// fallback skips it.
	snapshotMaxAge = 30 * time.Minute
	// rawFallbackLimit caps the last-resort raw scan.
	rawFallbackLimit = 20
)

// MetricsReader resolves engine inputs through the three-tier fallback:
// Fast Store first, then a recent persisted snapshot, then the last few raw
// signals. Returns (nil, nil) when every tier is empty.
type MetricsReader struct {
	agg       *Aggregator
	snapshots SnapshotReader
	raw       RawReader
}

// NewMetricsReader wires the fallback tiers. snapshots and raw may be nil;
// missing tiers are simply skipped.
func NewMetricsReader(agg *Aggregator, snapshots SnapshotReader, raw RawReader) *MetricsReader {
	return &MetricsReader{agg: agg, snapshots: snapshots, raw: raw}
}

// Read resolves the metrics for one endpoint over window w.
func (m *MetricsReader) Read(ctx context.Context, userID int64, service, endpoint string, w Window) (*MetricsSnapshot, error) {
	now := m.agg.now().UTC()

	counters, ok, err := m.agg.fast.ReadWindow(ctx, windowKey(userID, service, endpoint, w, now))
	if err == nil && ok && counters.Count > 0 {
		rpm, rpmErr := m.agg.Rate(ctx, userID, service, endpoint, Window1m)
		p50, p95, p99, pctErr := m.agg.Percentiles(ctx, userID, service, endpoint, w)
		if rpmErr == nil && pctErr == nil {
			return &MetricsSnapshot{
				Count:             counters.Count,
				AvgLatencyMS:      counters.AvgLatency(),
				ErrorRate:         counters.ErrorRate(),
				RequestsPerMinute: rpm,
				P50LatencyMS:      p50,
				P95LatencyMS:      p95,
				P99LatencyMS:      p99,
				LastUpdated:       counters.LastUpdated,
				Source:            SourceFastStore,
			}, nil
		}
	}
	// Any Redis failure, partial or total, falls through to the durable tiers
	// rather than failing the decision outright.

	if m.snapshots != nil {
		snap, err := m.snapshots.Latest(ctx, userID, service, endpoint, string(w))
		if err == nil && snap != nil && now.Sub(snap.TakenAt) <= snapshotMaxAge && snap.Count > 0 {
			avg := snap.SumLatencyMS / float64(snap.Count)
			return &MetricsSnapshot{
				Count:             snap.Count,
				AvgLatencyMS:      avg,
				ErrorRate:         float64(snap.Errors) / float64(snap.Count),
				RequestsPerMinute: 0, // rate is unknowable from a point-in-time dump
				P50LatencyMS:      snap.P50LatencyMS,
				P95LatencyMS:      snap.P95LatencyMS,
				P99LatencyMS:      snap.P99LatencyMS,
				LastUpdated:       snap.TakenAt,
				Source:            SourceSnapshot,
			}, nil
		}
	}

	if m.raw != nil {
		rows, err := m.raw.Recent(ctx, userID, service, endpoint, rawFallbackLimit)
		if err == nil && len(rows) > 0 {
			var sum float64
			var errCount int64
			for _, r := range rows {
				sum += r.LatencyMS
				if r.IsError {
					errCount++
				}
			}
			n := int64(len(rows))
			return &MetricsSnapshot{
				Count:        n,
				AvgLatencyMS: sum / float64(n),
				ErrorRate:    float64(errCount) / float64(n),
				LastUpdated:  rows[0].Timestamp,
				Source:       SourceRaw,
			}, nil
		}
	}

	return nil, nil
}
