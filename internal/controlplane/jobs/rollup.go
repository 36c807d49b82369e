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

package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"controlplane/internal/controlplane/persistence"
	"controlplane/internal/controlplane/signal"
)

// RunHourlyRollup folds the previous clock hour's raw signals into one bucket
// per endpoint. Upserts keyed on the bucket make a re-run harmless.
func (r *Runner) RunHourlyRollup(ctx context.Context) error {
	hourEnd := r.now().UTC().Truncate(time.Hour)
	hourStart := hourEnd.Add(-time.Hour)

	combos, err := r.signals.WindowCombos(ctx, hourStart, hourEnd)
	if err != nil {
		return fmt.Errorf("hourly rollup: %w", err)
	}

	for _, key := range combos {
		rows, err := r.signals.WindowRows(ctx, key, hourStart, hourEnd)
		if err != nil {
			r.log.Warn().Err(err).Str("endpoint", key.Endpoint).Msg("rollup read failed, skipping endpoint")
			continue
		}
		if len(rows) == 0 {
			continue
		}
		rollup := foldHour(key, hourStart, rows)
		if err := r.rollups.UpsertHourly(ctx, rollup); err != nil {
			r.log.Warn().Err(err).Str("endpoint", key.Endpoint).Msg("rollup write failed, skipping endpoint")
		}
	}

	r.log.Info().Time("bucket", hourStart).Int("endpoints", len(combos)).Msg("hourly rollup complete")
	return nil
}

// foldHour reduces one endpoint-hour of raw rows to a rollup record.
func foldHour(key persistence.EndpointKey, bucket time.Time, rows []persistence.SignalRow) persistence.HourlyRollup {
	latencies := make([]float64, 0, len(rows))
	var sum float64
	var errCount int64
	min, max := rows[0].LatencyMS, rows[0].LatencyMS

	for _, row := range rows {
		latencies = append(latencies, row.LatencyMS)
		sum += row.LatencyMS
		if row.LatencyMS < min {
			min = row.LatencyMS
		}
		if row.LatencyMS > max {
			max = row.LatencyMS
		}
		if row.Status == string(signal.StatusError) {
			errCount++
		}
	}
	sort.Float64s(latencies)
	n := int64(len(rows))

	return persistence.HourlyRollup{
		UserID:       key.UserID,
		TenantID:     key.TenantID,
		ServiceName:  key.ServiceName,
		Endpoint:     key.Endpoint,
		BucketStart:  bucket,
		RequestCount: n,
		AvgLatencyMS: sum / float64(n),
		MinLatencyMS: min,
		MaxLatencyMS: max,
		P50LatencyMS: rankPercentile(latencies, 50),
		P95LatencyMS: rankPercentile(latencies, 95),
		P99LatencyMS: rankPercentile(latencies, 99),
		ErrorCount:   errCount,
		ErrorRatePct: float64(errCount) / float64(n) * 100,
	}
}

// rankPercentile picks the sorted sample at index floor(n*q/100), clamped to
// the last element. Coarser than interpolation, which is fine at rollup
// volumes; the index method matches what the hourly history has always held.
func rankPercentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * q / 100)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// RunDailyRollup folds yesterday's hourly buckets into one daily bucket per
// endpoint.
func (r *Runner) RunDailyRollup(ctx context.Context) error {
	dayEnd := r.now().UTC().Truncate(24 * time.Hour)
	dayStart := dayEnd.Add(-24 * time.Hour)

	combos, err := r.rollups.HourlyCombos(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("daily rollup: %w", err)
	}

	for _, key := range combos {
		hours, err := r.rollups.HourlyRows(ctx, key, dayStart, dayEnd)
		if err != nil {
			r.log.Warn().Err(err).Str("endpoint", key.Endpoint).Msg("daily read failed, skipping endpoint")
			continue
		}
		if len(hours) == 0 {
			continue
		}
		daily := foldDay(key, dayStart, hours)
		if err := r.rollups.UpsertDaily(ctx, daily); err != nil {
			r.log.Warn().Err(err).Str("endpoint", key.Endpoint).Msg("daily write failed, skipping endpoint")
		}
	}

	r.log.Info().Time("bucket", dayStart).Int("endpoints", len(combos)).Msg("daily rollup complete")
	return nil
}

// foldDay reduces one endpoint-day of hourly buckets: count-weighted average
// latency, min of mins, max of maxes. Daily percentiles average the hourly
// percentiles; the raw rows that would give exact values are partly sampled
// away by then.
func foldDay(key persistence.EndpointKey, bucket time.Time, hours []persistence.HourlyRollup) persistence.DailyRollup {
	var (
		count, errCount int64
		weightedSum     float64
		p50Sum, p95Sum  float64
		p99Sum          float64
	)
	min, max := hours[0].MinLatencyMS, hours[0].MaxLatencyMS

	for _, h := range hours {
		count += h.RequestCount
		errCount += h.ErrorCount
		weightedSum += h.AvgLatencyMS * float64(h.RequestCount)
		p50Sum += h.P50LatencyMS
		p95Sum += h.P95LatencyMS
		p99Sum += h.P99LatencyMS
		if h.MinLatencyMS < min {
			min = h.MinLatencyMS
		}
		if h.MaxLatencyMS > max {
			max = h.MaxLatencyMS
		}
	}

	hoursN := float64(len(hours))
	daily := persistence.DailyRollup{
		UserID:       key.UserID,
		TenantID:     key.TenantID,
		ServiceName:  key.ServiceName,
		Endpoint:     key.Endpoint,
		BucketStart:  bucket,
		RequestCount: count,
		MinLatencyMS: min,
		MaxLatencyMS: max,
		P50LatencyMS: p50Sum / hoursN,
		P95LatencyMS: p95Sum / hoursN,
		P99LatencyMS: p99Sum / hoursN,
		ErrorCount:   errCount,
	}
	if count > 0 {
		daily.AvgLatencyMS = weightedSum / float64(count)
		daily.ErrorRatePct = float64(errCount) / float64(count) * 100
	}
	return daily
}
