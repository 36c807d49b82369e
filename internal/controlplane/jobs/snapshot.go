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
	"time"

	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/persistence"
)

// RunSnapshot dumps every rolling 1h/24h window from the fast store into
// Postgres and trims snapshots past retention. The dump is what the metrics
// fallback reads when Redis is cold after a restart.
func (r *Runner) RunSnapshot(ctx context.Context) error {
	keys, err := r.fast.ScanPattern(ctx, "agg:user:*")
	if err != nil {
		return fmt.Errorf("snapshot scan: %w", err)
	}

	now := r.now().UTC()
	var rows []persistence.Snapshot
	for _, key := range keys {
		parsed, ok := aggregate.ParseWindowKey(key)
		if !ok {
			// Minute buckets, client counters and reservoirs are transient
			// by design; only the rolling windows are worth persisting.
			continue
		}
		counters, found, err := r.fast.ReadWindow(ctx, key)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("snapshot read failed, skipping key")
			continue
		}
		if !found || counters.Count == 0 {
			continue
		}

		lats, err := r.fast.ReadReservoir(ctx, key+":latencies")
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("reservoir read failed, storing counters only")
		}

		rows = append(rows, persistence.Snapshot{
			UserID:       parsed.UserID,
			ServiceName:  parsed.Service,
			Endpoint:     parsed.Endpoint,
			Window:       string(parsed.Window),
			RequestCount: counters.Count,
			SumLatencyMS: counters.SumLatency,
			ErrorCount:   counters.Errors,
			AvgLatencyMS: counters.AvgLatency(),
			P50LatencyMS: aggregate.Percentile(lats, 50),
			P95LatencyMS: aggregate.Percentile(lats, 95),
			P99LatencyMS: aggregate.Percentile(lats, 99),
			SnapshotTime: now,
		})
	}

	written, err := r.snapshots.InsertBatch(ctx, rows)
	if err != nil {
		return fmt.Errorf("snapshot write (after %d rows): %w", written, err)
	}

	purged, err := r.snapshots.DeleteOlderThan(ctx, now.Add(-snapshotRetention))
	if err != nil {
		return fmt.Errorf("snapshot retention: %w", err)
	}

	r.log.Info().Int("written", written).Int64("purged", purged).
		Dur("took", time.Since(now)).Msg("snapshot complete")
	return nil
}
