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

package persistence

import (
	"context"

	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/signal"
)

// SnapshotMetricsSource adapts SnapshotRepo to the aggregator's fallback
// interface.
type SnapshotMetricsSource struct {
	Repo *SnapshotRepo
}

// Latest implements aggregate.SnapshotReader.
func (a SnapshotMetricsSource) Latest(ctx context.Context, userID int64, service, endpoint, window string) (*aggregate.SnapshotRecord, error) {
	s, err := a.Repo.Latest(ctx, userID, service, endpoint, window)
	if err != nil || s == nil {
		return nil, err
	}
	return &aggregate.SnapshotRecord{
		Count:        s.RequestCount,
		SumLatencyMS: s.SumLatencyMS,
		Errors:       s.ErrorCount,
		P50LatencyMS: s.P50LatencyMS,
		P95LatencyMS: s.P95LatencyMS,
		P99LatencyMS: s.P99LatencyMS,
		TakenAt:      s.SnapshotTime,
	}, nil
}

// RawMetricsSource adapts SignalRepo to the aggregator's last-resort fallback.
type RawMetricsSource struct {
	Repo *SignalRepo
}

// Recent implements aggregate.RawReader.
func (a RawMetricsSource) Recent(ctx context.Context, userID int64, service, endpoint string, limit int) ([]aggregate.RawSignal, error) {
	rows, err := a.Repo.Recent(ctx, userID, service, endpoint, limit)
	if err != nil {
		return nil, err
	}
	out := make([]aggregate.RawSignal, 0, len(rows))
	for _, r := range rows {
		out = append(out, aggregate.RawSignal{
			LatencyMS: r.LatencyMS,
			IsError:   r.Status == string(signal.StatusError),
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}
