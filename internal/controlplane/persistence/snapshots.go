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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// snapshotBatchSize bounds one transaction; a failed chunk loses at most this
// many rows, and earlier chunks stay committed.
const snapshotBatchSize = 50

// SnapshotRepo stores periodic fast-store dumps.
type SnapshotRepo struct {
	db *sqlx.DB
}

// NewSnapshotRepo wraps a pool.
func NewSnapshotRepo(db *sqlx.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// InsertBatch writes snapshots in transactions of snapshotBatchSize rows,
// committing as it goes. Returns how many rows made it in.
func (r *SnapshotRepo) InsertBatch(ctx context.Context, rows []Snapshot) (int, error) {
	written := 0
	for start := 0; start < len(rows); start += snapshotBatchSize {
		end := start + snapshotBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.insertChunk(ctx, rows[start:end]); err != nil {
			return written, fmt.Errorf("snapshot batch at row %d: %w", start, err)
		}
		written += end - start
	}
	return written, nil
}

func (r *SnapshotRepo) insertChunk(ctx context.Context, rows []Snapshot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO aggregate_snapshots
				(user_id, service_name, endpoint, "window",
				 request_count, sum_latency_ms, error_count, avg_latency_ms,
				 p50_latency_ms, p95_latency_ms, p99_latency_ms, snapshot_time)
			VALUES
				(:user_id, :service_name, :endpoint, :window,
				 :request_count, :sum_latency_ms, :error_count, :avg_latency_ms,
				 :p50_latency_ms, :p95_latency_ms, :p99_latency_ms, :snapshot_time)`,
			row)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// Latest returns the newest snapshot for one endpoint-window, or nil when none
// exists. Freshness policy (how stale is acceptable) belongs to the caller.
func (r *SnapshotRepo) Latest(ctx context.Context, userID int64, service, endpoint, window string) (*Snapshot, error) {
	var s Snapshot
	err := r.db.GetContext(ctx, &s, `
		SELECT id, user_id, service_name, endpoint, "window",
		       request_count, sum_latency_ms, error_count, avg_latency_ms,
		       p50_latency_ms, p95_latency_ms, p99_latency_ms, snapshot_time
		FROM aggregate_snapshots
		WHERE user_id = $1 AND service_name = $2 AND endpoint = $3 AND "window" = $4
		ORDER BY snapshot_time DESC
		LIMIT 1`,
		userID, service, endpoint, window)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &s, nil
}

// DeleteOlderThan drops snapshots past retention.
func (r *SnapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM aggregate_snapshots WHERE snapshot_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
