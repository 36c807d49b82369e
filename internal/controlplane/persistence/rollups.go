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
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// RollupRepo stores hourly and daily rollups. Upserts are keyed on the bucket
// so a re-run of the same period overwrites instead of duplicating.
type RollupRepo struct {
	db *sqlx.DB
}

// NewRollupRepo wraps a pool.
func NewRollupRepo(db *sqlx.DB) *RollupRepo {
	return &RollupRepo{db: db}
}

// UpsertHourly writes one hourly bucket idempotently.
func (r *RollupRepo) UpsertHourly(ctx context.Context, h HourlyRollup) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO signal_rollups_hourly
			(user_id, tenant_id, service_name, endpoint, bucket_start,
			 request_count, avg_latency_ms, min_latency_ms, max_latency_ms,
			 p50_latency_ms, p95_latency_ms, p99_latency_ms,
			 error_count, error_rate_pct)
		VALUES
			(:user_id, :tenant_id, :service_name, :endpoint, :bucket_start,
			 :request_count, :avg_latency_ms, :min_latency_ms, :max_latency_ms,
			 :p50_latency_ms, :p95_latency_ms, :p99_latency_ms,
			 :error_count, :error_rate_pct)
		ON CONFLICT (user_id, tenant_id, service_name, endpoint, bucket_start) DO UPDATE SET
			request_count  = EXCLUDED.request_count,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			min_latency_ms = EXCLUDED.min_latency_ms,
			max_latency_ms = EXCLUDED.max_latency_ms,
			p50_latency_ms = EXCLUDED.p50_latency_ms,
			p95_latency_ms = EXCLUDED.p95_latency_ms,
			p99_latency_ms = EXCLUDED.p99_latency_ms,
			error_count    = EXCLUDED.error_count,
			error_rate_pct = EXCLUDED.error_rate_pct`,
		h)
	if err != nil {
		return fmt.Errorf("upsert hourly rollup: %w", err)
	}
	return nil
}

// HourlyCombos lists the endpoints that have hourly buckets inside [start, end).
func (r *RollupRepo) HourlyCombos(ctx context.Context, start, end time.Time) ([]EndpointKey, error) {
	var out []EndpointKey
	err := r.db.SelectContext(ctx, &out, `
		SELECT DISTINCT user_id, tenant_id, service_name, endpoint
		FROM signal_rollups_hourly
		WHERE bucket_start >= $1 AND bucket_start < $2`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("hourly combos: %w", err)
	}
	return out, nil
}

// HourlyRows returns one endpoint's hourly buckets inside [start, end).
func (r *RollupRepo) HourlyRows(ctx context.Context, key EndpointKey, start, end time.Time) ([]HourlyRollup, error) {
	var rows []HourlyRollup
	err := r.db.SelectContext(ctx, &rows, `
		SELECT user_id, tenant_id, service_name, endpoint, bucket_start,
		       request_count, avg_latency_ms, min_latency_ms, max_latency_ms,
		       p50_latency_ms, p95_latency_ms, p99_latency_ms,
		       error_count, error_rate_pct
		FROM signal_rollups_hourly
		WHERE user_id = $1 AND tenant_id = $2 AND service_name = $3 AND endpoint = $4
		  AND bucket_start >= $5 AND bucket_start < $6
		ORDER BY bucket_start`,
		key.UserID, key.TenantID, key.ServiceName, key.Endpoint, start, end)
	if err != nil {
		return nil, fmt.Errorf("hourly rows: %w", err)
	}
	return rows, nil
}

// UpsertDaily writes one daily bucket idempotently.
func (r *RollupRepo) UpsertDaily(ctx context.Context, d DailyRollup) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO signal_rollups_daily
			(user_id, tenant_id, service_name, endpoint, bucket_start,
			 request_count, avg_latency_ms, min_latency_ms, max_latency_ms,
			 p50_latency_ms, p95_latency_ms, p99_latency_ms,
			 error_count, error_rate_pct)
		VALUES
			(:user_id, :tenant_id, :service_name, :endpoint, :bucket_start,
			 :request_count, :avg_latency_ms, :min_latency_ms, :max_latency_ms,
			 :p50_latency_ms, :p95_latency_ms, :p99_latency_ms,
			 :error_count, :error_rate_pct)
		ON CONFLICT (user_id, tenant_id, service_name, endpoint, bucket_start) DO UPDATE SET
			request_count  = EXCLUDED.request_count,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			min_latency_ms = EXCLUDED.min_latency_ms,
			max_latency_ms = EXCLUDED.max_latency_ms,
			p50_latency_ms = EXCLUDED.p50_latency_ms,
			p95_latency_ms = EXCLUDED.p95_latency_ms,
			p99_latency_ms = EXCLUDED.p99_latency_ms,
			error_count    = EXCLUDED.error_count,
			error_rate_pct = EXCLUDED.error_rate_pct`,
		d)
	if err != nil {
		return fmt.Errorf("upsert daily rollup: %w", err)
	}
	return nil
}

// DeleteHourlyOlderThan drops hourly buckets past retention.
func (r *RollupRepo) DeleteHourlyOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM signal_rollups_hourly WHERE bucket_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old hourly rollups: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
