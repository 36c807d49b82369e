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
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"controlplane/internal/controlplane/signal"
)

// SignalRepo stores and queries raw signals.
type SignalRepo struct {
	db *sqlx.DB
}

// NewSignalRepo wraps a pool.
func NewSignalRepo(db *sqlx.DB) *SignalRepo {
	return &SignalRepo{db: db}
}

// Insert stores one raw signal.
func (r *SignalRepo) Insert(ctx context.Context, s signal.Signal) error {
	customer := sql.NullString{String: s.CustomerIdentifier, Valid: s.CustomerIdentifier != ""}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals
			(user_id, tenant_id, service_name, endpoint, latency_ms, status,
			 priority, customer_identifier, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.UserID, s.TenantID, s.ServiceName, s.Endpoint, s.LatencyMS,
		string(s.Status), string(s.Priority), customer, s.Timestamp)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// Recent returns the newest raw signals for one endpoint, newest first. The
// last tier of the metrics fallback reads at most 20 of these.
func (r *SignalRepo) Recent(ctx context.Context, userID int64, service, endpoint string, limit int) ([]SignalRow, error) {
	var rows []SignalRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, tenant_id, service_name, endpoint, latency_ms,
		       status, priority, customer_identifier, timestamp, created_at
		FROM signals
		WHERE user_id = $1 AND service_name = $2 AND endpoint = $3
		ORDER BY timestamp DESC
		LIMIT $4`,
		userID, service, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	return rows, nil
}

// ActiveEndpoints lists the endpoints that received signals since the cutoff,
// with their volumes. The tuner uses this to find streams worth analyzing.
func (r *SignalRepo) ActiveEndpoints(ctx context.Context, since time.Time) ([]ActiveEndpoint, error) {
	var out []ActiveEndpoint
	err := r.db.SelectContext(ctx, &out, `
		SELECT user_id, tenant_id, service_name, endpoint, COUNT(*) AS signal_count
		FROM signals
		WHERE timestamp >= $1
		GROUP BY user_id, tenant_id, service_name, endpoint
		ORDER BY signal_count DESC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("active endpoints: %w", err)
	}
	return out, nil
}

// WindowCombos lists the endpoints that received signals inside [start, end).
func (r *SignalRepo) WindowCombos(ctx context.Context, start, end time.Time) ([]EndpointKey, error) {
	var out []EndpointKey
	err := r.db.SelectContext(ctx, &out, `
		SELECT DISTINCT user_id, tenant_id, service_name, endpoint
		FROM signals
		WHERE timestamp >= $1 AND timestamp < $2`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("window combos: %w", err)
	}
	return out, nil
}

// WindowRows returns one endpoint's rows inside [start, end) for rollup.
func (r *SignalRepo) WindowRows(ctx context.Context, key EndpointKey, start, end time.Time) ([]SignalRow, error) {
	var rows []SignalRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, tenant_id, service_name, endpoint, latency_ms,
		       status, priority, customer_identifier, timestamp, created_at
		FROM signals
		WHERE user_id = $1 AND tenant_id = $2 AND service_name = $3 AND endpoint = $4
		  AND timestamp >= $5 AND timestamp < $6`,
		key.UserID, key.TenantID, key.ServiceName, key.Endpoint, start, end)
	if err != nil {
		return nil, fmt.Errorf("window rows: %w", err)
	}
	return rows, nil
}

// DeleteOlderThan drops raw signals past their retention and reports how many.
func (r *SignalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM signals WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
