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
	"database/sql"
	"time"
)

// SignalRow is one raw signal as stored.
type SignalRow struct {
	ID                 int64          `db:"id"`
	UserID             int64          `db:"user_id"`
	TenantID           string         `db:"tenant_id"`
	ServiceName        string         `db:"service_name"`
	Endpoint           string         `db:"endpoint"`
	LatencyMS          float64        `db:"latency_ms"`
	Status             string         `db:"status"`
	Priority           string         `db:"priority"`
	CustomerIdentifier sql.NullString `db:"customer_identifier"`
	Timestamp          time.Time      `db:"timestamp"`
	CreatedAt          time.Time      `db:"created_at"`
}

// EndpointKey identifies one aggregated stream.
type EndpointKey struct {
	UserID      int64  `db:"user_id"`
	TenantID    string `db:"tenant_id"`
	ServiceName string `db:"service_name"`
	Endpoint    string `db:"endpoint"`
}

// ActiveEndpoint is an EndpointKey plus its recent traffic volume.
type ActiveEndpoint struct {
	EndpointKey
	SignalCount int64 `db:"signal_count"`
}

// HourlyRollup is one hour of traffic folded to fixed-size stats.
// Percentiles here come from the raw rows of that hour (sorted-index method),
// not from the reservoir.
type HourlyRollup struct {
	UserID       int64     `db:"user_id"`
	TenantID     string    `db:"tenant_id"`
	ServiceName  string    `db:"service_name"`
	Endpoint     string    `db:"endpoint"`
	BucketStart  time.Time `db:"bucket_start"`
	RequestCount int64     `db:"request_count"`
	AvgLatencyMS float64   `db:"avg_latency_ms"`
	MinLatencyMS float64   `db:"min_latency_ms"`
	MaxLatencyMS float64   `db:"max_latency_ms"`
	P50LatencyMS float64   `db:"p50_latency_ms"`
	P95LatencyMS float64   `db:"p95_latency_ms"`
	P99LatencyMS float64   `db:"p99_latency_ms"`
	ErrorCount   int64     `db:"error_count"`
	ErrorRatePct float64   `db:"error_rate_pct"`
}

// DailyRollup folds a day of hourly rollups. Daily percentiles are the average
// of the hourly percentiles, an approximation accepted for trend dashboards.
type DailyRollup struct {
	UserID       int64     `db:"user_id"`
	TenantID     string    `db:"tenant_id"`
	ServiceName  string    `db:"service_name"`
	Endpoint     string    `db:"endpoint"`
	BucketStart  time.Time `db:"bucket_start"`
	RequestCount int64     `db:"request_count"`
	AvgLatencyMS float64   `db:"avg_latency_ms"`
	MinLatencyMS float64   `db:"min_latency_ms"`
	MaxLatencyMS float64   `db:"max_latency_ms"`
	P50LatencyMS float64   `db:"p50_latency_ms"`
	P95LatencyMS float64   `db:"p95_latency_ms"`
	P99LatencyMS float64   `db:"p99_latency_ms"`
	ErrorCount   int64     `db:"error_count"`
	ErrorRatePct float64   `db:"error_rate_pct"`
}

// Snapshot is a periodic dump of one fast-store window, taken so decisions
// survive a Redis flush.
type Snapshot struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	ServiceName  string    `db:"service_name"`
	Endpoint     string    `db:"endpoint"`
	Window       string    `db:"window"`
	RequestCount int64     `db:"request_count"`
	SumLatencyMS float64   `db:"sum_latency_ms"`
	ErrorCount   int64     `db:"error_count"`
	AvgLatencyMS float64   `db:"avg_latency_ms"`
	P50LatencyMS float64   `db:"p50_latency_ms"`
	P95LatencyMS float64   `db:"p95_latency_ms"`
	P99LatencyMS float64   `db:"p99_latency_ms"`
	SnapshotTime time.Time `db:"snapshot_time"`
}

// Insight is one analysis note produced by the tuning loop.
type Insight struct {
	UserID      int64     `db:"user_id"`
	ServiceName string    `db:"service_name"`
	Endpoint    string    `db:"endpoint"`
	InsightType string    `db:"insight_type"`
	Content     string    `db:"content"`
	Confidence  string    `db:"confidence"`
	CreatedAt   time.Time `db:"created_at"`
}

// User is the account that owns reporting agents.
type User struct {
	ID        int64     `db:"id"`
	Email     string    `db:"email"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}
