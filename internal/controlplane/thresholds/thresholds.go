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

// Package thresholds stores the per-endpoint limits the decision engine
// evaluates against. Every endpoint starts on the defaults; the tuning loop
// may replace them with validated, higher-confidence values.
package thresholds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
)

// Source records where a threshold set came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceTuned   Source = "tuned"
)

// Record is one endpoint's threshold set. Validation ranges bound how far the
// tuning loop can move any knob; LoadSheddingRPM must stay above
// QueueDeferralRPM so shedding always means more pressure than queueing.
type Record struct {
	UserID      int64  `db:"user_id"`
	ServiceName string `db:"service_name"`
	Endpoint    string `db:"endpoint"`

	CacheLatencyMS          int     `db:"cache_latency_ms" validate:"gte=10,lte=5000"`
	CircuitBreakerErrorRate float64 `db:"circuit_breaker_error_rate" validate:"gte=0.01,lte=1"`
	QueueDeferralRPM        int     `db:"queue_deferral_rpm" validate:"gte=10,lte=1000"`
	LoadSheddingRPM         int     `db:"load_shedding_rpm" validate:"gte=20,lte=5000,gtfield=QueueDeferralRPM"`
	RateLimitCustomerRPM    int     `db:"rate_limit_customer_rpm" validate:"gte=5,lte=500"`

	Confidence  float64   `db:"confidence"`
	Reasoning   string    `db:"reasoning"`
	Source      Source    `db:"source"`
	LastUpdated time.Time `db:"last_updated"`
}

// Defaults returns the conservative starting thresholds every endpoint gets
// before any tuning has happened.
func Defaults(userID int64, service, endpoint string) Record {
	return Record{
		UserID:                  userID,
		ServiceName:             service,
		Endpoint:                endpoint,
		CacheLatencyMS:          500,
		CircuitBreakerErrorRate: 0.30,
		QueueDeferralRPM:        80,
		LoadSheddingRPM:         150,
		RateLimitCustomerRPM:    15,
		Confidence:              0,
		Source:                  SourceDefault,
	}
}

var validate = validator.New()

// Validate checks the record against the schema ranges.
func Validate(r Record) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("threshold validation: %w", err)
	}
	return nil
}

// Store persists tuned threshold records.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps a pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ReadOne returns the stored record for an endpoint, or the defaults when the
// endpoint has never been tuned. The engine never sees an absent record.
func (s *Store) ReadOne(ctx context.Context, userID int64, service, endpoint string) (Record, error) {
	var r Record
	err := s.db.GetContext(ctx, &r, `
		SELECT user_id, service_name, endpoint,
		       cache_latency_ms, circuit_breaker_error_rate, queue_deferral_rpm,
		       load_shedding_rpm, rate_limit_customer_rpm,
		       confidence, reasoning, source, last_updated
		FROM ai_thresholds
		WHERE user_id = $1 AND service_name = $2 AND endpoint = $3`,
		userID, service, endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(userID, service, endpoint), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read thresholds: %w", err)
	}
	return r, nil
}

// Upsert validates and writes a threshold record, replacing any previous set
// for the endpoint.
func (s *Store) Upsert(ctx context.Context, r Record) error {
	if err := Validate(r); err != nil {
		return err
	}
	r.LastUpdated = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ai_thresholds
			(user_id, service_name, endpoint,
			 cache_latency_ms, circuit_breaker_error_rate, queue_deferral_rpm,
			 load_shedding_rpm, rate_limit_customer_rpm,
			 confidence, reasoning, source, last_updated)
		VALUES
			(:user_id, :service_name, :endpoint,
			 :cache_latency_ms, :circuit_breaker_error_rate, :queue_deferral_rpm,
			 :load_shedding_rpm, :rate_limit_customer_rpm,
			 :confidence, :reasoning, :source, :last_updated)
		ON CONFLICT (user_id, service_name, endpoint) DO UPDATE SET
			cache_latency_ms           = EXCLUDED.cache_latency_ms,
			circuit_breaker_error_rate = EXCLUDED.circuit_breaker_error_rate,
			queue_deferral_rpm         = EXCLUDED.queue_deferral_rpm,
			load_shedding_rpm          = EXCLUDED.load_shedding_rpm,
			rate_limit_customer_rpm    = EXCLUDED.rate_limit_customer_rpm,
			confidence                 = EXCLUDED.confidence,
			reasoning                  = EXCLUDED.reasoning,
			source                     = EXCLUDED.source,
			last_updated               = EXCLUDED.last_updated`,
		r)
	if err != nil {
		return fmt.Errorf("upsert thresholds: %w", err)
	}
	return nil
}
