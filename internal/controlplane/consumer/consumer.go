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

// Package consumer turns queued signal messages into aggregate updates and
// sampled durable rows.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/signal"
	"controlplane/internal/controlplane/telemetry"
)

// Aggregate folds a signal into the sliding windows.
type Aggregate interface {
	Record(ctx context.Context, s signal.Signal) error
}

// SignalStore persists raw signal rows.
type SignalStore interface {
	Insert(ctx context.Context, s signal.Signal) error
}

// CacheInvalidator drops cached reads for one tenant's account.
type CacheInvalidator interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Processor implements the per-message contract. Aggregation is best-effort:
// a Fast Store hiccup degrades accuracy but never loses the message.
// Persistence is the opposite: a failed insert propagates so the delivery is
// requeued and retried.
type Processor struct {
	agg     Aggregate
	signals SignalStore
	cache   CacheInvalidator
	metrics *telemetry.Metrics
	log     zerolog.Logger

	// samplingRate is the probability a successful signal is stored raw;
	// errors always are.
	samplingRate float64
	// sample is swappable for tests; defaults to rand.Float64.
	sample func() float64
}

// NewProcessor wires a Processor. cache may be nil when no read cache is
// deployed.
func NewProcessor(agg Aggregate, signals SignalStore, cache CacheInvalidator,
	samplingRate float64, metrics *telemetry.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		agg:          agg,
		signals:      signals,
		cache:        cache,
		metrics:      metrics,
		log:          logger,
		samplingRate: samplingRate,
		sample:       rand.Float64,
	}
}

// Process handles one message body. The returned error means "requeue me":
// it is only raised for persistence failures and undecodable payloads are
// dropped (they would fail forever).
func (p *Processor) Process(ctx context.Context, body []byte) error {
	var s signal.Signal
	if err := json.Unmarshal(body, &s); err != nil {
		// Malformed payloads are logged and acked away; requeueing would
		// loop them through the DLQ TTL instead of surfacing the bug.
		p.log.Error().Err(err).Int("bytes", len(body)).Msg("dropping undecodable signal")
		return nil
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		p.log.Error().Err(err).
			Str("service", s.ServiceName).Str("endpoint", s.Endpoint).
			Msg("dropping invalid signal")
		return nil
	}
	if p.metrics != nil {
		p.metrics.SignalsConsumed.Inc()
	}

	if err := p.agg.Record(ctx, s); err != nil {
		p.log.Warn().Err(err).
			Str("service", s.ServiceName).Str("endpoint", s.Endpoint).
			Msg("aggregate update failed, continuing")
	}

	if p.shouldPersist(s) {
		if err := p.signals.Insert(ctx, s); err != nil {
			if p.metrics != nil {
				p.metrics.ConsumeFailures.Inc()
			}
			return fmt.Errorf("persist signal: %w", err)
		}
		if p.metrics != nil {
			p.metrics.SignalsStored.Inc()
		}
	} else if p.metrics != nil {
		p.metrics.SignalsSampled.Inc()
	}

	p.invalidateReadCache(ctx, s.UserID)
	return nil
}

// shouldPersist applies the sampling rule: errors always, successes with
// probability samplingRate.
func (p *Processor) shouldPersist(s signal.Signal) bool {
	if s.IsError() {
		return true
	}
	return p.sample() < p.samplingRate
}

func (p *Processor) invalidateReadCache(ctx context.Context, userID int64) {
	if p.cache == nil {
		return
	}
	pattern := fmt.Sprintf("user:%d:*", userID)
	if _, err := p.cache.DeletePattern(ctx, pattern); err != nil {
		p.log.Warn().Err(err).Int64("user_id", userID).Msg("cache invalidation failed")
	}
}
