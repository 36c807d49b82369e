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

// Package engine decides what an agent should do with its next request.
// Evaluate is a pure function of its inputs: same metrics, thresholds,
// priority and clock always produce the same verdict, so decisions are
// replayable from logs.
package engine

import (
	"fmt"
	"time"

	"controlplane/internal/controlplane/signal"
	"controlplane/internal/controlplane/thresholds"
)

// minSignalCount gates decisions: below this the engine refuses to act on
// noise and just allows traffic through.
const minSignalCount = 3

// Metrics is the consolidated endpoint view the engine evaluates. ErrorRate
// is a fraction in [0,1]; CustomerRPM is the caller's own request rate, 0
// when no customer identifier was supplied.
type Metrics struct {
	Count             int64
	AvgLatencyMS      float64
	ErrorRate         float64
	RequestsPerMinute float64
	CustomerRPM       float64
}

// Verdict is the full instruction set returned to an agent. StatusCode is
// advisory: the HTTP response that carries the verdict is always 200, and the
// agent applies this code to its own caller.
type Verdict struct {
	CacheEnabled      bool
	CircuitBreaker    bool
	RateLimitCustomer bool
	QueueDeferral     bool
	LoadShedding      bool
	SendAlert         bool

	Reasoning         string
	StatusCode        int
	RetryAfterSec     int
	EstimatedDelaySec int
}

// Action names the dominant flag for telemetry.
func (v Verdict) Action() string {
	switch {
	case v.RateLimitCustomer:
		return "rate_limit_customer"
	case v.LoadShedding:
		return "load_shedding"
	case v.QueueDeferral:
		return "queue_deferral"
	case v.CircuitBreaker:
		return "circuit_breaker"
	case v.CacheEnabled:
		return "cache"
	default:
		return "allow"
	}
}

// Evaluate runs the rule chain in fixed order; the first protective rule that
// fires wins. now feeds the Retry-After calculation for per-customer limits
// (the limit resets at the top of the minute).
//
// Order: per-customer limit, shedding, near-limit shedding, queue deferral,
// circuit breaker, degradation cache, latency cache, elevated-error watch,
// healthy.
func Evaluate(m Metrics, t thresholds.Record, p signal.Priority, now time.Time) Verdict {
	prefix := "Default"
	if t.Source == thresholds.SourceTuned {
		prefix = "AI-Tuned"
	}

	if m.Count < minSignalCount {
		return Verdict{
			Reasoning: fmt.Sprintf(
				"%s: insufficient data (%d signals, need %d+). Allowing traffic.",
				prefix, m.Count, minSignalCount),
			StatusCode: 200,
		}
	}

	// Per-customer limits outrank everything, including critical priority:
	// one abusive caller must not ride out a global overload.
	if m.CustomerRPM > float64(t.RateLimitCustomerRPM) {
		return Verdict{
			RateLimitCustomer: true,
			Reasoning: fmt.Sprintf(
				"%s Per-Customer Rate Limit: customer at %.1f req/min exceeds limit of %d req/min.",
				prefix, m.CustomerRPM, t.RateLimitCustomerRPM),
			StatusCode:    429,
			RetryAfterSec: int(60 - now.Unix()%60),
		}
	}

	// Critical traffic is exempt from volume-based shedding and deferral but
	// not from the error- and latency-based rules below.
	if p != signal.PriorityCritical {
		shed := float64(t.LoadSheddingRPM)
		queue := float64(t.QueueDeferralRPM)

		if m.RequestsPerMinute > shed && (p == signal.PriorityLow || p == signal.PriorityMedium) {
			return Verdict{
				LoadShedding: true,
				CacheEnabled: true,
				Reasoning: fmt.Sprintf(
					"%s Load Shedding: traffic at %.1f req/min exceeds threshold of %d req/min. Shedding %s priority requests.",
					prefix, m.RequestsPerMinute, t.LoadSheddingRPM, p),
				StatusCode:    503,
				RetryAfterSec: 30,
			}
		}
		if m.RequestsPerMinute > 0.8*shed && p == signal.PriorityLow {
			return Verdict{
				LoadShedding: true,
				CacheEnabled: true,
				Reasoning: fmt.Sprintf(
					"%s Load Shedding: traffic at %.1f req/min approaching threshold of %d req/min. Shedding low priority requests.",
					prefix, m.RequestsPerMinute, t.LoadSheddingRPM),
				StatusCode: 503,
			}
		}
		if m.RequestsPerMinute > queue && (p == signal.PriorityLow || p == signal.PriorityMedium) {
			return Verdict{
				QueueDeferral: true,
				CacheEnabled:  true,
				Reasoning: fmt.Sprintf(
					"%s Queue Deferral: traffic at %.1f req/min exceeds threshold of %d req/min. Deferring %s priority requests.",
					prefix, m.RequestsPerMinute, t.QueueDeferralRPM, p),
				StatusCode:        202,
				EstimatedDelaySec: 10,
			}
		}
	}

	breaker := t.CircuitBreakerErrorRate
	cacheMS := float64(t.CacheLatencyMS)

	if m.ErrorRate >= breaker {
		return Verdict{
			CircuitBreaker: true,
			SendAlert:      true,
			Reasoning: fmt.Sprintf(
				"%s CRITICAL: error rate %.1f%% exceeds threshold of %.0f%%. Circuit breaker activated.",
				prefix, m.ErrorRate*100, breaker*100),
			StatusCode: 200,
		}
	}
	if m.ErrorRate >= 0.5*breaker && m.AvgLatencyMS >= 0.8*cacheMS {
		return Verdict{
			CacheEnabled: true,
			Reasoning: fmt.Sprintf(
				"%s Performance Degradation: latency %.0fms with error rate %.1f%%. Caching enabled.",
				prefix, m.AvgLatencyMS, m.ErrorRate*100),
			StatusCode: 200,
		}
	}
	if m.AvgLatencyMS >= cacheMS {
		return Verdict{
			CacheEnabled: true,
			Reasoning: fmt.Sprintf(
				"%s High Latency: %.0fms exceeds threshold of %dms. Caching enabled.",
				prefix, m.AvgLatencyMS, t.CacheLatencyMS),
			StatusCode: 200,
		}
	}
	if m.ErrorRate >= 0.5*breaker {
		return Verdict{
			Reasoning: fmt.Sprintf(
				"%s Elevated Error Rate: %.1f%% (threshold %.0f%%). Monitoring, no action.",
				prefix, m.ErrorRate*100, breaker*100),
			StatusCode: 200,
		}
	}

	return Verdict{
		Reasoning: fmt.Sprintf(
			"%s Healthy: latency %.0fms, error rate %.1f%%, traffic %.1f req/min.",
			prefix, m.AvgLatencyMS, m.ErrorRate*100, m.RequestsPerMinute),
		StatusCode: 200,
	}
}
