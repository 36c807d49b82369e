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

// Package advisor defines the external analysis service the tuning loop
// consults, and an LLM-backed implementation of it. Everything the advisor
// returns is schema-validated before it can touch a threshold: a confused
// model must never widen a limit past its range.
package advisor

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Confidence grades a recommendation. Only medium and high are actionable.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Float maps confidence onto the numeric scale stored with thresholds.
func (c Confidence) Float() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.7
	default:
		return 0.5
	}
}

// Actionable reports whether a recommendation at this confidence may be
// applied.
func (c Confidence) Actionable() bool {
	return c == ConfidenceMedium || c == ConfidenceHigh
}

// MetricsReport is the endpoint summary handed to the advisor.
type MetricsReport struct {
	ServiceName       string
	Endpoint          string
	SignalCount       int64
	RequestsPerMinute float64
	AvgLatencyMS      float64
	P50LatencyMS      float64
	P95LatencyMS      float64
	P99LatencyMS      float64
	ErrorRatePct      float64
}

// CurrentThresholds is the active limit set included in the prompt so the
// advisor recommends relative to what is deployed.
type CurrentThresholds struct {
	CacheLatencyMS          int
	CircuitBreakerErrorRate float64
	QueueDeferralRPM        int
	LoadSheddingRPM         int
	RateLimitCustomerRPM    int
	Source                  string
}

// Recommendation is the advisor's proposed threshold set. Validation tags
// mirror the threshold store's ranges; reasoning must be substantial enough
// to display to an operator.
type Recommendation struct {
	CacheLatencyMS          int        `json:"cache_latency_ms" validate:"gte=10,lte=5000"`
	CircuitBreakerErrorRate float64    `json:"circuit_breaker_error_rate" validate:"gte=0.01,lte=1"`
	QueueDeferralRPM        int        `json:"queue_deferral_rpm" validate:"gte=10,lte=1000"`
	LoadSheddingRPM         int        `json:"load_shedding_rpm" validate:"gte=20,lte=5000,gtfield=QueueDeferralRPM"`
	RateLimitCustomerRPM    int        `json:"rate_limit_customer_rpm" validate:"gte=5,lte=500"`
	Reasoning               string     `json:"reasoning" validate:"min=50,max=1000"`
	Confidence              Confidence `json:"confidence" validate:"oneof=low medium high"`
}

// Pattern is one recurring traffic behavior the advisor identified.
type Pattern struct {
	PatternType    string     `json:"pattern_type" validate:"required"`
	Description    string     `json:"description" validate:"required"`
	Recommendation string     `json:"recommendation" validate:"required"`
	Confidence     Confidence `json:"confidence" validate:"oneof=low medium high"`
}

// Anomaly is one irregularity worth an operator's attention.
type Anomaly struct {
	Description    string `json:"description" validate:"required"`
	Severity       string `json:"severity" validate:"oneof=low medium high critical"`
	SuggestedCause string `json:"suggested_cause"`
}

// Analysis is the advisor's qualitative read of an endpoint.
type Analysis struct {
	Patterns  []Pattern `json:"patterns" validate:"max=5,dive"`
	Anomalies []Anomaly `json:"anomalies" validate:"max=3,dive"`
	Summary   string    `json:"summary" validate:"min=100,max=500"`
}

// Advisor is the external analysis service. Implementations may be slow and
// flaky; callers log failures and carry on with current thresholds.
type Advisor interface {
	RecommendThresholds(ctx context.Context, m MetricsReport, current CurrentThresholds) (*Recommendation, error)
	AnalyzePatterns(ctx context.Context, m MetricsReport) (*Analysis, error)
}

var validate = validator.New()

// ValidateRecommendation checks a recommendation against the schema ranges.
func ValidateRecommendation(r *Recommendation) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("recommendation rejected: %w", err)
	}
	return nil
}

// ValidateAnalysis checks a pattern analysis against its schema.
func ValidateAnalysis(a *Analysis) error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("analysis rejected: %w", err)
	}
	return nil
}
