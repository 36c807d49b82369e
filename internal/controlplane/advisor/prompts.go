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

package advisor

import "fmt"

func thresholdPrompt(m MetricsReport, cur CurrentThresholds) string {
	return fmt.Sprintf(`You are an expert Site Reliability Engineer tuning traffic-management
thresholds for a production API endpoint. Recommend threshold values based on the
observed metrics below.

ENDPOINT
  service:  %s
  endpoint: %s

OBSERVED METRICS (last hour, %d signals)
  requests_per_minute: %.1f
  avg_latency_ms:      %.1f
  p50_latency_ms:      %.1f
  p95_latency_ms:      %.1f
  p99_latency_ms:      %.1f
  error_rate_pct:      %.2f

CURRENT THRESHOLDS (source: %s)
  cache_latency_ms:           %d
  circuit_breaker_error_rate: %.2f
  queue_deferral_rpm:         %d
  load_shedding_rpm:          %d
  rate_limit_customer_rpm:    %d

CALCULATION RULES
- cache_latency_ms: slightly above p95 latency so caching engages only when the
  endpoint is genuinely slower than usual. Range 10-5000.
- circuit_breaker_error_rate: a fraction in 0.01-1.0. Keep comfortably above the
  observed error rate unless errors are already dangerous.
- queue_deferral_rpm: around 1.5x the observed requests_per_minute. Range 10-1000.
- load_shedding_rpm: around 2-3x observed requests_per_minute and STRICTLY GREATER
  than queue_deferral_rpm. Range 20-5000.
- rate_limit_customer_rpm: a fair single-customer share of total capacity. Range 5-500.
- Prefer small adjustments over dramatic swings. If the metrics look healthy and the
  current thresholds fit, recommend values close to the current ones with low confidence.

REASONING REQUIREMENTS
Write the reasoning for a human operator in plain language: state what you observed,
what you changed and why. 50-1000 characters. No jargon without explanation.

Respond with ONLY a JSON object, no surrounding prose:
{
  "cache_latency_ms": <int>,
  "circuit_breaker_error_rate": <float>,
  "queue_deferral_rpm": <int>,
  "load_shedding_rpm": <int>,
  "rate_limit_customer_rpm": <int>,
  "reasoning": "<string>",
  "confidence": "low" | "medium" | "high"
}`,
		m.ServiceName, m.Endpoint, m.SignalCount,
		m.RequestsPerMinute, m.AvgLatencyMS, m.P50LatencyMS, m.P95LatencyMS, m.P99LatencyMS,
		m.ErrorRatePct,
		cur.Source,
		cur.CacheLatencyMS, cur.CircuitBreakerErrorRate, cur.QueueDeferralRPM,
		cur.LoadSheddingRPM, cur.RateLimitCustomerRPM)
}

func analysisPrompt(m MetricsReport) string {
	return fmt.Sprintf(`You are an expert Site Reliability Engineer reviewing one API endpoint's
recent traffic for patterns and anomalies.

ENDPOINT
  service:  %s
  endpoint: %s

OBSERVED METRICS (last hour, %d signals)
  requests_per_minute: %.1f
  avg_latency_ms:      %.1f
  p50_latency_ms:      %.1f
  p95_latency_ms:      %.1f
  p99_latency_ms:      %.1f
  error_rate_pct:      %.2f

WHAT TO LOOK FOR
- Patterns: sustained load trends, latency tails (p99 far above p50), error bursts,
  suspiciously uniform traffic that suggests a scripted caller.
- Anomalies: anything that deviates from what a healthy endpoint at this volume
  should look like. If nothing is wrong, return an empty anomalies list.
- Keep at most 5 patterns and 3 anomalies, most important first.

Respond with ONLY a JSON object, no surrounding prose:
{
  "patterns": [
    {"pattern_type": "<string>", "description": "<string>",
     "recommendation": "<string>", "confidence": "low" | "medium" | "high"}
  ],
  "anomalies": [
    {"description": "<string>", "severity": "low" | "medium" | "high" | "critical",
     "suggested_cause": "<string>"}
  ],
  "summary": "<100-500 character plain-language summary for an operator>"
}`,
		m.ServiceName, m.Endpoint, m.SignalCount,
		m.RequestsPerMinute, m.AvgLatencyMS, m.P50LatencyMS, m.P95LatencyMS, m.P99LatencyMS,
		m.ErrorRatePct)
}
