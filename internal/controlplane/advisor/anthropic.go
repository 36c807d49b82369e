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

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

// AnthropicAdvisor implements Advisor over the Anthropic Messages API. A
// circuit breaker keeps a misbehaving remote from stalling every tuning
// cycle: after repeated failures, calls fail fast until the cooldown passes.
type AnthropicAdvisor struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicAdvisor builds a client for the given API key and model name.
func NewAnthropicAdvisor(apiKey, model string) *AnthropicAdvisor {
	return &AnthropicAdvisor{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "advisor",
			MaxRequests: 1,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// RecommendThresholds asks for a tuned threshold set and validates it.
func (a *AnthropicAdvisor) RecommendThresholds(ctx context.Context, m MetricsReport, current CurrentThresholds) (*Recommendation, error) {
	raw, err := a.complete(ctx, thresholdPrompt(m, current))
	if err != nil {
		return nil, err
	}
	var rec Recommendation
	if err := decodeJSONBlock(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse recommendation: %w", err)
	}
	if err := ValidateRecommendation(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AnalyzePatterns asks for the qualitative read and validates it.
func (a *AnthropicAdvisor) AnalyzePatterns(ctx context.Context, m MetricsReport) (*Analysis, error) {
	raw, err := a.complete(ctx, analysisPrompt(m))
	if err != nil {
		return nil, err
	}
	var analysis Analysis
	if err := decodeJSONBlock(raw, &analysis); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	if err := ValidateAnalysis(&analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (a *AnthropicAdvisor) complete(ctx context.Context, prompt string) (string, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("advisor call: %w", err)
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			sb.WriteString(block.Text)
		}
		return sb.String(), nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// decodeJSONBlock extracts the outermost JSON object from a completion that
// may carry stray prose around it despite the prompt's instructions.
func decodeJSONBlock(raw string, v interface{}) error {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in completion (%d bytes)", len(raw))
	}
	return json.Unmarshal([]byte(raw[start:end+1]), v)
}
