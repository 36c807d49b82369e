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

// Package signal defines the telemetry fact that flows through the whole
// system: emitted by agents, queued, aggregated, sampled into Postgres.
package signal

import (
	"errors"
	"fmt"
	"time"
)

// Status is the request outcome reported by an agent.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Priority classifies how much a request matters when the engine decides to
// shed or defer load. Unknown values normalize to medium.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority maps a raw string onto a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Signal is one observed request. UserID identifies the account that owns the
// reporting agent; TenantID is the caller's own tenant label and is stored
// opaquely alongside the row.
type Signal struct {
	UserID             int64     `json:"user_id"`
	TenantID           string    `json:"tenant_id"`
	ServiceName        string    `json:"service_name"`
	Endpoint           string    `json:"endpoint"`
	LatencyMS          float64   `json:"latency_ms"`
	Status             Status    `json:"status"`
	Priority           Priority  `json:"priority,omitempty"`
	CustomerIdentifier string    `json:"customer_identifier,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

var errMissingField = errors.New("missing required field")

// Validate rejects signals that cannot be aggregated or stored.
func (s *Signal) Validate() error {
	if s.ServiceName == "" {
		return fmt.Errorf("%w: service_name", errMissingField)
	}
	if s.Endpoint == "" {
		return fmt.Errorf("%w: endpoint", errMissingField)
	}
	if s.LatencyMS < 0 {
		return fmt.Errorf("latency_ms must be >= 0, got %f", s.LatencyMS)
	}
	switch s.Status {
	case StatusSuccess, StatusError:
	default:
		return fmt.Errorf("status must be success or error, got %q", s.Status)
	}
	return nil
}

// Normalize fills defaults a producer may omit.
func (s *Signal) Normalize() {
	s.Priority = ParsePriority(string(s.Priority))
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
}

// IsError reports whether the signal represents a failed request.
func (s *Signal) IsError() bool {
	return s.Status == StatusError
}
