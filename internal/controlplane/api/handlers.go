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

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"controlplane/internal/controlplane/signal"
)

// signalPayload is the ingest request body. user_id is never accepted from
// the wire; it comes from the authenticated key.
type signalPayload struct {
	TenantID           string  `json:"tenant_id"`
	ServiceName        string  `json:"service_name"`
	Endpoint           string  `json:"endpoint"`
	LatencyMS          float64 `json:"latency_ms"`
	Status             string  `json:"status"`
	Priority           string  `json:"priority"`
	CustomerIdentifier string  `json:"customer_identifier"`
	Timestamp          string  `json:"timestamp"`
}

type ingestResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var p signalPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: "malformed JSON body"})
		return
	}

	sig := signal.Signal{
		UserID:             user.ID,
		TenantID:           p.TenantID,
		ServiceName:        p.ServiceName,
		Endpoint:           p.Endpoint,
		LatencyMS:          p.LatencyMS,
		Status:             signal.Status(p.Status),
		Priority:           signal.ParsePriority(p.Priority),
		CustomerIdentifier: p.CustomerIdentifier,
	}
	if p.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: "timestamp must be RFC3339"})
			return
		}
		sig.Timestamp = ts
	}
	sig.Normalize()
	if err := sig.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Detail: err.Error()})
		return
	}

	if err := s.publisher.PublishSignal(r.Context(), sig); err != nil {
		s.log.Error().Err(err).
			Str("service", sig.ServiceName).Str("endpoint", sig.Endpoint).
			Msg("signal publish failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "signal queue unavailable"})
		return
	}
	if s.metrics != nil {
		s.metrics.SignalsPublished.Inc()
	}
	writeJSON(w, http.StatusCreated, ingestResponse{Status: "queued"})
}

// configResponse carries the engine verdict. StatusCode is advisory guidance
// for the agent's own response to its caller; the HTTP status of this
// endpoint is always 200 once authenticated.
type configResponse struct {
	ServiceName string `json:"service_name"`
	Endpoint    string `json:"endpoint"`
	TenantID    string `json:"tenant_id,omitempty"`

	CacheEnabled      bool `json:"cache_enabled"`
	CircuitBreaker    bool `json:"circuit_breaker"`
	RateLimitCustomer bool `json:"rate_limit_customer"`
	QueueDeferral     bool `json:"queue_deferral"`
	LoadShedding      bool `json:"load_shedding"`

	Reason            string `json:"reason"`
	StatusCode        int    `json:"status_code"`
	RetryAfterSec     int    `json:"retry_after,omitempty"`
	EstimatedDelaySec int    `json:"estimated_delay,omitempty"`
	MetricsSource     string `json:"metrics_source,omitempty"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	service := chi.URLParam(r, "service")
	endpoint := "/" + chi.URLParam(r, "*")

	priority := signal.ParsePriority(r.URL.Query().Get("priority"))
	customerID := r.URL.Query().Get("customer_identifier")
	tenantID := r.URL.Query().Get("tenant_id")

	res, err := s.decider.Decide(r.Context(), user.ID, service, endpoint, priority, customerID)
	if err != nil {
		s.log.Error().Err(err).
			Str("service", service).Str("endpoint", endpoint).
			Msg("decision failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "decision temporarily unavailable"})
		return
	}
	v := res.Verdict

	if v.SendAlert && s.alerts != nil {
		// Fire-and-forget: alert latency must never ride on the agent's
		// request path.
		go s.alerts.SendDecisionAlert(service, endpoint, v.Reasoning, res.Metrics)
	}

	body := configResponse{
		ServiceName:       service,
		Endpoint:          endpoint,
		TenantID:          tenantID,
		CacheEnabled:      v.CacheEnabled,
		CircuitBreaker:    v.CircuitBreaker,
		RateLimitCustomer: v.RateLimitCustomer,
		QueueDeferral:     v.QueueDeferral,
		LoadShedding:      v.LoadShedding,
		Reason:            v.Reasoning,
		StatusCode:        v.StatusCode,
		RetryAfterSec:     v.RetryAfterSec,
		EstimatedDelaySec: v.EstimatedDelaySec,
	}
	if res.Metrics != nil {
		body.MetricsSource = string(res.Metrics.Source)
	}
	writeJSON(w, http.StatusOK, body)
}
