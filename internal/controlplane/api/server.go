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

// Package api serves the two agent-facing endpoints: signal ingest and
// decision lookup.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/decision"
	"controlplane/internal/controlplane/persistence"
	"controlplane/internal/controlplane/signal"
	"controlplane/internal/controlplane/telemetry"
)

// IdentityLookup resolves bearer keys to accounts.
type IdentityLookup interface {
	UserByAPIKey(ctx context.Context, key string) (*persistence.User, error)
}

// SignalPublisher enqueues accepted signals.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, s signal.Signal) error
}

// Decider evaluates traffic guidance.
type Decider interface {
	Decide(ctx context.Context, userID int64, service, endpoint string,
		priority signal.Priority, customerID string) (decision.Result, error)
}

// AlertSender delivers breaker alerts out of band. Implementations must not
// block: they are invoked fire-and-forget.
type AlertSender interface {
	SendDecisionAlert(service, endpoint, reasoning string, m *aggregate.MetricsSnapshot)
}

// Server is the HTTP surface.
type Server struct {
	identity  IdentityLookup
	publisher SignalPublisher
	decider   Decider
	alerts    AlertSender
	metrics   *telemetry.Metrics
	log       zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP surface. alerts and metrics may be nil.
func NewServer(identity IdentityLookup, publisher SignalPublisher, decider Decider,
	alerts AlertSender, metrics *telemetry.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		identity:  identity,
		publisher: publisher,
		decider:   decider,
		alerts:    alerts,
		metrics:   metrics,
		log:       logger,
	}
}

// Routes builds the router. Exposed separately so tests can drive handlers
// without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(s.apiKeyAuth)
		r.Post("/signals", s.handleIngestSignal)
		r.Get("/config/{service}/*", s.handleGetConfig)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("api listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Detail string `json:"detail"`
}
