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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/decision"
	"controlplane/internal/controlplane/engine"
	"controlplane/internal/controlplane/persistence"
	"controlplane/internal/controlplane/signal"
)

type fakeIdentity struct {
	users map[string]*persistence.User
}

func (f *fakeIdentity) UserByAPIKey(ctx context.Context, key string) (*persistence.User, error) {
	if u, ok := f.users[key]; ok {
		return u, nil
	}
	return nil, persistence.ErrInvalidAPIKey
}

type fakePublisher struct {
	published []signal.Signal
	err       error
}

func (f *fakePublisher) PublishSignal(ctx context.Context, s signal.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, s)
	return nil
}

type fakeDecider struct {
	result decision.Result
	err    error

	gotService  string
	gotEndpoint string
	gotPriority signal.Priority
	gotCustomer string
}

func (f *fakeDecider) Decide(ctx context.Context, userID int64, service, endpoint string,
	priority signal.Priority, customerID string) (decision.Result, error) {
	f.gotService = service
	f.gotEndpoint = endpoint
	f.gotPriority = priority
	f.gotCustomer = customerID
	return f.result, f.err
}

type fakeAlerts struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAlerts) SendDecisionAlert(service, endpoint, reasoning string, m *aggregate.MetricsSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeAlerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestServer(pub *fakePublisher, dec *fakeDecider, alerts AlertSender) *Server {
	identity := &fakeIdentity{users: map[string]*persistence.User{
		"good-key": {ID: 7, Email: "owner@example.com", IsActive: true},
	}}
	return NewServer(identity, pub, dec, alerts, nil, zerolog.Nop())
}

func postSignal(t *testing.T, handler http.Handler, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/signals", bytes.NewReader(raw))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":    "acme",
		"service_name": "payments",
		"endpoint":     "/charge",
		"latency_ms":   123.4,
		"status":       "success",
		"priority":     "high",
	}
}

func TestIngestRequiresAuth(t *testing.T) {
	srv := newTestServer(&fakePublisher{}, &fakeDecider{}, nil)
	handler := srv.Routes()

	rec := postSignal(t, handler, "", validPayload())
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d, want 401", rec.Code)
	}

	rec = postSignal(t, handler, "bad-key", validPayload())
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", rec.Code)
	}
}

func TestIngestHappyPath(t *testing.T) {
	pub := &fakePublisher{}
	srv := newTestServer(pub, &fakeDecider{}, nil)

	rec := postSignal(t, srv.Routes(), "good-key", validPayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d signals, want 1", len(pub.published))
	}
	got := pub.published[0]
	if got.UserID != 7 {
		t.Errorf("user id = %d, want 7 (from the API key, not the body)", got.UserID)
	}
	if got.Priority != signal.PriorityHigh || got.ServiceName != "payments" {
		t.Errorf("published signal = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp must be defaulted")
	}
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	pub := &fakePublisher{}
	srv := newTestServer(pub, &fakeDecider{}, nil)
	handler := srv.Routes()

	missing := validPayload()
	delete(missing, "endpoint")
	if rec := postSignal(t, handler, "good-key", missing); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing endpoint: status = %d, want 422", rec.Code)
	}

	badStatus := validPayload()
	badStatus["status"] = "maybe"
	if rec := postSignal(t, handler, "good-key", badStatus); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad status: status = %d, want 422", rec.Code)
	}

	if len(pub.published) != 0 {
		t.Errorf("invalid payloads were published: %d", len(pub.published))
	}
}

func TestIngestQueueDown(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	srv := newTestServer(pub, &fakeDecider{}, nil)

	rec := postSignal(t, srv.Routes(), "good-key", validPayload())
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGetConfigAlwaysHTTP200(t *testing.T) {
	dec := &fakeDecider{result: decision.Result{
		Verdict: engine.Verdict{
			RateLimitCustomer: true,
			Reasoning:         "Default Per-Customer Rate Limit: customer at 40.0 req/min exceeds limit of 15 req/min.",
			StatusCode:        429,
			RetryAfterSec:     45,
		},
		Metrics: &aggregate.MetricsSnapshot{Source: aggregate.SourceFastStore},
	}}
	srv := newTestServer(&fakePublisher{}, dec, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/config/payments/charge?priority=low&customer_identifier=cust-9", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (verdict codes are advisory)", rec.Code)
	}

	var body configResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.RateLimitCustomer || body.StatusCode != 429 || body.RetryAfterSec != 45 {
		t.Errorf("body = %+v", body)
	}
	if body.MetricsSource != "fast_store" {
		t.Errorf("metrics source = %q", body.MetricsSource)
	}

	if dec.gotService != "payments" || dec.gotEndpoint != "/charge" {
		t.Errorf("decider got (%q, %q)", dec.gotService, dec.gotEndpoint)
	}
	if dec.gotPriority != signal.PriorityLow || dec.gotCustomer != "cust-9" {
		t.Errorf("decider got priority=%q customer=%q", dec.gotPriority, dec.gotCustomer)
	}
}

func TestGetConfigEchoesTenantAndReason(t *testing.T) {
	dec := &fakeDecider{result: decision.Result{
		Verdict: engine.Verdict{Reasoning: "Default Healthy: all metrics within thresholds.", StatusCode: 200},
	}}
	srv := newTestServer(&fakePublisher{}, dec, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/config/payments/charge?tenant_id=acme", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var raw map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["tenant_id"] != "acme" {
		t.Errorf("tenant_id = %v, want acme echoed back", raw["tenant_id"])
	}
	if raw["reason"] != "Default Healthy: all metrics within thresholds." {
		t.Errorf("reason = %v", raw["reason"])
	}
	if _, ok := raw["reasoning"]; ok {
		t.Error("explanation must serialize under the reason key")
	}
}

func TestGetConfigNestedEndpointPath(t *testing.T) {
	dec := &fakeDecider{result: decision.Result{Verdict: engine.Verdict{StatusCode: 200}}}
	srv := newTestServer(&fakePublisher{}, dec, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/config/search/v2/items/lookup", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if dec.gotEndpoint != "/v2/items/lookup" {
		t.Errorf("endpoint = %q, want /v2/items/lookup", dec.gotEndpoint)
	}
}

func TestGetConfigFiresAlert(t *testing.T) {
	alerts := &fakeAlerts{}
	dec := &fakeDecider{result: decision.Result{
		Verdict: engine.Verdict{CircuitBreaker: true, SendAlert: true, StatusCode: 200},
	}}
	srv := newTestServer(&fakePublisher{}, dec, alerts)

	req := httptest.NewRequest(http.MethodGet, "/api/config/payments/charge", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// The alert goroutine is fire-and-forget; give it a moment.
	deadline := time.Now().Add(time.Second)
	for alerts.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if alerts.count() != 1 {
		t.Errorf("alert calls = %d, want 1", alerts.count())
	}
}

func TestGetConfigDecisionFailure(t *testing.T) {
	dec := &fakeDecider{err: errors.New("stores down")}
	srv := newTestServer(&fakePublisher{}, dec, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/config/payments/charge", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
