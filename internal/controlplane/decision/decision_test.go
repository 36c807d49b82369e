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

package decision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/signal"
	"controlplane/internal/controlplane/thresholds"
)

type fakeMetrics struct {
	snap *aggregate.MetricsSnapshot
}

func (f *fakeMetrics) Read(ctx context.Context, userID int64, service, endpoint string, w aggregate.Window) (*aggregate.MetricsSnapshot, error) {
	return f.snap, nil
}

type fakeRates struct {
	rpm float64
	err error
}

func (f *fakeRates) CustomerRate(ctx context.Context, userID int64, service, endpoint, customerID string) (float64, error) {
	return f.rpm, f.err
}

type fakeThresholds struct{}

func (fakeThresholds) ReadOne(ctx context.Context, userID int64, service, endpoint string) (thresholds.Record, error) {
	return thresholds.Defaults(userID, service, endpoint), nil
}

func TestDecideUsesResolvedMetrics(t *testing.T) {
	snap := &aggregate.MetricsSnapshot{
		Count:             50,
		AvgLatencyMS:      700, // above the 500ms cache default
		ErrorRate:         0.01,
		RequestsPerMinute: 10,
		Source:            aggregate.SourceFastStore,
	}
	svc := New(&fakeMetrics{snap: snap}, &fakeRates{}, fakeThresholds{}, nil, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	res, err := svc.Decide(context.Background(), 1, "payments", "/charge", signal.PriorityMedium, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !res.Verdict.CacheEnabled {
		t.Errorf("want cache verdict for 700ms latency, got %+v", res.Verdict)
	}
	if res.Metrics != snap {
		t.Error("result must carry the resolved metrics")
	}
}

func TestDecideNoDataAllows(t *testing.T) {
	svc := New(&fakeMetrics{snap: nil}, &fakeRates{}, fakeThresholds{}, nil, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	res, err := svc.Decide(context.Background(), 1, "ghost", "/none", signal.PriorityLow, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !strings.Contains(res.Verdict.Reasoning, "insufficient data") {
		t.Errorf("reasoning = %q", res.Verdict.Reasoning)
	}
	if res.Metrics != nil {
		t.Error("metrics must be nil when every tier is empty")
	}
}

func TestDecideAppliesCustomerRate(t *testing.T) {
	snap := &aggregate.MetricsSnapshot{Count: 50, RequestsPerMinute: 10, Source: aggregate.SourceFastStore}
	svc := New(&fakeMetrics{snap: snap}, &fakeRates{rpm: 40}, fakeThresholds{}, nil, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	res, err := svc.Decide(context.Background(), 1, "payments", "/charge", signal.PriorityMedium, "cust-1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !res.Verdict.RateLimitCustomer {
		t.Errorf("40 rpm against a 15 rpm limit must rate limit, got %+v", res.Verdict)
	}
}

func TestDecideDegradesWhenCustomerRateUnavailable(t *testing.T) {
	snap := &aggregate.MetricsSnapshot{Count: 50, RequestsPerMinute: 10, Source: aggregate.SourceFastStore}
	rates := &fakeRates{err: errors.New("redis timeout")}
	svc := New(&fakeMetrics{snap: snap}, rates, fakeThresholds{}, nil, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	res, err := svc.Decide(context.Background(), 1, "payments", "/charge", signal.PriorityMedium, "cust-1")
	if err != nil {
		t.Fatalf("a fast-store failure must degrade, not fail the decision: %v", err)
	}
	if res.Verdict.RateLimitCustomer {
		t.Errorf("unknown customer rate must count as zero, got %+v", res.Verdict)
	}
}
