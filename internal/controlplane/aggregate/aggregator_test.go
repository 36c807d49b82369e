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

package aggregate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"controlplane/internal/controlplane/signal"
	"controlplane/internal/controlplane/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fast := store.NewWithClient(client)
	return New(fast), fast
}

func testSignal(latency float64, status signal.Status) signal.Signal {
	return signal.Signal{
		UserID:      1,
		TenantID:    "acme",
		ServiceName: "payments",
		Endpoint:    "/charge",
		LatencyMS:   latency,
		Status:      status,
		Priority:    signal.PriorityMedium,
		Timestamp:   time.Now().UTC(),
	}
}

func TestRecordUpdatesAllWindows(t *testing.T) {
	agg, fast := newTestAggregator(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	if err := agg.Record(ctx, testSignal(100, signal.StatusSuccess)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := agg.Record(ctx, testSignal(200, signal.StatusError)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	for _, w := range []Window{Window1m, Window1h, Window24h} {
		key := windowKey(1, "payments", "/charge", w, fixed)
		counters, ok, err := fast.ReadWindow(ctx, key)
		if err != nil || !ok {
			t.Fatalf("window %s missing: ok=%v err=%v", w, ok, err)
		}
		if counters.Count != 2 || counters.Errors != 1 || counters.SumLatency != 300 {
			t.Errorf("window %s = %+v, want count=2 errors=1 sum=300", w, counters)
		}
	}
}

func TestRateByWindow(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	for i := 0; i < 120; i++ {
		if err := agg.Record(ctx, testSignal(50, signal.StatusSuccess)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	oneMin, err := agg.Rate(ctx, 1, "payments", "/charge", Window1m)
	if err != nil {
		t.Fatalf("Rate 1m: %v", err)
	}
	if oneMin != 120 {
		t.Errorf("1m rate = %f, want 120 (bucket count)", oneMin)
	}

	oneHour, err := agg.Rate(ctx, 1, "payments", "/charge", Window1h)
	if err != nil {
		t.Fatalf("Rate 1h: %v", err)
	}
	if oneHour != 2 {
		t.Errorf("1h rate = %f, want 2 (120/60)", oneHour)
	}

	day, err := agg.Rate(ctx, 1, "payments", "/charge", Window24h)
	if err != nil {
		t.Fatalf("Rate 24h: %v", err)
	}
	if want := 120.0 / 1440; day != want {
		t.Errorf("24h rate = %f, want %f", day, want)
	}
}

func TestRateMissingWindowIsZero(t *testing.T) {
	agg, _ := newTestAggregator(t)

	rpm, err := agg.Rate(context.Background(), 99, "ghost", "/none", Window1h)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if rpm != 0 {
		t.Errorf("rate = %f, want 0", rpm)
	}
}

func TestCustomerRate(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	s := testSignal(50, signal.StatusSuccess)
	s.CustomerIdentifier = "cust-9"
	for i := 0; i < 5; i++ {
		if err := agg.Record(ctx, s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rpm, err := agg.CustomerRate(ctx, 1, "payments", "/charge", "cust-9")
	if err != nil {
		t.Fatalf("CustomerRate: %v", err)
	}
	if rpm != 5 {
		t.Errorf("customer rate = %f, want 5", rpm)
	}

	other, err := agg.CustomerRate(ctx, 1, "payments", "/charge", "cust-0")
	if err != nil || other != 0 {
		t.Errorf("unseen customer rate = %f err=%v, want 0", other, err)
	}
}

func TestPercentilesFromReservoir(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	// 1..100 ms, shuffled arrival is irrelevant since reads sort.
	for i := 1; i <= 100; i++ {
		if err := agg.Record(ctx, testSignal(float64(i), signal.StatusSuccess)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	p50, p95, p99, err := agg.Percentiles(ctx, 1, "payments", "/charge", Window1h)
	if err != nil {
		t.Fatalf("Percentiles: %v", err)
	}
	if math.Abs(p50-50.5) > 1e-9 {
		t.Errorf("p50 = %f, want 50.5", p50)
	}
	if math.Abs(p95-95.05) > 1e-9 {
		t.Errorf("p95 = %f, want 95.05", p95)
	}
	if math.Abs(p99-99.01) > 1e-9 {
		t.Errorf("p99 = %f, want 99.01", p99)
	}
}

func TestParseWindowKey(t *testing.T) {
	cases := []struct {
		key  string
		ok   bool
		want ParsedKey
	}{
		{"agg:user:7:svc:payments:ep:/charge:1h", true,
			ParsedKey{UserID: 7, Service: "payments", Endpoint: "/charge", Window: Window1h}},
		{"agg:user:7:svc:payments:ep:/charge:24h", true,
			ParsedKey{UserID: 7, Service: "payments", Endpoint: "/charge", Window: Window24h}},
		{"agg:user:7:svc:payments:ep:/charge:1h:latencies", false, ParsedKey{}},
		{"agg:user:7:svc:payments:ep:/charge:1m:29538130", false, ParsedKey{}},
		{"agg:user:7:svc:payments:ep:/charge:client:c1:1m:29538130", false, ParsedKey{}},
		{"cache:user:7:whatever", false, ParsedKey{}},
	}
	for _, tc := range cases {
		got, ok := ParseWindowKey(tc.key)
		if ok != tc.ok {
			t.Errorf("ParseWindowKey(%q) ok = %v, want %v", tc.key, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("ParseWindowKey(%q) = %+v, want %+v", tc.key, got, tc.want)
		}
	}
}

type fakeSnapshotReader struct {
	rec *SnapshotRecord
}

func (f *fakeSnapshotReader) Latest(ctx context.Context, userID int64, service, endpoint, window string) (*SnapshotRecord, error) {
	return f.rec, nil
}

type fakeRawReader struct {
	rows []RawSignal
}

func (f *fakeRawReader) Recent(ctx context.Context, userID int64, service, endpoint string, limit int) ([]RawSignal, error) {
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func TestMetricsReaderPrefersFastStore(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	for i := 0; i < 10; i++ {
		if err := agg.Record(ctx, testSignal(100, signal.StatusSuccess)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	reader := NewMetricsReader(agg, &fakeSnapshotReader{rec: &SnapshotRecord{Count: 999}}, nil)
	m, err := reader.Read(ctx, 1, "payments", "/charge", Window1h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m == nil || m.Source != SourceFastStore {
		t.Fatalf("source = %v, want fast store", m)
	}
	if m.Count != 10 || m.AvgLatencyMS != 100 {
		t.Errorf("metrics = %+v, want count=10 avg=100", m)
	}
}

func TestMetricsReaderDegradesOnPartialFastStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	agg := New(store.NewWithClient(client))
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	for i := 0; i < 10; i++ {
		if err := agg.Record(ctx, testSignal(100, signal.StatusSuccess)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// Corrupt the reservoir so the percentile read fails after the counter
	// read already succeeded.
	key := reservoirKey(1, "payments", "/charge", Window1h, fixed)
	if err := client.Set(ctx, key, "not-a-zset", 0).Err(); err != nil {
		t.Fatalf("corrupt reservoir: %v", err)
	}

	snap := &SnapshotRecord{
		Count:        40,
		SumLatencyMS: 8000,
		Errors:       4,
		TakenAt:      fixed.Add(-5 * time.Minute),
	}
	reader := NewMetricsReader(agg, &fakeSnapshotReader{rec: snap}, nil)

	m, err := reader.Read(ctx, 1, "payments", "/charge", Window1h)
	if err != nil {
		t.Fatalf("partial fast-store failure must fall through, not error: %v", err)
	}
	if m == nil || m.Source != SourceSnapshot {
		t.Fatalf("source = %v, want snapshot tier", m)
	}
}

func TestMetricsReaderFallsBackToSnapshot(t *testing.T) {
	agg, _ := newTestAggregator(t)
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	snap := &SnapshotRecord{
		Count:        40,
		SumLatencyMS: 8000,
		Errors:       4,
		P95LatencyMS: 450,
		TakenAt:      fixed.Add(-10 * time.Minute),
	}
	reader := NewMetricsReader(agg, &fakeSnapshotReader{rec: snap}, nil)

	m, err := reader.Read(context.Background(), 1, "payments", "/charge", Window1h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m == nil || m.Source != SourceSnapshot {
		t.Fatalf("source = %v, want snapshot", m)
	}
	if m.AvgLatencyMS != 200 || m.ErrorRate != 0.1 {
		t.Errorf("metrics = %+v, want avg=200 errorRate=0.1", m)
	}
}

func TestMetricsReaderSkipsStaleSnapshot(t *testing.T) {
	agg, _ := newTestAggregator(t)
	fixed := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	stale := &SnapshotRecord{Count: 40, SumLatencyMS: 8000, TakenAt: fixed.Add(-2 * time.Hour)}
	raw := &fakeRawReader{rows: []RawSignal{
		{LatencyMS: 100, IsError: true, Timestamp: fixed},
		{LatencyMS: 300, Timestamp: fixed},
	}}
	reader := NewMetricsReader(agg, &fakeSnapshotReader{rec: stale}, raw)

	m, err := reader.Read(context.Background(), 1, "payments", "/charge", Window1h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m == nil || m.Source != SourceRaw {
		t.Fatalf("source = %v, want raw fallback", m)
	}
	if m.Count != 2 || m.AvgLatencyMS != 200 || m.ErrorRate != 0.5 {
		t.Errorf("metrics = %+v, want count=2 avg=200 errorRate=0.5", m)
	}
}

func TestMetricsReaderAllTiersEmpty(t *testing.T) {
	agg, _ := newTestAggregator(t)

	reader := NewMetricsReader(agg, &fakeSnapshotReader{}, &fakeRawReader{})
	m, err := reader.Read(context.Background(), 1, "ghost", "/none", Window1h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m != nil {
		t.Errorf("metrics = %+v, want nil (insufficient data)", m)
	}
}
