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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client), mr
}

func TestIncrWindowAccumulatesTriple(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.IncrWindow(ctx, "w", 100, false, time.Hour); err != nil {
		t.Fatalf("IncrWindow: %v", err)
	}
	if err := s.IncrWindow(ctx, "w", 300, true, time.Hour); err != nil {
		t.Fatalf("IncrWindow: %v", err)
	}

	w, ok, err := s.ReadWindow(ctx, "w")
	if err != nil || !ok {
		t.Fatalf("ReadWindow ok=%v err=%v", ok, err)
	}
	if w.Count != 2 {
		t.Errorf("count = %d, want 2", w.Count)
	}
	if w.SumLatency != 400 {
		t.Errorf("sum_latency = %f, want 400", w.SumLatency)
	}
	if w.Errors != 1 {
		t.Errorf("errors = %d, want 1", w.Errors)
	}
	if got := w.AvgLatency(); got != 200 {
		t.Errorf("avg = %f, want 200", got)
	}
	if got := w.ErrorRate(); got != 0.5 {
		t.Errorf("error rate = %f, want 0.5", got)
	}
}

func TestReadWindowMissingKey(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok, err := s.ReadWindow(context.Background(), "absent")
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestAppendReservoirCapsOldestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Fill past the cap; the earliest sequences must be the ones evicted.
	const cap = 10
	for seq := int64(1); seq <= 15; seq++ {
		if err := s.AppendReservoir(ctx, "res", seq, float64(seq*10), cap, time.Hour); err != nil {
			t.Fatalf("AppendReservoir seq=%d: %v", seq, err)
		}
	}

	lats, err := s.ReadReservoir(ctx, "res")
	if err != nil {
		t.Fatalf("ReadReservoir: %v", err)
	}
	if len(lats) != cap {
		t.Fatalf("reservoir size = %d, want %d", len(lats), cap)
	}
	// Survivors are sequences 6..15 in arrival order.
	if lats[0] != 60 {
		t.Errorf("oldest surviving latency = %f, want 60", lats[0])
	}
	if lats[len(lats)-1] != 150 {
		t.Errorf("newest latency = %f, want 150", lats[len(lats)-1])
	}
}

func TestIncrCounter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrCounter(ctx, "c", 2*time.Minute)
		if err != nil {
			t.Fatalf("IncrCounter: %v", err)
		}
		if n != i {
			t.Errorf("counter = %d, want %d", n, i)
		}
	}

	n, ok, err := s.GetCounter(ctx, "c")
	if err != nil || !ok || n != 3 {
		t.Errorf("GetCounter = (%d, %v, %v), want (3, true, nil)", n, ok, err)
	}

	_, ok, err = s.GetCounter(ctx, "missing")
	if err != nil || ok {
		t.Errorf("GetCounter missing = (ok=%v, err=%v), want absent", ok, err)
	}
}

func TestScanAndDeletePattern(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"user:7:a", "user:7:b", "user:8:a"} {
		if err := s.Set(ctx, k, "x", time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	keys, err := s.ScanPattern(ctx, "user:7:*")
	if err != nil {
		t.Fatalf("ScanPattern: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("scan matched %d keys, want 2: %v", len(keys), keys)
	}

	n, err := s.DeletePattern(ctx, "user:7:*")
	if err != nil {
		t.Fatalf("DeletePattern: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d keys, want 2", n)
	}

	if _, ok, _ := s.Get(ctx, "user:8:a"); !ok {
		t.Error("unrelated key was deleted")
	}
}

func TestWindowTTLExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.IncrWindow(ctx, "short", 50, false, 2*time.Minute); err != nil {
		t.Fatalf("IncrWindow: %v", err)
	}
	mr.FastForward(3 * time.Minute)

	_, ok, err := s.ReadWindow(ctx, "short")
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if ok {
		t.Error("window survived past its TTL")
	}
}
