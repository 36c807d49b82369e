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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"controlplane/internal/controlplane/signal"
)

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	calls    int
	err      error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.calls++
	f.exchange = exchange
	f.key = key
	f.msg = msg
	return f.err
}

func TestPublishSignalShape(t *testing.T) {
	fake := &fakeChannel{}
	p := &Publisher{publishFn: fake}

	in := signal.Signal{
		UserID:      7,
		TenantID:    "acme",
		ServiceName: "payments",
		Endpoint:    "/charge",
		LatencyMS:   123.4,
		Status:      signal.StatusSuccess,
		Priority:    signal.PriorityHigh,
		Timestamp:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := p.PublishSignal(context.Background(), in); err != nil {
		t.Fatalf("PublishSignal: %v", err)
	}

	if fake.calls != 1 {
		t.Fatalf("publish called %d times, want 1", fake.calls)
	}
	if fake.exchange != "" || fake.key != SignalsQueue {
		t.Errorf("routed to (%q, %q), want default exchange -> %s", fake.exchange, fake.key, SignalsQueue)
	}
	if fake.msg.DeliveryMode != amqp.Persistent {
		t.Error("message must be persistent")
	}
	if fake.msg.ContentType != "application/json" {
		t.Errorf("content type = %q", fake.msg.ContentType)
	}
	if fake.msg.MessageId == "" {
		t.Error("message id must be set")
	}

	var out signal.Signal
	if err := json.Unmarshal(fake.msg.Body, &out); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if out != in {
		t.Errorf("round-tripped signal = %+v, want %+v", out, in)
	}
}

func TestPublishSignalPropagatesBrokerError(t *testing.T) {
	fake := &fakeChannel{err: errors.New("broker gone")}
	p := &Publisher{publishFn: fake}

	err := p.PublishSignal(context.Background(), signal.Signal{ServiceName: "s", Endpoint: "/e", Status: signal.StatusSuccess})
	if err == nil {
		t.Fatal("expected error")
	}
}
