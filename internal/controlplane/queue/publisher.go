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
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"controlplane/internal/controlplane/signal"
)

// channelSource abstracts Connection for the publisher so tests can capture
// publishes without a broker.
type channelSource interface {
	Channel() (*amqp.Channel, error)
}

// messagePublisher is the slice of *amqp.Channel the publisher uses.
type messagePublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher marshals signals onto the durable queue.
type Publisher struct {
	conn channelSource

	// publishFn is swapped in tests; nil means "use the real channel".
	publishFn messagePublisher
}

// NewPublisher builds a Publisher over a connection manager.
func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{conn: conn}
}

// PublishSignal enqueues one signal as a persistent JSON message on the
// default exchange. The broker re-queues it to disk, so an accepted publish
// survives a broker restart.
func (p *Publisher) PublishSignal(ctx context.Context, s signal.Signal) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	target := p.publishFn
	if target == nil {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("get channel: %w", err)
		}
		target = ch
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := target.PublishWithContext(ctx, "", SignalsQueue, false, false, msg); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}
