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

// Package queue owns the broker topology and the publish/consume sides of the
// signal pipeline. Messages ride a durable queue with a dead-letter companion;
// anything unprocessed for 24 hours is routed there instead of silently aging.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	// SignalsQueue carries inbound telemetry.
	SignalsQueue = "signals_queue"
	// DeadLetterQueue receives expired or rejected signals.
	DeadLetterQueue = "signals_dead_letter"

	// messageTTL is how long an unconsumed message may wait before
	// dead-lettering, in milliseconds.
	messageTTL = 86_400_000

	// prefetchCount bounds unacked deliveries per consumer.
	prefetchCount = 10

	// reconnectDelay paces the unbounded connect retry loop.
	reconnectDelay = 5 * time.Second
)

// Connection manages one AMQP connection plus its channel and declares the
// topology on every (re)connect. Safe for use from the publisher goroutines
// and the consumer loop.
type Connection struct {
	url string
	log zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConnection builds an unconnected manager; the first Channel call dials.
func NewConnection(url string, logger zerolog.Logger) *Connection {
	return &Connection{url: url, log: logger}
}

// Channel returns a live channel, dialing and declaring the topology if
// needed. Callers must not close the returned channel themselves.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c.ch, nil
}

func (c *Connection) connectLocked() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	// Dead-letter queue first: the main queue's declaration references it.
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare %s: %w", DeadLetterQueue, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadLetterQueue,
		"x-message-ttl":             int64(messageTTL),
	}
	if _, err := ch.QueueDeclare(SignalsQueue, true, false, false, false, args); err != nil {
		conn.Close()
		return fmt.Errorf("declare %s: %w", SignalsQueue, err)
	}

	c.conn = conn
	c.ch = ch
	c.log.Info().Str("queue", SignalsQueue).Msg("amqp connected")
	return nil
}

// Close tears down the channel and connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Handler processes one message body. A non-nil error nacks the message back
// onto the queue for redelivery.
type Handler func(ctx context.Context, body []byte) error

// Consume runs the delivery loop until ctx is canceled, reconnecting every
// reconnectDelay after any failure. Each message is acked on handler success
// and nack-requeued on handler error.
func (c *Connection) Consume(ctx context.Context, handle Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.consumeOnce(ctx, handle); err != nil {
			c.log.Warn().Err(err).
				Dur("retry_in", reconnectDelay).
				Msg("consume loop interrupted, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Connection) consumeOnce(ctx context.Context, handle Handler) error {
	ch, err := c.Channel()
	if err != nil {
		return err
	}
	deliveries, err := ch.Consume(SignalsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := handle(ctx, d.Body); err != nil {
				c.log.Error().Err(err).Msg("signal processing failed, requeueing")
				if nackErr := d.Nack(false, true); nackErr != nil {
					return fmt.Errorf("nack: %w", nackErr)
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				return fmt.Errorf("ack: %w", ackErr)
			}
		}
	}
}
