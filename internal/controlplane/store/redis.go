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

// Package store is the Fast Store: a thin wrapper over Redis that exposes the
// handful of atomic primitives the aggregator and read cache need. Everything
// multi-step runs under MULTI/EXEC or a Lua script so concurrent consumers
// never observe a torn update.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// reservoirScript appends one (sequence, latency) sample to a sorted set and
// trims the oldest entries once the set exceeds the cap. Score is the ingest
// sequence, so rank order is arrival order and ZREMRANGEBYRANK evicts
// oldest-first regardless of latency value.
var reservoirScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local n = redis.call('ZCARD', KEYS[1])
local cap = tonumber(ARGV[3])
if n > cap then
    redis.call('ZREMRANGEBYRANK', KEYS[1], 0, n - cap - 1)
end
redis.call('EXPIRE', KEYS[1], ARGV[4])
return redis.call('ZCARD', KEYS[1])
`)

// WindowCounters is the counter triple kept per (user, service, endpoint,
// window) hash.
type WindowCounters struct {
	Count       int64
	SumLatency  float64
	Errors      int64
	LastUpdated time.Time
}

// AvgLatency returns the mean latency in milliseconds, 0 when empty.
func (w WindowCounters) AvgLatency() float64 {
	if w.Count == 0 {
		return 0
	}
	return w.SumLatency / float64(w.Count)
}

// ErrorRate returns the error fraction in [0,1], 0 when empty.
func (w WindowCounters) ErrorRate() float64 {
	if w.Count == 0 {
		return 0
	}
	return float64(w.Errors) / float64(w.Count)
}

// Store wraps a Redis client with the operations the control plane uses.
type Store struct {
	client *redis.Client
}

// New connects to Redis at url (redis:// form) with short socket timeouts:
// the fast path would rather fail than stall behind a sick Redis.
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(c *redis.Client) *Store {
	return &Store{client: c}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// IncrWindow bumps the counter triple for one window key atomically: count+1,
// sum_latency+latencyMS, errors+1 when isError, last_updated set, TTL
// refreshed. MULTI/EXEC keeps the triple consistent under concurrent writers.
func (s *Store) IncrWindow(ctx context.Context, key string, latencyMS float64, isError bool, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HIncrByFloat(ctx, key, "sum_latency", latencyMS)
		if isError {
			pipe.HIncrBy(ctx, key, "errors", 1)
		}
		pipe.HSet(ctx, key, "last_updated", time.Now().UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("incr window %s: %w", key, err)
	}
	return nil
}

// ReadWindow fetches the counter triple. The second return is false when the
// key does not exist (expired or never written).
func (s *Store) ReadWindow(ctx context.Context, key string) (WindowCounters, bool, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return WindowCounters{}, false, fmt.Errorf("read window %s: %w", key, err)
	}
	if len(fields) == 0 {
		return WindowCounters{}, false, nil
	}

	var w WindowCounters
	w.Count, _ = strconv.ParseInt(fields["count"], 10, 64)
	w.SumLatency, _ = strconv.ParseFloat(fields["sum_latency"], 64)
	w.Errors, _ = strconv.ParseInt(fields["errors"], 10, 64)
	if ts := fields["last_updated"]; ts != "" {
		w.LastUpdated, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return w, true, nil
}

// AppendReservoir adds one latency sample to the capped reservoir behind key.
// seq orders samples by arrival; cap bounds memory per endpoint-window.
func (s *Store) AppendReservoir(ctx context.Context, key string, seq int64, latencyMS float64, cap int, ttl time.Duration) error {
	member := fmt.Sprintf("%d:%g", seq, latencyMS)
	err := reservoirScript.Run(ctx, s.client, []string{key},
		seq, member, cap, int(ttl.Seconds())).Err()
	if err != nil {
		return fmt.Errorf("append reservoir %s: %w", key, err)
	}
	return nil
}

// ReadReservoir returns every sampled latency in arrival order. Callers sort
// before computing percentiles.
func (s *Store) ReadReservoir(ctx context.Context, key string) ([]float64, error) {
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read reservoir %s: %w", key, err)
	}
	out := make([]float64, 0, len(members))
	for _, m := range members {
		// member format: "<seq>:<latency>"
		i := strings.IndexByte(m, ':')
		if i < 0 {
			continue
		}
		lat, err := strconv.ParseFloat(m[i+1:], 64)
		if err != nil {
			continue
		}
		out = append(out, lat)
	}
	return out, nil
}

// IncrCounter bumps a plain integer counter and refreshes its TTL, returning
// the new value. Used for the per-customer minute buckets.
func (s *Store) IncrCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

// GetCounter reads an integer counter; false when absent.
func (s *Store) GetCounter(ctx context.Context, key string) (int64, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get counter %s: %w", key, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("counter %s holds %q: %w", key, v, err)
	}
	return n, true, nil
}

// Get reads a cached string value; false when absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes a cached string value with a TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Del removes keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// ScanPattern walks the keyspace with SCAN (never KEYS) and returns every key
// matching pattern.
func (s *Store) ScanPattern(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// DeletePattern removes every key matching pattern and returns how many went.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.ScanPattern(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("delete pattern %s: %w", pattern, err)
	}
	return len(keys), nil
}
