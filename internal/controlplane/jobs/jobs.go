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

// Package jobs runs the periodic maintenance workers: hourly and daily
// rollups, fast-store snapshots, and retention cleanup. Each worker is a
// goroutine with cooperative shutdown; Stop takes a final snapshot so the
// freshest window state survives a restart.
package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/persistence"
	"controlplane/internal/controlplane/store"
	"controlplane/internal/controlplane/telemetry"
)

const (
	// Schedule anchors. Rollups run shortly after the period closes so
	// late-arriving signals are included; cleanup runs in the quiet hours.
	hourlyRunMinute  = 5
	dailyRunHour     = 0
	dailyRunMinute   = 30
	cleanupRunHour   = 2
	snapshotInterval = 30 * time.Minute

	// Retention horizons.
	rawSignalRetention = 7 * 24 * time.Hour
	hourlyRetention    = 90 * 24 * time.Hour
	snapshotRetention  = 30 * 24 * time.Hour

	// jobTimeout bounds any single job execution.
	jobTimeout = 10 * time.Minute
)

// Runner owns the worker goroutines.
type Runner struct {
	signals   *persistence.SignalRepo
	rollups   *persistence.RollupRepo
	snapshots *persistence.SnapshotRepo
	fast      *store.Store
	metrics   *telemetry.Metrics
	log       zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32

	// now is swappable for tests.
	now func() time.Time
}

// NewRunner wires the workers. metrics may be nil.
func NewRunner(signals *persistence.SignalRepo, rollups *persistence.RollupRepo,
	snapshots *persistence.SnapshotRepo, fast *store.Store,
	metrics *telemetry.Metrics, logger zerolog.Logger) *Runner {
	return &Runner{
		signals:   signals,
		rollups:   rollups,
		snapshots: snapshots,
		fast:      fast,
		metrics:   metrics,
		log:       logger,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches all four workers.
func (r *Runner) Start() {
	r.wg.Add(4)
	go r.runAt(nextMinuteMark(r.now(), hourlyRunMinute), time.Hour, "hourly_rollup", r.RunHourlyRollup)
	go r.runAt(nextClockTime(r.now(), dailyRunHour, dailyRunMinute), 24*time.Hour, "daily_rollup", r.RunDailyRollup)
	go r.runEvery(snapshotInterval, "snapshot", r.RunSnapshot)
	go r.runAt(nextClockTime(r.now(), cleanupRunHour, 0), 24*time.Hour, "cleanup", r.RunCleanup)
}

// Stop halts the workers, waits for in-flight jobs, then flushes one final
// snapshot. Safe to call more than once.
func (r *Runner) Stop() {
	if !atomic.CompareAndSwapUint32(&r.stopped, 0, 1) {
		return
	}
	close(r.stopChan)
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := r.RunSnapshot(ctx); err != nil {
		r.log.Error().Err(err).Msg("final snapshot failed")
	}
}

// runAt fires the job at the first anchor time, then every period after.
func (r *Runner) runAt(first time.Time, period time.Duration, name string, job func(context.Context) error) {
	defer r.wg.Done()

	timer := time.NewTimer(time.Until(first))
	defer timer.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-timer.C:
			r.execute(name, job)
			timer.Reset(period)
		}
	}
}

func (r *Runner) runEvery(period time.Duration, name string, job func(context.Context) error) {
	defer r.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.execute(name, job)
		}
	}
}

func (r *Runner) execute(name string, job func(context.Context) error) {
	start := r.now()
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := job(ctx); err != nil {
		r.log.Error().Err(err).Str("job", name).Msg("background job failed")
		return
	}
	if r.metrics != nil {
		r.metrics.ObserveJob(name, start)
	}
	r.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("background job done")
}

// nextMinuteMark returns the next wall time whose minute equals min.
func nextMinuteMark(now time.Time, min int) time.Time {
	next := now.Truncate(time.Hour).Add(time.Duration(min) * time.Minute)
	if !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next
}

// nextClockTime returns the next wall time at hh:mm.
func nextClockTime(now time.Time, hh, mm int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
