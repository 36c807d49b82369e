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

// Command controlplane runs the full control plane in one process: the
// ingest/decision API, the queue consumer, the background rollup and snapshot
// workers, and (when an advisor key is configured) the threshold tuning loop.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"controlplane/internal/controlplane/advisor"
	"controlplane/internal/controlplane/aggregate"
	"controlplane/internal/controlplane/api"
	"controlplane/internal/controlplane/config"
	"controlplane/internal/controlplane/consumer"
	"controlplane/internal/controlplane/decision"
	"controlplane/internal/controlplane/jobs"
	"controlplane/internal/controlplane/log"
	"controlplane/internal/controlplane/mailer"
	"controlplane/internal/controlplane/persistence"
	"controlplane/internal/controlplane/queue"
	"controlplane/internal/controlplane/store"
	"controlplane/internal/controlplane/telemetry"
	"controlplane/internal/controlplane/thresholds"
	"controlplane/internal/controlplane/tuner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := log.Logger()
		l.Fatal().Err(err).Msg("configuration invalid")
	}
	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)
	if cfg.MetricsAddr != "" {
		telemetry.Serve(cfg.MetricsAddr, registry, log.WithComponent("telemetry"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fast Store.
	fast, err := store.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("fast store setup failed")
	}
	defer fast.Close()
	if err := fast.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("fast store unreachable")
	}

	// Durable Store.
	db, err := persistence.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("durable store setup failed")
	}
	defer db.Close()

	signals := persistence.NewSignalRepo(db.Hot)
	jobSignals := persistence.NewSignalRepo(db.Jobs)
	rollups := persistence.NewRollupRepo(db.Jobs)
	snapshots := persistence.NewSnapshotRepo(db.Jobs)
	insights := persistence.NewInsightRepo(db.Jobs)
	identity := persistence.NewIdentityRepo(db.Hot)
	thresholdStore := thresholds.NewStore(db.Hot)

	// Aggregation and metric resolution.
	agg := aggregate.New(fast)
	metricsReader := aggregate.NewMetricsReader(agg,
		persistence.SnapshotMetricsSource{Repo: persistence.NewSnapshotRepo(db.Hot)},
		persistence.RawMetricsSource{Repo: signals})

	// Queue: one connection serves the publisher and the consumer loop.
	amqpConn := queue.NewConnection(cfg.RabbitMQURL, log.WithComponent("queue"))
	defer amqpConn.Close()
	publisher := queue.NewPublisher(amqpConn)

	processor := consumer.NewProcessor(agg, signals, fast,
		cfg.SamplingRate, metrics, log.WithComponent("consumer"))
	go amqpConn.Consume(ctx, processor.Process)

	// Background workers.
	runner := jobs.NewRunner(jobSignals, rollups, snapshots, fast,
		metrics, log.WithComponent("jobs"))
	runner.Start()

	// Threshold tuning, only when an advisor is configured.
	var tune *tuner.Tuner
	if cfg.AdvisorAPIKey != "" {
		adv := advisor.NewAnthropicAdvisor(cfg.AdvisorAPIKey, cfg.AdvisorModel)
		tune = tuner.New(adv, metricsReader, jobSignals, thresholdStore, insights,
			metrics, log.WithComponent("tuner"))
		tune.Start()
		logger.Info().Str("model", cfg.AdvisorModel).Msg("threshold tuning enabled")
	} else {
		logger.Info().Msg("no advisor key, running on default/stored thresholds only")
	}

	// HTTP surface.
	alerts := mailer.New(mailer.Config{
		Host: cfg.SMTPHost, Port: cfg.SMTPPort,
		User: cfg.SMTPUser, Password: cfg.SMTPPassword,
		From: cfg.SMTPFrom, To: cfg.AlertTo,
	}, log.WithComponent("mailer"))
	decider := decision.New(metricsReader, agg, thresholdStore, metrics, log.WithComponent("decision"))
	server := api.NewServer(identity, publisher, decider, alerts, metrics, log.WithComponent("api"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(cfg.HTTPAddr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server failed")
		}
	}

	// Shutdown order: stop accepting requests, stop consuming, stop the
	// loops (the runner flushes a final snapshot), then close connections
	// via the deferred cleanups.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}
	cancel()
	if tune != nil {
		tune.Stop()
	}
	runner.Stop()
	logger.Info().Msg("shutdown complete")
}
