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

// Package mailer delivers breaker alerts over SMTP. It is entirely optional:
// unconfigured, every send is a logged no-op, and failures never propagate to
// the request path that triggered them.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"controlplane/internal/controlplane/aggregate"
)

// Config is the SMTP setup. An empty Host disables delivery.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// Mailer sends plain-text alerts.
type Mailer struct {
	cfg Config
	log zerolog.Logger

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New builds a Mailer.
func New(cfg Config, logger zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: logger, send: smtp.SendMail}
}

// Enabled reports whether delivery is configured.
func (m *Mailer) Enabled() bool {
	return m.cfg.Host != "" && m.cfg.To != ""
}

// SendDecisionAlert emails the circuit-breaker alert for one endpoint.
// Failures are logged and swallowed.
func (m *Mailer) SendDecisionAlert(service, endpoint, reasoning string, snap *aggregate.MetricsSnapshot) {
	if !m.Enabled() {
		m.log.Debug().Str("service", service).Str("endpoint", endpoint).
			Msg("alert suppressed, smtp not configured")
		return
	}

	subject := fmt.Sprintf("[controlplane] circuit breaker: %s %s", service, endpoint)
	body := alertBody(service, endpoint, reasoning, snap)
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + m.cfg.To,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := m.send(addr, auth, m.cfg.From, []string{m.cfg.To}, []byte(msg)); err != nil {
		m.log.Error().Err(err).Str("service", service).Str("endpoint", endpoint).
			Msg("alert delivery failed")
		return
	}
	m.log.Info().Str("service", service).Str("endpoint", endpoint).Msg("alert sent")
}

func alertBody(service, endpoint, reasoning string, snap *aggregate.MetricsSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The decision engine activated the circuit breaker.\n\n")
	fmt.Fprintf(&b, "Service:  %s\nEndpoint: %s\n\n%s\n", service, endpoint, reasoning)
	if snap != nil {
		fmt.Fprintf(&b, "\nObserved over the last hour (%d signals):\n", snap.Count)
		fmt.Fprintf(&b, "  avg latency: %.0f ms\n", snap.AvgLatencyMS)
		fmt.Fprintf(&b, "  error rate:  %.1f%%\n", snap.ErrorRate*100)
		fmt.Fprintf(&b, "  traffic:     %.1f req/min\n", snap.RequestsPerMinute)
	}
	return b.String()
}
