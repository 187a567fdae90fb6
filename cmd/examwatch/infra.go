// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/config"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/logging"
)

// busTransport is the event bus and, when NATS runs in-process, its broker.
type busTransport struct {
	bus    *eventprocessor.Bus
	broker *eventprocessor.EmbeddedServer
}

// openBus returns the NATS JetStream bus when enabled, otherwise the
// in-process channel bus.
func openBus(cfg *config.Config) (*busTransport, error) {
	if !cfg.NATS.Enabled {
		bus := eventprocessor.NewChannelBus(int64(cfg.Proctoring.SignalBuffer), logging.NewWatermillAdapter())
		logging.Info().Int("buffer", cfg.Proctoring.SignalBuffer).Msg("Event bus: in-process channel")
		return &busTransport{bus: bus}, nil
	}

	t := &busTransport{}
	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		srv, err := eventprocessor.NewEmbeddedServer(cfg.NATS, -1)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		t.broker = srv
		url = srv.ClientURL()
	}

	bus, err := eventprocessor.NewNATSBus(cfg.NATS, url, logging.NewWatermillAdapter())
	if err != nil {
		if t.broker != nil {
			_ = t.broker.Shutdown(context.Background())
		}
		return nil, fmt.Errorf("connect NATS bus: %w", err)
	}
	bus.SetCircuitBreaker(eventprocessor.NewCircuitBreaker(eventprocessor.CircuitBreakerConfig{
		Name:             "event-bus",
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}))
	t.bus = bus
	logging.Info().Str("url", url).Bool("embedded", t.broker != nil).Msg("Event bus: NATS JetStream")
	return t, nil
}

// openAudit builds the audit logger over the configured store. The returned
// func closes the store after the logger has drained.
func openAudit(ctx context.Context, cfg config.AuditConfig) (*audit.Logger, func(), error) {
	acfg := audit.DefaultConfig()
	acfg.BufferSize = cfg.BufferSize

	switch cfg.Store {
	case "duckdb":
		st, err := audit.OpenDuckDBStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		return audit.NewLogger(st, acfg), func() {
			if err := st.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing audit store")
			}
		}, nil
	default:
		logging.Info().Int("max_events", cfg.MaxEvents).Msg("Audit trail: in-memory")
		return audit.NewLogger(audit.NewMemoryStore(cfg.MaxEvents), acfg), func() {}, nil
	}
}
