// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/examwatch/internal/metrics"
)

// RouterConfig holds configuration for the Watermill router.
type RouterConfig struct {
	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         15 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     2 * time.Second,
		RetryMultiplier:      2.0,
	}
}

// EventHandler processes one decoded event. Returning an error triggers the
// retry middleware.
type EventHandler func(ctx context.Context, e *Event) error

// Router dispatches bus messages to EventHandlers.
//
// Middleware order (outer to inner): drop-after-retries, Recoverer, Retry.
// A message that still fails after its retries is logged and acked so an
// in-process transport never redelivers it forever.
type Router struct {
	router  *message.Router
	bus     *Bus
	logger  watermill.LoggerAdapter
	running atomic.Bool
}

// NewRouter creates a router consuming from bus.
func NewRouter(cfg *RouterConfig, bus *Bus, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg == nil {
		def := DefaultRouterConfig()
		cfg = &def
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	r := &Router{router: wmRouter, bus: bus, logger: logger}

	wmRouter.AddMiddleware(r.dropFailed)
	wmRouter.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	return r, nil
}

func (r *Router) dropFailed(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err != nil {
			r.logger.Error("Dropping message after retries", err, watermill.LogFields{
				"message_uuid": msg.UUID,
				"kind":         msg.Metadata.Get(MetadataKind),
				"session_id":   msg.Metadata.Get(MetadataSessionID),
			})
			metrics.BusMessages.WithLabelValues(msg.Metadata.Get(MetadataKind), "dropped").Inc()
			return nil, nil
		}
		return out, nil
	}
}

// Handle registers fn for every event on topic. Must be called before Serve.
func (r *Router) Handle(name, topic string, fn EventHandler) {
	r.router.AddConsumerHandler(name, topic, r.bus.Subscriber(), func(msg *message.Message) error {
		e, err := FromMessage(msg)
		if err != nil {
			// Malformed payloads will never decode; ack them.
			r.logger.Error("Discarding undecodable message", err, watermill.LogFields{"topic": topic})
			return nil
		}
		return fn(msg.Context(), e)
	})
}

// Serve runs the router until ctx is cancelled. It implements suture.Service.
func (r *Router) Serve(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)
	return r.router.Run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (r *Router) String() string {
	return "event-router"
}

// Running returns a channel that closes once handlers are subscribed.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// IsRunning reports whether Serve is active.
func (r *Router) IsRunning() bool {
	return r.running.Load()
}

// Close stops the router, waiting up to CloseTimeout for in-flight handlers.
func (r *Router) Close() error {
	return r.router.Close()
}
