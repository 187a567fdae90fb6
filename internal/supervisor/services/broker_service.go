// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBrokerDown is returned when the embedded broker stops on its own.
var ErrBrokerDown = errors.New("embedded broker is not running")

// Broker is an in-process message broker with its own lifecycle.
//
// Satisfied by *eventprocessor.EmbeddedServer.
type Broker interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// BrokerService owns the embedded NATS server. It polls the broker's health
// and fails when it goes down, so the messaging layer restarts around it.
type BrokerService struct {
	broker          Broker
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewBrokerService wraps broker with a 5s health check and a 10s shutdown
// timeout.
func NewBrokerService(broker Broker) *BrokerService {
	return &BrokerService{
		broker:          broker,
		checkInterval:   5 * time.Second,
		shutdownTimeout: 10 * time.Second,
		name:            "nats-server",
	}
}

// Serve implements suture.Service.
func (b *BrokerService) Serve(ctx context.Context) error {
	if !b.broker.IsRunning() {
		return ErrBrokerDown
	}

	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
			defer cancel()
			if err := b.broker.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("nats server shutdown failed: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if !b.broker.IsRunning() {
				return ErrBrokerDown
			}
		}
	}
}

func (b *BrokerService) String() string {
	return b.name
}
