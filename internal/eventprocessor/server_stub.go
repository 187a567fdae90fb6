// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

//go:build !nats

package eventprocessor

import (
	"context"

	"github.com/tomtom215/examwatch/internal/config"
)

// EmbeddedServer is a stub without the nats build tag.
type EmbeddedServer struct{}

// NewEmbeddedServer is unavailable without the nats build tag.
func NewEmbeddedServer(cfg config.NATSConfig, port int) (*EmbeddedServer, error) {
	return nil, ErrNATSNotEnabled
}

// ClientURL returns an empty string for the stub.
func (s *EmbeddedServer) ClientURL() string { return "" }

// Shutdown is a no-op stub.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error { return nil }

// IsRunning always returns false for the stub.
func (s *EmbeddedServer) IsRunning() bool { return false }
