// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

//go:build !nats

package eventprocessor

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/examwatch/internal/config"
)

// NewNATSBus is unavailable without the nats build tag.
func NewNATSBus(cfg config.NATSConfig, url string, logger watermill.LoggerAdapter) (*Bus, error) {
	return nil, ErrNATSNotEnabled
}
