// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package monitor

import (
	"context"
	"time"

	"github.com/tomtom215/examwatch/internal/logging"
)

// Expirer submits sessions whose time limit has passed.
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs the periodic detector-timeout and time-expiry passes. The
// timeout pass also flushes coalesced telemetry.
type Sweeper struct {
	pipeline        *Pipeline
	expirer         Expirer
	timeoutInterval time.Duration
	expiryInterval  time.Duration
	now             func() time.Time
}

// NewSweeper creates a sweeper. Non-positive intervals default to 5s for
// timeouts and 10s for expiry.
func NewSweeper(p *Pipeline, expirer Expirer, timeoutInterval, expiryInterval time.Duration) *Sweeper {
	if timeoutInterval <= 0 {
		timeoutInterval = 5 * time.Second
	}
	if expiryInterval <= 0 {
		expiryInterval = 10 * time.Second
	}
	return &Sweeper{
		pipeline:        p,
		expirer:         expirer,
		timeoutInterval: timeoutInterval,
		expiryInterval:  expiryInterval,
		now:             time.Now,
	}
}

// RunWithContext sweeps until ctx is cancelled and returns ctx.Err().
func (s *Sweeper) RunWithContext(ctx context.Context) error {
	timeouts := time.NewTicker(s.timeoutInterval)
	defer timeouts.Stop()
	expiry := time.NewTicker(s.expiryInterval)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeouts.C:
			s.SweepTimeouts(ctx)
			s.pipeline.FlushTelemetry(ctx)
		case <-expiry.C:
			s.Expire(ctx)
		}
	}
}

// SweepTimeouts runs one detector-timeout pass.
func (s *Sweeper) SweepTimeouts(ctx context.Context) int {
	n := s.pipeline.SweepTimeouts(ctx, s.now())
	if n > 0 {
		logging.Ctx(ctx).Info().Int("events", n).Msg("Detector timeouts raised")
	}
	return n
}

// Expire runs one time-expiry pass.
func (s *Sweeper) Expire(ctx context.Context) int {
	n, err := s.expirer.ExpireOverdue(ctx, s.now())
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Expiry sweep incomplete")
	}
	if n > 0 {
		logging.Ctx(ctx).Info().Int("sessions", n).Msg("Overdue sessions expired")
	}
	return n
}

// String implements fmt.Stringer for supervisor logs.
func (s *Sweeper) String() string {
	return "proctoring-sweeper"
}
