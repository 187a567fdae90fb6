// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import (
	"context"

	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/store"
)

// ChangeFeed is the subscription side of the persistence boundary.
type ChangeFeed interface {
	Subscribe(ctx context.Context, prefixes []string, fn store.ChangeHandler) error
}

// ChangeFeedSource is the change-feed consumer loop. It implements
// suture.Service.
type ChangeFeedSource struct {
	feed    ChangeFeed
	adapter *Adapter
}

// NewChangeFeedSource creates the consumer loop.
func NewChangeFeedSource(feed ChangeFeed, adapter *Adapter) *ChangeFeedSource {
	return &ChangeFeedSource{feed: feed, adapter: adapter}
}

// Serve subscribes to signal/ and telemetry/ keys until ctx is cancelled.
// Records that fail normalization are logged and skipped.
func (s *ChangeFeedSource) Serve(ctx context.Context) error {
	err := s.feed.Subscribe(ctx, []string{store.PrefixSignal, store.PrefixTelemetry}, func(c store.Change) error {
		if err := s.adapter.IngestChange(ctx, c); err != nil {
			logging.Warn().
				Err(err).
				Str("key", c.Key).
				Str("session_id", c.EntityID).
				Msg("Change feed record rejected")
		}
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// String implements fmt.Stringer for supervisor logs.
func (s *ChangeFeedSource) String() string {
	return "change-feed-consumer"
}
