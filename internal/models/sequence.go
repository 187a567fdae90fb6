// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package models

import (
	"sync"
	"sync/atomic"
)

// Sequencer hands out per-session arrival numbers for SecurityEvents.
// Both classifier-produced and synthetic events draw from the same counter so
// the escalation engine can order them.
type Sequencer struct {
	counters sync.Map // session id -> *atomic.Uint64
}

// NewSequencer creates an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the next sequence number for sessionID, starting at 1.
func (s *Sequencer) Next(sessionID string) uint64 {
	v, _ := s.counters.LoadOrStore(sessionID, new(atomic.Uint64))
	return v.(*atomic.Uint64).Add(1)
}

// Current returns the last issued number for sessionID, or 0.
func (s *Sequencer) Current(sessionID string) uint64 {
	v, ok := s.counters.Load(sessionID)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

// Forget drops the counter for a finished session.
func (s *Sequencer) Forget(sessionID string) {
	s.counters.Delete(sessionID)
}

// Advance raises the counter for sessionID to at least n. It is used when
// sessions are restored so new events sort after the persisted ones.
func (s *Sequencer) Advance(sessionID string, n uint64) {
	v, _ := s.counters.LoadOrStore(sessionID, new(atomic.Uint64))
	c := v.(*atomic.Uint64)
	for {
		cur := c.Load()
		if cur >= n || c.CompareAndSwap(cur, n) {
			return
		}
	}
}
