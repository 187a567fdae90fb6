// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package registry

import (
	"sync"

	"github.com/tomtom215/examwatch/internal/models"
)

// eventRing keeps the most recent security events across all sessions.
type eventRing struct {
	mu   sync.RWMutex
	buf  []*models.SecurityEvent
	next int
	size int
}

func newEventRing(capacity int) *eventRing {
	if capacity < 1 {
		capacity = 200
	}
	return &eventRing{buf: make([]*models.SecurityEvent, capacity)}
}

func (r *eventRing) push(e *models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// recent returns up to limit events, newest first.
func (r *eventRing) recent(limit int) []*models.SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]*models.SecurityEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
