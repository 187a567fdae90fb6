// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
	"github.com/tomtom215/examwatch/internal/models"
)

// ErrUnknownSession is returned for updates to sessions without a view.
var ErrUnknownSession = errors.New("no view for session")

// View is an immutable dashboard snapshot of one session. A new View
// replaces the old one on every update; never modify a View in place.
type View struct {
	SessionID         string                  `json:"session_id"`
	AssessmentID      string                  `json:"assessment_id"`
	Participant       models.Participant      `json:"participant"`
	State             models.LifecycleState   `json:"state"`
	IntegrityScore    int                     `json:"integrity_score"`
	Flagged           bool                    `json:"flagged"`
	FlagReasons       []string                `json:"flag_reasons,omitempty"`
	PauseReason       string                  `json:"pause_reason,omitempty"`
	Progress          models.Progress         `json:"progress"`
	Deadline          time.Time               `json:"deadline,omitempty"`
	Violations        []*models.SecurityEvent `json:"violations"`
	SeverityCounts    map[models.Severity]int `json:"severity_counts"`
	Telemetry         models.Telemetry        `json:"telemetry"`
	MonitoringStopped bool                    `json:"monitoring_stopped"`
	// Version is the session version the view was built from.
	Version uint64 `json:"version"`
	// LastSequence is the highest event sequence applied.
	LastSequence uint64    `json:"last_sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LastEvent returns the most recent violation, or nil.
func (v *View) LastEvent() *models.SecurityEvent {
	if len(v.Violations) == 0 {
		return nil
	}
	return v.Violations[len(v.Violations)-1]
}

func (v *View) clone() *View {
	c := *v
	c.Violations = append([]*models.SecurityEvent(nil), v.Violations...)
	c.FlagReasons = append([]string(nil), v.FlagReasons...)
	c.SeverityCounts = make(map[models.Severity]int, len(v.SeverityCounts))
	for k, n := range v.SeverityCounts {
		c.SeverityCounts[k] = n
	}
	return &c
}

func (v *View) addEvent(e *models.SecurityEvent) {
	v.Violations = append(v.Violations, e)
	v.SeverityCounts[e.Severity()]++
	if e.Sequence() > v.LastSequence {
		v.LastSequence = e.Sequence()
	}
}

func viewFromSession(s *models.ExamSession) *View {
	v := &View{
		SessionID:         s.ID,
		AssessmentID:      s.AssessmentID,
		Participant:       s.Participant,
		State:             s.State,
		IntegrityScore:    s.IntegrityScore,
		Flagged:           s.Flagged,
		FlagReasons:       append([]string(nil), s.FlagReasons...),
		PauseReason:       s.PauseReason,
		Progress:          s.Progress,
		Deadline:          s.Deadline,
		Violations:        make([]*models.SecurityEvent, 0, len(s.Violations)),
		SeverityCounts:    make(map[models.Severity]int),
		Telemetry:         s.Telemetry,
		MonitoringStopped: s.MonitoringStopped,
		Version:           s.Version,
		UpdatedAt:         s.UpdatedAt,
	}
	for _, e := range s.Violations {
		v.addEvent(e)
	}
	return v
}

// UpdateKind says what an Update carries.
type UpdateKind string

const (
	UpdateSession   UpdateKind = "session"
	UpdateEvent     UpdateKind = "event"
	UpdateTelemetry UpdateKind = "telemetry"
)

// Update is one incremental change for the aggregator.
type Update struct {
	Kind      UpdateKind
	SessionID string
	Session   *models.ExamSession
	Event     *models.SecurityEvent
	Telemetry *models.Telemetry
}

// Loader returns the authoritative session, used to recover from gaps.
type Loader interface {
	Snapshot(sessionID string) (*models.ExamSession, error)
}

// Aggregator keeps the latest View per session.
type Aggregator struct {
	loader Loader
	ring   *eventRing
	now    func() time.Time

	mu    sync.RWMutex
	views map[string]*atomic.Pointer[View]
}

// NewAggregator creates an aggregator whose recent-events feed keeps
// recentEvents entries.
func NewAggregator(loader Loader, recentEvents int) *Aggregator {
	return &Aggregator{
		loader: loader,
		ring:   newEventRing(recentEvents),
		now:    time.Now,
		views:  make(map[string]*atomic.Pointer[View]),
	}
}

func (a *Aggregator) slot(id string, create bool) *atomic.Pointer[View] {
	a.mu.RLock()
	p, ok := a.views[id]
	a.mu.RUnlock()
	if ok || !create {
		return p
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok = a.views[id]; ok {
		return p
	}
	p = &atomic.Pointer[View]{}
	a.views[id] = p
	return p
}

// Apply folds u into the session's view.
func (a *Aggregator) Apply(ctx context.Context, u Update) error {
	switch u.Kind {
	case UpdateSession:
		if u.Session == nil {
			return fmt.Errorf("session update without session")
		}
		a.applySession(u.Session)
		return nil
	case UpdateEvent:
		if u.Event == nil {
			return fmt.Errorf("event update without event")
		}
		return a.applyEvent(ctx, u.Event)
	case UpdateTelemetry:
		if u.Telemetry == nil {
			return fmt.Errorf("telemetry update without telemetry")
		}
		return a.applyTelemetry(u.SessionID, *u.Telemetry)
	}
	return fmt.Errorf("unknown update kind %q", u.Kind)
}

// applySession replaces the view unless it is already newer. Telemetry is
// kept because it does not travel with session snapshots.
func (a *Aggregator) applySession(s *models.ExamSession) {
	p := a.slot(s.ID, true)
	for {
		cur := p.Load()
		if cur != nil && cur.Version >= s.Version {
			return
		}
		next := viewFromSession(s)
		var seen uint64
		if cur != nil {
			next.Telemetry = next.Telemetry.Merge(cur.Telemetry)
			seen = cur.LastSequence
			if seen > next.LastSequence {
				next.LastSequence = seen
			}
		}
		if p.CompareAndSwap(cur, next) {
			a.pushNewer(s.Violations, seen)
			return
		}
	}
}

// pushNewer feeds the recent-events ring with events past seq.
func (a *Aggregator) pushNewer(events []*models.SecurityEvent, seq uint64) {
	for _, e := range events {
		if e.Sequence() > seq {
			a.ring.push(e)
		}
	}
}

// applyEvent appends e. An event more than one step past the last applied
// sequence means updates were missed; the view is reloaded instead.
func (a *Aggregator) applyEvent(ctx context.Context, e *models.SecurityEvent) error {
	p := a.slot(e.SessionID(), false)
	if p == nil || p.Load() == nil {
		return a.Reload(ctx, e.SessionID())
	}
	for {
		cur := p.Load()
		seq := e.Sequence()
		if seq != 0 && seq <= cur.LastSequence {
			return nil
		}
		if seq > cur.LastSequence+1 {
			metrics.AggregatorGaps.Inc()
			logging.Ctx(ctx).Debug().
				Str("session_id", e.SessionID()).
				Uint64("last", cur.LastSequence).
				Uint64("got", seq).
				Msg("Sequence gap, reloading view")
			return a.Reload(ctx, e.SessionID())
		}
		next := cur.clone()
		next.addEvent(e)
		next.UpdatedAt = a.now().UTC()
		if p.CompareAndSwap(cur, next) {
			a.ring.push(e)
			return nil
		}
	}
}

func (a *Aggregator) applyTelemetry(id string, t models.Telemetry) error {
	p := a.slot(id, false)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	for {
		cur := p.Load()
		if cur == nil {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		next := cur.clone()
		next.Telemetry = cur.Telemetry.Merge(t)
		next.UpdatedAt = a.now().UTC()
		if p.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Reload rebuilds the view from the loader.
func (a *Aggregator) Reload(_ context.Context, sessionID string) error {
	if a.loader == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	s, err := a.loader.Snapshot(sessionID)
	if err != nil {
		return fmt.Errorf("reload view %s: %w", sessionID, err)
	}
	p := a.slot(sessionID, true)
	for {
		cur := p.Load()
		next := viewFromSession(s)
		var seen uint64
		if cur != nil {
			next.Telemetry = next.Telemetry.Merge(cur.Telemetry)
			seen = cur.LastSequence
		}
		if p.CompareAndSwap(cur, next) {
			a.pushNewer(s.Violations, seen)
			return nil
		}
	}
}

// Remove drops a session's view.
func (a *Aggregator) Remove(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.views[sessionID]
	delete(a.views, sessionID)
	return ok
}

// View returns the current view. The result must not be modified.
func (a *Aggregator) View(sessionID string) (*View, bool) {
	p := a.slot(sessionID, false)
	if p == nil {
		return nil, false
	}
	v := p.Load()
	return v, v != nil
}

// Views returns every view ordered by session id.
func (a *Aggregator) Views() []*View {
	a.mu.RLock()
	out := make([]*View, 0, len(a.views))
	for _, p := range a.views {
		if v := p.Load(); v != nil {
			out = append(out, v)
		}
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Violations returns the session's violations in arrival order.
func (a *Aggregator) Violations(sessionID string) ([]*models.SecurityEvent, bool) {
	v, ok := a.View(sessionID)
	if !ok {
		return nil, false
	}
	return append([]*models.SecurityEvent(nil), v.Violations...), true
}

// Recent returns the latest security events across sessions, newest first.
func (a *Aggregator) Recent(limit int) []*models.SecurityEvent {
	return a.ring.recent(limit)
}

// Len returns the number of views.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.views)
}
