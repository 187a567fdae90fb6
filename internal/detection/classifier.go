// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/examwatch/internal/coordinator"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
	"github.com/tomtom215/examwatch/internal/models"
)

// Config holds the classifier's global defaults. Per-assessment values in
// ProctoringConfig take precedence.
type Config struct {
	DebounceWindow  time.Duration
	DetectorTimeout time.Duration
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		DebounceWindow:  4 * time.Second,
		DetectorTimeout: 15 * time.Second,
	}
}

type sessionState struct {
	mu sync.Mutex

	cfg       models.ProctoringConfig
	trackedAt time.Time

	lastEmitted map[models.EventType]time.Time
	coalesced   map[models.EventType]int

	lastSeen map[models.DetectorType]time.Time
	timedOut map[models.DetectorType]bool

	anomaly      *rate.Limiter
	anomalyEvery time.Duration

	ready     chan struct{}
	readyDone bool
}

func newSessionState(cfg models.ProctoringConfig, now time.Time) *sessionState {
	st := &sessionState{
		cfg:         cfg,
		trackedAt:   now,
		lastEmitted: make(map[models.EventType]time.Time),
		coalesced:   make(map[models.EventType]int),
		lastSeen:    make(map[models.DetectorType]time.Time),
		timedOut:    make(map[models.DetectorType]bool),
		ready:       make(chan struct{}),
	}
	st.checkReady()
	return st
}

// checkReady closes the ready channel once every required detector has
// reported. Callers hold st.mu.
func (st *sessionState) checkReady() {
	if st.readyDone {
		return
	}
	for _, d := range st.cfg.RequiredDetectors() {
		if _, ok := st.lastSeen[d]; !ok {
			return
		}
	}
	st.readyDone = true
	close(st.ready)
}

// allowAnomaly applies the per-session behavioral cadence. Callers hold st.mu.
func (st *sessionState) allowAnomaly(every time.Duration, at time.Time) bool {
	if every <= 0 {
		return true
	}
	if st.anomaly == nil {
		st.anomaly = rate.NewLimiter(rate.Every(every), 1)
		st.anomalyEvery = every
	} else if st.anomalyEvery != every {
		st.anomaly.SetLimitAt(at, rate.Every(every))
		st.anomalyEvery = every
	}
	return st.anomaly.AllowN(at, 1)
}

// Classifier turns detector signals into SecurityEvents. It is safe for
// concurrent use; signals of one session are serialized on a per-session lock.
type Classifier struct {
	cfg  Config
	mode coordinator.ModeReader
	seq  *models.Sequencer

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewClassifier creates a classifier. mode is re-read for every signal.
func NewClassifier(cfg Config, mode coordinator.ModeReader, seq *models.Sequencer) *Classifier {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultConfig().DebounceWindow
	}
	if cfg.DetectorTimeout <= 0 {
		cfg.DetectorTimeout = DefaultConfig().DetectorTimeout
	}
	if mode == nil {
		mode = coordinator.FixedMode(coordinator.ModeNormal)
	}
	if seq == nil {
		seq = models.NewSequencer()
	}
	return &Classifier{
		cfg:      cfg,
		mode:     mode,
		seq:      seq,
		sessions: make(map[string]*sessionState),
	}
}

// Track starts classifying signals for a session under cfg. Tracking an
// already tracked session replaces its config and keeps its state.
func (c *Classifier) Track(sessionID string, cfg models.ProctoringConfig) {
	cfg = cfg.WithDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.sessions[sessionID]; ok {
		st.mu.Lock()
		st.cfg = cfg
		st.checkReady()
		st.mu.Unlock()
		return
	}
	c.sessions[sessionID] = newSessionState(cfg, time.Now())
}

// Forget drops all debounce, cadence and liveness state for a session.
func (c *Classifier) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// Tracked reports whether the session is being classified.
func (c *Classifier) Tracked(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[sessionID]
	return ok
}

func (c *Classifier) session(id string) (*sessionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.sessions[id]
	return st, ok
}

// Heartbeat marks a detector live without classifying a reading.
func (c *Classifier) Heartbeat(sessionID string, d models.DetectorType, at time.Time) error {
	st, ok := c.session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastSeen[d] = at
	delete(st.timedOut, d)
	st.checkReady()
	return nil
}

// Classify processes one signal. A non-nil event is returned only with
// OutcomeEmitted.
func (c *Classifier) Classify(ctx context.Context, sig Signal) (*models.SecurityEvent, Outcome, error) {
	if !sig.Detector.Valid() {
		return nil, OutcomeIgnored, fmt.Errorf("%w: %q", ErrUnknownDetector, sig.Detector)
	}
	st, ok := c.session(sig.SessionID)
	if !ok {
		return nil, OutcomeIgnored, fmt.Errorf("%w: %s", ErrUnknownSession, sig.SessionID)
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if last, seen := st.lastSeen[sig.Detector]; !seen || sig.Timestamp.After(last) {
		st.lastSeen[sig.Detector] = sig.Timestamp
	}
	delete(st.timedOut, sig.Detector)
	st.checkReady()

	eventType, violation := EventTypeFor(sig.Detector, sig.Reading, st.cfg.Thresholds)
	if !violation {
		return c.finish(nil, OutcomeIgnored)
	}

	// The mode is re-read for every signal; a change applies from the next one.
	mode := c.mode.Mode()
	if eventType.Class() == models.ClassBehavioral {
		profile := mode.Profile()
		if !profile.AnomalyChecksEnabled {
			return c.finish(nil, OutcomeSkippedMode)
		}
		if mode.Mode != coordinator.ModeNormal && !st.allowAnomaly(profile.AnomalyCheckInterval, sig.Timestamp) {
			return c.finish(nil, OutcomeSkippedMode)
		}
	}

	window := st.cfg.DebounceWindow(c.cfg.DebounceWindow)
	if last, emitted := st.lastEmitted[eventType]; emitted && sig.Timestamp.Sub(last) < window {
		st.coalesced[eventType]++
		return c.finish(nil, OutcomeCoalesced)
	}

	evidence := describe(eventType, sig.Reading)
	if n := st.coalesced[eventType]; n > 0 {
		evidence["coalesced_signals"] = n
	}
	if sig.Origin != "" {
		evidence["origin"] = sig.Origin
	}

	event, err := models.NewSecurityEvent(models.SecurityEventParams{
		SessionID: sig.SessionID,
		Type:      eventType,
		Severity:  st.cfg.SeverityFor(eventType),
		Timestamp: sig.Timestamp,
		Detector:  sig.Detector,
		Evidence:  evidence,
		Sequence:  c.seq.Next(sig.SessionID),
	})
	if err != nil {
		return nil, OutcomeIgnored, fmt.Errorf("build %s event: %w", eventType, err)
	}
	st.lastEmitted[eventType] = sig.Timestamp
	st.coalesced[eventType] = 0

	metrics.RecordSecurityEvent(string(eventType), string(event.Severity()))
	logging.Ctx(ctx).Debug().
		Str("session_id", sig.SessionID).
		Str("detector", string(sig.Detector)).
		Str("type", string(eventType)).
		Str("severity", string(event.Severity())).
		Uint64("sequence", event.Sequence()).
		Msg("Security event classified")

	return c.finish(event, OutcomeEmitted)
}

func (c *Classifier) finish(e *models.SecurityEvent, o Outcome) (*models.SecurityEvent, Outcome, error) {
	metrics.RecordSignalOutcome(string(o))
	return e, o, nil
}

// Ready reports whether every required detector has reported at least once.
func (c *Classifier) Ready(sessionID string) bool {
	st, ok := c.session(sessionID)
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.readyDone
}

// WaitReady blocks until the session's required detectors are all live or
// ctx is done.
func (c *Classifier) WaitReady(ctx context.Context, sessionID string) error {
	st, ok := c.session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	select {
	case <-st.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Missing returns the required detectors that have not reported yet.
func (c *Classifier) Missing(sessionID string) []models.DetectorType {
	st, ok := c.session(sessionID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []models.DetectorType
	for _, d := range st.cfg.RequiredDetectors() {
		if _, seen := st.lastSeen[d]; !seen {
			out = append(out, d)
		}
	}
	return out
}

// SweepTimeouts describes one medium event for every required detector of a
// ready session that has been silent longer than its timeout. A detector is
// reported again only after it has recovered and gone silent once more.
// Behavioral detectors are skipped while anomaly checks are disabled. The
// returned params carry no sequence; the caller assigns one when it records
// the event.
func (c *Classifier) SweepTimeouts(now time.Time) []models.SecurityEventParams {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	profile := c.mode.Mode().Profile()
	var out []models.SecurityEventParams

	for _, id := range ids {
		st, ok := c.session(id)
		if !ok {
			continue
		}
		st.mu.Lock()
		if !st.readyDone {
			st.mu.Unlock()
			continue
		}
		timeout := st.cfg.DetectorTimeout(c.cfg.DetectorTimeout)
		for _, d := range st.cfg.RequiredDetectors() {
			eventType := d.TimeoutEventType()
			if eventType.Class() == models.ClassBehavioral && !profile.AnomalyChecksEnabled {
				continue
			}
			last := st.lastSeen[d]
			silent := now.Sub(last)
			if silent <= timeout || st.timedOut[d] {
				continue
			}
			st.timedOut[d] = true
			out = append(out, models.SecurityEventParams{
				SessionID:   id,
				Type:        eventType,
				Severity:    models.SeverityMedium,
				Timestamp:   now,
				Detector:    d,
				Description: fmt.Sprintf("No %s signal for %s", d, silent.Truncate(time.Second)),
				Evidence: map[string]interface{}{
					"error":          ErrDetectorTimeout.Error(),
					"silent_for_ms":  silent.Milliseconds(),
					"last_signal_at": last,
				},
			})
			metrics.DetectorTimeouts.WithLabelValues(string(d)).Inc()
			metrics.RecordSecurityEvent(string(eventType), string(models.SeverityMedium))
			logging.Warn().
				Str("session_id", id).
				Str("detector", string(d)).
				Dur("silent_for", silent).
				Msg("Required detector timed out")
		}
		st.mu.Unlock()
	}
	return out
}
