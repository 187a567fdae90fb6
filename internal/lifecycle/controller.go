// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
	"github.com/tomtom215/examwatch/internal/models"
	"github.com/tomtom215/examwatch/internal/store"
)

// SessionStore is the persistence the controller writes through.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.ExamSession) error
	ListSessions(ctx context.Context) ([]*models.ExamSession, error)
	LoadArchived(ctx context.Context, id string) (*models.ExamSession, error)
	Archive(ctx context.Context, s *models.ExamSession) error
	AppendEvent(ctx context.Context, e *models.SecurityEvent) error
	LoadConfig(ctx context.Context, assessmentID string) (*models.ProctoringConfig, error)
}

// Readiness reports whether a session's required detectors are live.
type Readiness interface {
	WaitReady(ctx context.Context, sessionID string) error
	Missing(sessionID string) []models.DetectorType
}

// ViolationSink receives synthetic security events raised by the controller
// (denied permissions). It assigns the sequence, records and escalates the
// event and returns it.
type ViolationSink interface {
	ReportViolation(ctx context.Context, p models.SecurityEventParams) (*models.SecurityEvent, error)
}

// Emitter publishes bus messages.
type Emitter interface {
	Emit(ctx context.Context, kind eventprocessor.Kind, sessionID string, payload interface{}) error
}

// Penalties are the integrity-score deductions per severity.
type Penalties struct {
	Low      int
	Medium   int
	High     int
	Critical int
}

// DefaultPenalties returns 1/5/10/25.
func DefaultPenalties() Penalties {
	return Penalties{Low: 1, Medium: 5, High: 10, Critical: 25}
}

// For returns the deduction for s.
func (p Penalties) For(s models.Severity) int {
	switch s {
	case models.SeverityLow:
		return p.Low
	case models.SeverityMedium:
		return p.Medium
	case models.SeverityHigh:
		return p.High
	case models.SeverityCritical:
		return p.Critical
	}
	return 0
}

// Config holds controller settings.
type Config struct {
	// ReadinessTimeout bounds AwaitMonitoring unless the assessment overrides it.
	ReadinessTimeout time.Duration
	Penalties        Penalties
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		ReadinessTimeout: 60 * time.Second,
		Penalties:        DefaultPenalties(),
	}
}

// Deps are the controller's collaborators. Only Store is required.
type Deps struct {
	Store      SessionStore
	Readiness  Readiness
	Violations ViolationSink
	Emitter    Emitter
	Audit      *audit.Logger
	Sequencer  *models.Sequencer
}

// ChangeKind classifies a Change.
type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeTransition ChangeKind = "transition"
	ChangeFlagged    ChangeKind = "flagged"
	ChangeViolation  ChangeKind = "violation"
	ChangeCancelled  ChangeKind = "cancelled"
)

// Change is handed to listeners after every committed mutation.
type Change struct {
	Kind    ChangeKind
	Session *models.ExamSession // snapshot after the change
	From    models.LifecycleState
	To      models.LifecycleState
	Trigger Trigger
	Reason  string
	By      string
	Event   *models.SecurityEvent
}

// Listener observes committed changes. Listeners run on the caller's
// goroutine after the session lock is released.
type Listener func(ctx context.Context, c Change)

type entry struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[models.ExamSession]
}

// Controller is the single owner of live exam sessions.
type Controller struct {
	cfg   Config
	deps  Deps
	now   func() time.Time
	newID func() string

	mu       sync.RWMutex
	sessions map[string]*entry

	lmu       sync.RWMutex
	listeners []Listener
}

// NewController creates a controller.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = DefaultConfig().ReadinessTimeout
	}
	if cfg.Penalties == (Penalties{}) {
		cfg.Penalties = DefaultPenalties()
	}
	if deps.Sequencer == nil {
		deps.Sequencer = models.NewSequencer()
	}
	return &Controller{
		cfg:      cfg,
		deps:     deps,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		sessions: make(map[string]*entry),
	}
}

// SetViolationSink sets the sink for synthetic events. It exists because the
// sink usually depends on the controller itself.
func (c *Controller) SetViolationSink(v ViolationSink) {
	c.deps.Violations = v
}

// SetEmitter sets the bus publisher for transitions.
func (c *Controller) SetEmitter(e Emitter) {
	c.deps.Emitter = e
}

// SetReadiness sets the readiness source.
func (c *Controller) SetReadiness(r Readiness) {
	c.deps.Readiness = r
}

// Subscribe registers l for every committed change.
func (c *Controller) Subscribe(l Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) publish(ctx context.Context, ch Change) {
	c.lmu.RLock()
	ls := append([]Listener(nil), c.listeners...)
	c.lmu.RUnlock()
	for _, l := range ls {
		l(ctx, ch)
	}
}

func (c *Controller) entry(id string) (*entry, error) {
	c.mu.RLock()
	e, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// Restore loads live sessions from the store, e.g. after a restart.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	sessions, err := c.deps.Store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range sessions {
		e := &entry{}
		e.cur.Store(s)
		c.sessions[s.ID] = e
		var last uint64
		for _, v := range s.Violations {
			if v.Sequence() > last {
				last = v.Sequence()
			}
		}
		c.deps.Sequencer.Advance(s.ID, last)
	}
	logging.Info().Int("sessions", len(sessions)).Msg("Restored live sessions")
	return len(sessions), nil
}

// BeginRequest describes a new attempt.
type BeginRequest struct {
	SessionID    string
	AssessmentID string
	Participant  models.Participant
	// Config overrides the stored assessment config when set.
	Config         *models.ProctoringConfig
	TotalQuestions int
}

// Begin creates a session and fires its first trigger: proctoring_setup when
// the assessment requires proctoring, in_progress otherwise.
func (c *Controller) Begin(ctx context.Context, req BeginRequest) (*models.ExamSession, error) {
	if req.AssessmentID == "" {
		return nil, fmt.Errorf("%w: assessment id is required", ErrInvalidRequest)
	}
	cfg := req.Config
	if cfg == nil {
		stored, err := c.deps.Store.LoadConfig(ctx, req.AssessmentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: assessment %s", ErrConfigNotFound, req.AssessmentID)
		}
		if err != nil {
			return nil, fmt.Errorf("begin session: %w", err)
		}
		cfg = stored
	}
	if req.Participant.Anonymous && !cfg.AnonymousAllowed {
		return nil, fmt.Errorf("%w: assessment %s does not allow anonymous participants", ErrInvalidRequest, req.AssessmentID)
	}

	id := req.SessionID
	if id == "" {
		id = c.newID()
	}
	now := c.now().UTC()
	s := &models.ExamSession{
		ID:             id,
		AssessmentID:   req.AssessmentID,
		Participant:    req.Participant,
		State:          models.StateNotStarted,
		Config:         cfg.WithDefaults(),
		Progress:       models.Progress{Total: req.TotalQuestions},
		IntegrityScore: 100,
		Telemetry:      models.UnknownTelemetry(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}

	c.mu.Lock()
	if _, exists := c.sessions[id]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if err := c.deps.Store.SaveSession(ctx, s); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("begin session %s: %w", id, err)
	}
	e := &entry{}
	e.cur.Store(s)
	c.sessions[id] = e
	c.mu.Unlock()

	logging.Ctx(ctx).Info().
		Str("session_id", id).
		Str("assessment_id", req.AssessmentID).
		Bool("anonymous", req.Participant.Anonymous).
		Bool("proctored", cfg.ProctoringRequired()).
		Msg("Exam session created")
	c.publish(ctx, Change{Kind: ChangeCreated, Session: s.Clone(), To: s.State, By: ActorParticipant})

	trigger := TriggerStart
	if s.Config.ProctoringRequired() {
		trigger = TriggerBegin
	}
	return c.fire(ctx, id, trigger, ActorParticipant, "", nil)
}

// GrantPermissions records the participant's answer to the device permission
// prompts. All required permissions granted moves the session to
// proctoring_check. Any denial raises one synthetic critical event per
// denied detector, keeps the session in proctoring_setup and returns a
// *PermissionError.
func (c *Controller) GrantPermissions(ctx context.Context, sessionID string, granted map[models.DetectorType]bool) (*models.ExamSession, error) {
	snap, err := c.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	if snap.State != models.StateProctoringSetup {
		return nil, c.reject(ctx, snap, TriggerPermissionsGranted, ActorParticipant)
	}

	var denied []models.DetectorType
	for _, d := range snap.Config.PermissionDetectors() {
		if !granted[d] {
			denied = append(denied, d)
		}
	}
	if len(denied) == 0 {
		return c.fire(ctx, sessionID, TriggerPermissionsGranted, ActorParticipant, "", nil)
	}

	at := c.now().UTC()
	for _, d := range denied {
		params := models.SecurityEventParams{
			SessionID:   sessionID,
			Type:        d.TimeoutEventType(),
			Severity:    models.SeverityCritical,
			Timestamp:   at,
			Detector:    d,
			Description: fmt.Sprintf("Permission denied for %s", d),
			Evidence:    map[string]interface{}{"permission": string(d), "granted": false},
			Synthetic:   true,
		}
		if c.deps.Audit != nil {
			c.deps.Audit.LogPermissionDenied(ctx, sessionID, string(d), at)
		}
		logging.Ctx(ctx).Warn().
			Str("session_id", sessionID).
			Str("detector", string(d)).
			Time("at", at).
			Msg("Device permission denied")
		if c.deps.Violations != nil {
			if _, err := c.deps.Violations.ReportViolation(ctx, params); err != nil {
				logging.Ctx(ctx).Error().Err(err).
					Str("session_id", sessionID).
					Str("detector", string(d)).
					Msg("Failed to report permission event")
			}
		}
	}
	return nil, &PermissionError{SessionID: sessionID, Detectors: denied, At: at}
}

// AwaitMonitoring blocks until every required detector reports, then moves
// the session to in_progress. If readiness does not arrive within the
// readiness timeout the session returns to proctoring_setup for a manual
// retry and ErrReadinessTimeout is returned.
func (c *Controller) AwaitMonitoring(ctx context.Context, sessionID string) (*models.ExamSession, error) {
	snap, err := c.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	if snap.State != models.StateProctoringCheck {
		return nil, c.reject(ctx, snap, TriggerMonitoringReady, ActorMonitor)
	}
	if snap.MonitoringStopped {
		return nil, fmt.Errorf("%w: %s", ErrSessionCancelled, sessionID)
	}

	start := c.now()
	if c.deps.Readiness != nil {
		timeout := snap.Config.ReadinessTimeout(c.cfg.ReadinessTimeout)
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.deps.Readiness.WaitReady(waitCtx, sessionID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("await monitoring for %s: %w", sessionID, err)
			}
			metrics.RecordReadinessWait(c.now().Sub(start), false)
			missing := c.deps.Readiness.Missing(sessionID)
			logging.Ctx(ctx).Warn().
				Str("session_id", sessionID).
				Dur("timeout", timeout).
				Interface("missing", missing).
				Msg("Proctoring readiness timed out")
			if _, ferr := c.fire(ctx, sessionID, TriggerCheckTimeout, ActorMonitor, "readiness timeout", nil); ferr != nil {
				return nil, ferr
			}
			return nil, fmt.Errorf("%w: session %s after %s, missing %v", ErrReadinessTimeout, sessionID, timeout, missing)
		}
	}
	metrics.RecordReadinessWait(c.now().Sub(start), true)
	return c.fire(ctx, sessionID, TriggerMonitoringReady, ActorMonitor, "", nil)
}

// Pause moves an in-progress session to paused. Pausing a paused session is
// rejected; callers that only need the session paused check the state.
func (c *Controller) Pause(ctx context.Context, sessionID, reason, by string) error {
	_, err := c.fire(ctx, sessionID, TriggerPause, by, reason, func(s *models.ExamSession) {
		s.PauseReason = reason
	})
	return err
}

// Resume returns a paused session to in_progress. Only a supervisor may resume.
func (c *Controller) Resume(ctx context.Context, sessionID, supervisor string) (*models.ExamSession, error) {
	if supervisor == "" || monitoringActor(supervisor) || supervisor == ActorParticipant || supervisor == ActorSystem {
		return nil, fmt.Errorf("%w: resume requires a supervisor", ErrInvalidRequest)
	}
	return c.fire(ctx, sessionID, TriggerResume, supervisor, "", func(s *models.ExamSession) {
		s.PauseReason = ""
	})
}

// Submit ends the attempt at the participant's request.
func (c *Controller) Submit(ctx context.Context, sessionID string) (*models.ExamSession, error) {
	return c.fire(ctx, sessionID, TriggerSubmit, ActorParticipant, "", nil)
}

// Expire ends the attempt because its time ran out.
func (c *Controller) Expire(ctx context.Context, sessionID string) (*models.ExamSession, error) {
	return c.fire(ctx, sessionID, TriggerExpire, ActorSystem, "time limit reached", nil)
}

// Evaluate records the score, archives the session and removes it from the
// live set.
func (c *Controller) Evaluate(ctx context.Context, sessionID string, score float64, by string) (*models.ExamSession, error) {
	if by == "" {
		by = ActorSystem
	}
	return c.fire(ctx, sessionID, TriggerEvaluate, by, "", func(s *models.ExamSession) {
		v := score
		s.Score = &v
	})
}

// Flag marks the session for review. It reports whether reason was new; a
// reason already present is a no-op.
func (c *Controller) Flag(ctx context.Context, sessionID, reason, by string) (bool, error) {
	if reason == "" {
		return false, fmt.Errorf("%w: flag reason is required", ErrInvalidRequest)
	}
	e, err := c.entry(sessionID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	cur := e.cur.Load()
	if monitoringActor(by) && cur.MonitoringStopped {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrSessionCancelled, sessionID)
	}
	if cur.HasFlag(reason) {
		e.mu.Unlock()
		return false, nil
	}
	next := cur.Clone()
	next.Flagged = true
	next.FlagReasons = append(next.FlagReasons, reason)
	c.touch(next)
	if err := c.deps.Store.SaveSession(ctx, next); err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("flag session %s: %w", sessionID, err)
	}
	e.cur.Store(next)
	e.mu.Unlock()

	if c.deps.Audit != nil {
		c.deps.Audit.LogFlag(ctx, actorFor(by, sessionID), sessionID, reason)
	}
	logging.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("reason", reason).
		Str("by", by).
		Msg("Session flagged")
	c.publish(ctx, Change{Kind: ChangeFlagged, Session: next.Clone(), From: next.State, To: next.State, Reason: reason, By: by})
	return true, nil
}

// RecordViolation appends ev to the session's violations in arrival order
// and applies its integrity penalty. Recording the same event twice is a
// no-op.
func (c *Controller) RecordViolation(ctx context.Context, ev *models.SecurityEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidRequest)
	}
	e, err := c.entry(ev.SessionID())
	if err != nil {
		return err
	}

	e.mu.Lock()
	cur := e.cur.Load()
	if cur.MonitoringStopped {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionCancelled, ev.SessionID())
	}
	for _, v := range cur.Violations {
		if v.ID() == ev.ID() {
			e.mu.Unlock()
			return nil
		}
	}
	next := cur.Clone()
	next.Violations = append(next.Violations, ev)
	next.IntegrityScore -= c.cfg.Penalties.For(ev.Severity())
	if next.IntegrityScore < 0 {
		next.IntegrityScore = 0
	}
	c.touch(next)
	if err := c.deps.Store.AppendEvent(ctx, ev); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("record violation %s: %w", ev.ID(), err)
	}
	if err := c.deps.Store.SaveSession(ctx, next); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("record violation %s: %w", ev.ID(), err)
	}
	e.cur.Store(next)
	e.mu.Unlock()

	c.publish(ctx, Change{Kind: ChangeViolation, Session: next.Clone(), From: next.State, To: next.State, Event: ev, By: ActorDetector})
	return nil
}

// RecordResolution persists the escalation outcome of a recorded event. The
// event and the session holding it are rewritten; nothing is published.
func (c *Controller) RecordResolution(ctx context.Context, ev *models.SecurityEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidRequest)
	}
	e, err := c.entry(ev.SessionID())
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.cur.Load()
	found := false
	for _, v := range cur.Violations {
		if v.ID() == ev.ID() {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: event %s not recorded on %s", ErrInvalidRequest, ev.ID(), ev.SessionID())
	}
	if err := c.deps.Store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("record resolution %s: %w", ev.ID(), err)
	}
	if err := c.deps.Store.SaveSession(ctx, cur); err != nil {
		return fmt.Errorf("record resolution %s: %w", ev.ID(), err)
	}
	return nil
}

// Cancel stops monitoring for a session. It reports whether this call did
// the cancelling; later monitoring-originated triggers are refused.
func (c *Controller) Cancel(ctx context.Context, sessionID, reason, by string) (bool, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	cur := e.cur.Load()
	if cur.MonitoringStopped {
		e.mu.Unlock()
		return false, nil
	}
	next := cur.Clone()
	next.MonitoringStopped = true
	c.touch(next)
	if err := c.deps.Store.SaveSession(ctx, next); err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("cancel monitoring for %s: %w", sessionID, err)
	}
	e.cur.Store(next)
	e.mu.Unlock()

	if c.deps.Audit != nil {
		c.deps.Audit.LogMonitoringStopped(ctx, actorFor(by, sessionID), sessionID, reason)
	}
	logging.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("reason", reason).
		Str("by", by).
		Msg("Monitoring cancelled")
	c.publish(ctx, Change{Kind: ChangeCancelled, Session: next.Clone(), From: next.State, To: next.State, Reason: reason, By: by})
	return true, nil
}

// ExpireOverdue submits every in-progress or paused session whose deadline
// has passed. It returns how many sessions were expired.
func (c *Controller) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	var overdue []string
	for _, s := range c.all() {
		if s.State.Active() && !s.Deadline.IsZero() && !now.Before(s.Deadline) {
			overdue = append(overdue, s.ID)
		}
	}
	expired := 0
	var errs []error
	for _, id := range overdue {
		if _, err := c.Expire(ctx, id); err != nil {
			if errors.Is(err, ErrTransitionRejected) || errors.Is(err, ErrSessionNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}

// Snapshot returns a copy of a live session.
func (c *Controller) Snapshot(sessionID string) (*models.ExamSession, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return nil, err
	}
	return e.cur.Load().Clone(), nil
}

// Get returns a live session, falling back to the archive for evaluated ones.
func (c *Controller) Get(ctx context.Context, sessionID string) (*models.ExamSession, error) {
	if s, err := c.Snapshot(sessionID); err == nil {
		return s, nil
	}
	s, err := c.deps.Store.LoadArchived(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LiveSession is the reconciliation view of a session.
type LiveSession struct {
	ID           string
	AssessmentID string
	Public       bool
	State        models.LifecycleState
}

// LiveSessions lists sessions that are still monitored: not submitted,
// not evaluated and not cancelled.
func (c *Controller) LiveSessions() []LiveSession {
	var out []LiveSession
	for _, s := range c.all() {
		if !isLive(s) {
			continue
		}
		out = append(out, LiveSession{ID: s.ID, AssessmentID: s.AssessmentID, Public: s.Public(), State: s.State})
	}
	return out
}

// IsLive reports whether sessionID is still monitored.
func (c *Controller) IsLive(sessionID string) bool {
	e, err := c.entry(sessionID)
	if err != nil {
		return false
	}
	return isLive(e.cur.Load())
}

func isLive(s *models.ExamSession) bool {
	return !s.MonitoringStopped && s.State != models.StateSubmitted && !s.State.Terminal()
}

// ListFilter selects sessions for List. Zero values match everything.
type ListFilter struct {
	AssessmentID string
	States       []models.LifecycleState
	FlaggedOnly  bool
	PublicOnly   bool
	Limit        int
}

func (f ListFilter) match(s *models.ExamSession) bool {
	if f.AssessmentID != "" && s.AssessmentID != f.AssessmentID {
		return false
	}
	if f.FlaggedOnly && !s.Flagged {
		return false
	}
	if f.PublicOnly && !s.Public() {
		return false
	}
	if len(f.States) > 0 {
		for _, st := range f.States {
			if s.State == st {
				return true
			}
		}
		return false
	}
	return true
}

// List returns copies of matching live sessions, oldest first.
func (c *Controller) List(filter ListFilter) []*models.ExamSession {
	var out []*models.ExamSession
	for _, s := range c.all() {
		if filter.match(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// all returns the current (shared, read-only) session pointers.
func (c *Controller) all() []*models.ExamSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.ExamSession, 0, len(c.sessions))
	for _, e := range c.sessions {
		out = append(out, e.cur.Load())
	}
	return out
}

func (c *Controller) touch(s *models.ExamSession) {
	s.UpdatedAt = c.now().UTC()
	s.Version++
}

// fire applies trigger t. mutate runs on the copy that becomes the new state.
func (c *Controller) fire(ctx context.Context, sessionID string, t Trigger, by, reason string, mutate func(*models.ExamSession)) (*models.ExamSession, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	cur := e.cur.Load()
	if monitoringActor(by) && cur.MonitoringStopped {
		e.mu.Unlock()
		metrics.RecordTransitionRejected(string(cur.State), string(t))
		logging.Ctx(ctx).Warn().
			Str("session_id", sessionID).
			Str("trigger", string(t)).
			Str("by", by).
			Msg("Trigger refused: monitoring cancelled")
		return nil, fmt.Errorf("%w: %s", ErrSessionCancelled, sessionID)
	}
	to, ok := Next(cur.State, t)
	if !ok {
		e.mu.Unlock()
		return nil, c.reject(ctx, cur, t, by)
	}

	from := cur.State
	next := cur.Clone()
	next.State = to
	if to == models.StateInProgress && next.StartedAt.IsZero() {
		next.StartedAt = c.now().UTC()
		if limit := next.Config.TimeLimitSeconds; limit > 0 {
			next.Deadline = next.StartedAt.Add(time.Duration(limit) * time.Second)
		}
	}
	if mutate != nil {
		mutate(next)
	}
	c.touch(next)

	if to == models.StateEvaluated {
		err = c.deps.Store.Archive(ctx, next)
	} else {
		err = c.deps.Store.SaveSession(ctx, next)
	}
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("persist %s for session %s: %w", t, sessionID, err)
	}
	e.cur.Store(next)
	e.mu.Unlock()

	if to == models.StateEvaluated {
		c.mu.Lock()
		delete(c.sessions, sessionID)
		c.mu.Unlock()
		c.deps.Sequencer.Forget(sessionID)
	}

	c.committed(ctx, next, from, t, by, reason)
	return next.Clone(), nil
}

func (c *Controller) committed(ctx context.Context, s *models.ExamSession, from models.LifecycleState, t Trigger, by, reason string) {
	metrics.RecordTransition(string(from), string(s.State))
	if c.deps.Audit != nil {
		c.deps.Audit.LogTransition(ctx, actorFor(by, s.ID), s.ID, string(from), string(s.State), string(t))
	}
	if c.deps.Emitter != nil {
		payload := eventprocessor.TransitionPayload{
			From:    string(from),
			To:      string(s.State),
			Trigger: string(t),
			Reason:  reason,
			Version: s.Version,
			At:      s.UpdatedAt,
		}
		if err := c.deps.Emitter.Emit(ctx, eventprocessor.KindTransition, s.ID, payload); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", s.ID).Msg("Failed to publish transition")
		}
	}
	logging.Ctx(ctx).Info().
		Str("session_id", s.ID).
		Str("from", string(from)).
		Str("to", string(s.State)).
		Str("trigger", string(t)).
		Str("by", by).
		Uint64("version", s.Version).
		Msg("Session transition")
	c.publish(ctx, Change{Kind: ChangeTransition, Session: s.Clone(), From: from, To: s.State, Trigger: t, Reason: reason, By: by})
}

// reject records a trigger that is not valid in s's state.
func (c *Controller) reject(ctx context.Context, s *models.ExamSession, t Trigger, by string) error {
	metrics.RecordTransitionRejected(string(s.State), string(t))
	if c.deps.Audit != nil {
		c.deps.Audit.LogTransitionRejected(ctx, actorFor(by, s.ID), s.ID, string(s.State), string(t))
	}
	logging.Ctx(ctx).Warn().
		Str("session_id", s.ID).
		Str("state", string(s.State)).
		Str("trigger", string(t)).
		Str("by", by).
		Msg("Transition rejected")
	return &TransitionError{SessionID: s.ID, From: s.State, Trigger: t}
}

func actorFor(by, sessionID string) audit.Actor {
	switch {
	case by == ActorParticipant:
		return audit.ParticipantActor(sessionID)
	case by == "" || by == ActorSystem:
		return audit.SystemActor(ActorSystem, "Lifecycle Controller")
	case monitoringActor(by):
		return audit.SystemActor(by, by)
	default:
		return audit.SupervisorActor(by, "supervisor")
	}
}
