// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package escalation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
	"github.com/tomtom215/examwatch/internal/models"
)

// ActorEscalation is passed as the requesting actor on controller calls.
const ActorEscalation = "escalation"

// ReasonAccumulation is the flag reason used by the accumulation rule.
const ReasonAccumulation = "accumulated_violations"

// SessionController is the subset of the lifecycle controller the engine
// drives. Implementations own all session state.
type SessionController interface {
	Snapshot(sessionID string) (*models.ExamSession, error)
	Pause(ctx context.Context, sessionID, reason, by string) error
	Flag(ctx context.Context, sessionID, reason, by string) (bool, error)
}

// Config configures the Engine.
type Config struct {
	Policy Policy

	// AccumulationLimit is the count that, once exceeded, flags the session.
	// A session's assessment config may override it.
	AccumulationLimit int

	// AccumulationMinSeverity is the lowest severity counted.
	AccumulationMinSeverity models.Severity

	// DedupCapacity bounds the number of remembered event ids.
	DedupCapacity int

	// NotifyTimeout bounds a single notifier delivery.
	NotifyTimeout time.Duration
}

// DefaultConfig returns the built-in policy with an accumulation limit of 5
// counted from medium severity.
func DefaultConfig() Config {
	return Config{
		Policy:                  DefaultPolicy(),
		AccumulationLimit:       5,
		AccumulationMinSeverity: models.SeverityMedium,
		DedupCapacity:           100000,
		NotifyTimeout:           15 * time.Second,
	}
}

// Decision reports what Handle did for one event.
type Decision struct {
	EventID   string
	SessionID string
	Severity  models.Severity
	Actions   []Action

	Paused              bool // a pause command was issued and applied
	PauseSatisfied      bool // the session was already paused
	Held                bool // pause requested but the session is not pausable
	Flagged             bool
	AccumulationFlagged bool

	// Stale is set when an older event arrived after a newer one paused the
	// session; contradicting actions were skipped.
	Stale    bool
	Response string
}

type sessionState struct {
	counted      int
	accumFlagged bool
	pausedAtSeq  uint64
}

// Engine applies the escalation policy.
type Engine struct {
	cfg      Config
	sessions SessionController
	audit    *audit.Logger

	mu        sync.Mutex
	notifiers []Notifier
	seen      *seenSet
	state     map[string]*sessionState

	wg sync.WaitGroup
}

// NewEngine creates an engine. auditLog may be nil.
func NewEngine(cfg Config, sessions SessionController, auditLog *audit.Logger) *Engine {
	d := DefaultConfig()
	if cfg.Policy == nil {
		cfg.Policy = d.Policy
	}
	if cfg.AccumulationLimit <= 0 {
		cfg.AccumulationLimit = d.AccumulationLimit
	}
	if !cfg.AccumulationMinSeverity.Valid() {
		cfg.AccumulationMinSeverity = d.AccumulationMinSeverity
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = d.DedupCapacity
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = d.NotifyTimeout
	}
	return &Engine{
		cfg:      cfg,
		sessions: sessions,
		audit:    auditLog,
		seen:     newSeenSet(cfg.DedupCapacity),
		state:    make(map[string]*sessionState),
	}
}

// RegisterNotifier adds a notifier.
func (e *Engine) RegisterNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
	logging.Info().Str("notifier", n.Name()).Bool("enabled", n.Enabled()).Msg("Registered notifier")
}

// Handle executes the policy for ev. It returns ErrDuplicateResponse if ev
// was already handled.
func (e *Engine) Handle(ctx context.Context, ev *models.SecurityEvent) (Decision, error) {
	if ev == nil {
		return Decision{}, ErrNilEvent
	}
	if err := e.claim(ctx, ev); err != nil {
		return Decision{}, err
	}

	snap, err := e.sessions.Snapshot(ev.SessionID())
	if err != nil {
		e.release(ev.ID())
		return Decision{}, fmt.Errorf("escalate event %s for session %s: %w", ev.ID(), ev.SessionID(), err)
	}

	d := Decision{
		EventID:   ev.ID(),
		SessionID: ev.SessionID(),
		Severity:  ev.Severity(),
		Actions:   e.cfg.Policy.For(ev.Severity()),
	}

	e.mu.Lock()
	st := e.sessionState(ev.SessionID())
	d.Stale = st.pausedAtSeq > 0 && ev.Sequence() < st.pausedAtSeq
	e.mu.Unlock()

	var parts []string
	executed := make([]string, 0, len(d.Actions)+1)
	for _, action := range d.Actions {
		if d.Stale && (action == ActionPause || action == ActionWarnParticipant) {
			continue
		}
		if text := e.execute(ctx, action, ev, snap, &d); text != "" {
			parts = append(parts, text)
		}
		executed = append(executed, string(action))
		metrics.RecordEscalationAction(string(action))
	}

	if e.accumulate(ctx, ev, snap, &d) {
		parts = append(parts, "session flagged for accumulated violations")
		executed = append(executed, "accumulation_flag")
		metrics.RecordEscalationAction("accumulation_flag")
	}

	if d.Stale {
		parts = append(parts, "older than the event that paused the session")
	}
	d.Response = strings.Join(parts, "; ")
	if d.Response == "" {
		d.Response = "recorded"
	}

	if err := ev.Resolve(ev.Severity() == models.SeverityCritical, d.Response); err != nil {
		// Another path resolved it between claim and now; actions already ran
		// exactly once through this claim.
		logging.Warn().Err(err).Str("event_id", ev.ID()).Msg("Event resolved concurrently")
	}

	if e.audit != nil {
		e.audit.LogAutoResponse(ctx, audit.AutoResponse{
			SessionID: ev.SessionID(),
			EventID:   ev.ID(),
			EventType: string(ev.Type()),
			Severity:  string(ev.Severity()),
			Sequence:  ev.Sequence(),
			Detector:  string(ev.Detector()),
			Actions:   executed,
			Response:  d.Response,
			Stale:     d.Stale,
			At:        ev.Timestamp(),
		})
	}

	logging.Ctx(ctx).Info().
		Str("session_id", ev.SessionID()).
		Str("event_id", ev.ID()).
		Str("type", string(ev.Type())).
		Str("severity", string(ev.Severity())).
		Strs("actions", executed).
		Bool("stale", d.Stale).
		Msg("Escalation handled")
	return d, nil
}

// claim records ev as handled, or reports it as a duplicate.
func (e *Engine) claim(ctx context.Context, ev *models.SecurityEvent) error {
	e.mu.Lock()
	first, logged := e.seen.add(ev.ID())
	if first && ev.Resolved() {
		// Resolved before this process saw it, e.g. reloaded from the store.
		first = false
	}
	if !first && !logged {
		e.seen.setLogged(ev.ID())
	}
	e.mu.Unlock()

	if first {
		return nil
	}
	metrics.DuplicateResponses.Inc()
	if !logged {
		logging.Ctx(ctx).Warn().
			Str("session_id", ev.SessionID()).
			Str("event_id", ev.ID()).
			Str("type", string(ev.Type())).
			Msg("Duplicate response rejected")
		if e.audit != nil {
			e.audit.LogDuplicateResponse(ctx, ev.SessionID(), ev.ID())
		}
	}
	return fmt.Errorf("%w: %s", ErrDuplicateResponse, ev.ID())
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen.remove(id)
}

// sessionState must be called with e.mu held.
func (e *Engine) sessionState(id string) *sessionState {
	st, ok := e.state[id]
	if !ok {
		st = &sessionState{}
		e.state[id] = st
	}
	return st
}

func (e *Engine) execute(ctx context.Context, action Action, ev *models.SecurityEvent, snap *models.ExamSession, d *Decision) string {
	switch action {
	case ActionPause:
		return e.pause(ctx, ev, snap, d)
	case ActionNotifySupervisor:
		e.notify(e.notification(AudienceSupervisor, KindSupervisorAlert, ev, supervisorMessage(ev, snap)))
		return "supervisor notified"
	case ActionFlag:
		added, err := e.sessions.Flag(ctx, ev.SessionID(), flagReason(ev), ActorEscalation)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", ev.SessionID()).Msg("Flag request failed")
			return "flag failed"
		}
		d.Flagged = true
		if added {
			e.notify(e.notification(AudienceDashboard, KindSessionFlagged, ev, "Session flagged: "+flagReason(ev)))
		}
		return "session flagged"
	case ActionAlertDashboard:
		e.notify(e.notification(AudienceDashboard, KindSecurityEvent, ev, ev.Description()))
		return "dashboards alerted"
	case ActionWarnParticipant:
		e.notify(e.notification(AudienceParticipant, KindParticipantWarning, ev, participantMessage(ev)))
		return "participant warned"
	case ActionRecord:
		return ""
	default:
		logging.Warn().Str("action", string(action)).Msg("Unknown escalation action skipped")
		return ""
	}
}

// pause requests the pause unless the session is already paused. Sessions
// outside in_progress cannot be paused and are held where they are.
func (e *Engine) pause(ctx context.Context, ev *models.SecurityEvent, snap *models.ExamSession, d *Decision) string {
	switch snap.State {
	case models.StatePaused:
		d.PauseSatisfied = true
		e.markPaused(ev)
		return "session already paused"
	case models.StateInProgress:
	default:
		d.Held = true
		return "session held in " + string(snap.State)
	}

	reason := fmt.Sprintf("%s (%s)", ev.Type().Description(), ev.Severity())
	if err := e.sessions.Pause(ctx, ev.SessionID(), reason, ActorEscalation); err != nil {
		if cur, snapErr := e.sessions.Snapshot(ev.SessionID()); snapErr == nil && cur.State == models.StatePaused {
			d.PauseSatisfied = true
			e.markPaused(ev)
			return "session already paused"
		}
		logging.Ctx(ctx).Warn().Err(err).
			Str("session_id", ev.SessionID()).
			Str("event_id", ev.ID()).
			Msg("Pause request not applied")
		d.Held = true
		return "pause not applied: " + err.Error()
	}
	d.Paused = true
	e.markPaused(ev)
	return "session paused"
}

func (e *Engine) markPaused(ev *models.SecurityEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.sessionState(ev.SessionID())
	if ev.Sequence() > st.pausedAtSeq {
		st.pausedAtSeq = ev.Sequence()
	}
}

// accumulate counts ev and flags the session once the limit is exceeded.
func (e *Engine) accumulate(ctx context.Context, ev *models.SecurityEvent, snap *models.ExamSession, d *Decision) bool {
	if !ev.Severity().AtLeast(e.cfg.AccumulationMinSeverity) {
		return false
	}
	limit := snap.Config.AccumulationLimitOr(e.cfg.AccumulationLimit)

	e.mu.Lock()
	st := e.sessionState(ev.SessionID())
	st.counted++
	trip := st.counted > limit && !st.accumFlagged && !snap.HasFlag(ReasonAccumulation)
	if trip {
		st.accumFlagged = true
	}
	count := st.counted
	e.mu.Unlock()

	if !trip {
		return false
	}
	if _, err := e.sessions.Flag(ctx, ev.SessionID(), ReasonAccumulation, ActorEscalation); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("session_id", ev.SessionID()).Msg("Accumulation flag failed")
		e.mu.Lock()
		e.sessionState(ev.SessionID()).accumFlagged = false
		e.mu.Unlock()
		return false
	}
	d.Flagged = true
	d.AccumulationFlagged = true
	e.notify(e.notification(AudienceDashboard, KindSessionFlagged, ev,
		fmt.Sprintf("Session flagged: %d violations at or above %s (limit %d)", count, e.cfg.AccumulationMinSeverity, limit)))
	return true
}

func (e *Engine) notification(aud Audience, kind string, ev *models.SecurityEvent, msg string) Notification {
	return Notification{
		Audience:  aud,
		Kind:      kind,
		SessionID: ev.SessionID(),
		EventID:   ev.ID(),
		EventType: ev.Type(),
		Severity:  ev.Severity(),
		Message:   msg,
		Event:     ev,
		Timestamp: time.Now().UTC(),
	}
}

// notify fans n out to every enabled notifier in the background.
func (e *Engine) notify(n Notification) {
	e.mu.Lock()
	notifiers := make([]Notifier, 0, len(e.notifiers))
	for _, nt := range e.notifiers {
		if nt.Enabled() {
			notifiers = append(notifiers, nt)
		}
	}
	e.mu.Unlock()

	for _, nt := range notifiers {
		e.wg.Add(1)
		go func(nt Notifier) {
			defer e.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
			defer cancel()
			if err := nt.Send(ctx, n); err != nil {
				metrics.NotificationFailures.WithLabelValues(nt.Name()).Inc()
				logging.Error().Err(err).
					Str("notifier", nt.Name()).
					Str("session_id", n.SessionID).
					Str("event_id", n.EventID).
					Str("kind", n.Kind).
					Msg("Failed to deliver notification")
			}
		}(nt)
	}
}

// Wait blocks until in-flight notifications finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Forget drops per-session accumulation and ordering state. Handled event
// ids stay in the dedup set.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.state, sessionID)
}

func flagReason(ev *models.SecurityEvent) string {
	return string(ev.Severity()) + ":" + string(ev.Type())
}

func supervisorMessage(ev *models.SecurityEvent, snap *models.ExamSession) string {
	who := snap.Participant.DisplayName
	if who == "" {
		who = "participant"
	}
	return fmt.Sprintf("%s: %s in session %s (%s)", strings.ToUpper(string(ev.Severity())), ev.Description(), snap.ID, who)
}

func participantMessage(ev *models.SecurityEvent) string {
	switch ev.Type().Class() {
	case models.ClassFocus:
		return "Please stay on the exam page. " + ev.Type().Description() + " was recorded."
	case models.ClassPresence:
		return "Please check your camera and microphone. " + ev.Type().Description() + " was recorded."
	default:
		return ev.Type().Description() + " was recorded."
	}
}

// seenSet is a bounded FIFO set of handled event ids.
type seenSet struct {
	ids   map[string]bool // value: duplicate already logged
	order []string
	next  int
	full  bool
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		ids:   make(map[string]bool),
		order: make([]string, capacity),
	}
}

// add inserts id. It returns whether id was new and, if not, whether its
// duplicate was already logged.
func (s *seenSet) add(id string) (first, logged bool) {
	if l, ok := s.ids[id]; ok {
		return false, l
	}
	if s.full {
		delete(s.ids, s.order[s.next])
	}
	s.order[s.next] = id
	s.next++
	if s.next == len(s.order) {
		s.next = 0
		s.full = true
	}
	s.ids[id] = false
	return true, false
}

func (s *seenSet) setLogged(id string) {
	if _, ok := s.ids[id]; ok {
		s.ids[id] = true
	}
}

// remove forgets id. The ring slot is reused lazily.
func (s *seenSet) remove(id string) {
	delete(s.ids, id)
}
