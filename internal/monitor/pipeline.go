// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/examwatch/internal/detection"
	"github.com/tomtom215/examwatch/internal/escalation"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/lifecycle"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/models"
	"github.com/tomtom215/examwatch/internal/registry"
	"github.com/tomtom215/examwatch/internal/websocket"
)

// Handler names registered on the event router.
const (
	HandlerSignals   = "monitor-signals"
	HandlerTelemetry = "monitor-telemetry"
)

// Reasons passed to StopMonitoring by the pipeline itself.
const (
	ReasonSubmitted = "submitted"
	ReasonEvaluated = "evaluated"
)

// Notifier is the part of the websocket hub the pipeline talks to.
type Notifier interface {
	BroadcastJSON(messageType string, data interface{})
	SendToSession(sessionID, messageType string, data interface{}) bool
	CloseSession(sessionID, reason string) int
}

// Notify is the subset of the coordinator the pipeline pokes on registry
// changes.
type Notify interface {
	Notify()
}

// PipelineDeps are the components the pipeline connects.
type PipelineDeps struct {
	Controller  *lifecycle.Controller
	Sequencer   *models.Sequencer
	Classifier  *detection.Classifier
	Escalation  *escalation.Engine
	Registry    *registry.Registry
	Aggregator  *registry.Aggregator
	Adapter     *eventprocessor.Adapter
	Hub         Notifier
	Coordinator Notify
}

// StateMessage is the session_state payload.
type StateMessage struct {
	SessionID string                `json:"session_id"`
	From      models.LifecycleState `json:"from"`
	To        models.LifecycleState `json:"to"`
	Trigger   string                `json:"trigger"`
	Reason    string                `json:"reason,omitempty"`
	By        string                `json:"by,omitempty"`
	Version   uint64                `json:"version"`
}

// Pipeline carries signals through classification, recording and
// escalation, and keeps the registry, aggregator and push channel in step
// with the lifecycle controller.
type Pipeline struct {
	deps PipelineDeps
	now  func() time.Time

	locks *keyedMutex

	stopMu  sync.Mutex
	stopped map[string]*sync.Once
}

// NewPipeline creates a pipeline. Hub and Coordinator may be nil; without a
// Sequencer the pipeline numbers events on its own.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Sequencer == nil {
		deps.Sequencer = models.NewSequencer()
	}
	return &Pipeline{
		deps:    deps,
		now:     time.Now,
		locks:   newKeyedMutex(),
		stopped: make(map[string]*sync.Once),
	}
}

// Register subscribes the signal and telemetry handlers on r.
func (p *Pipeline) Register(r *eventprocessor.Router) {
	r.Handle(HandlerSignals, eventprocessor.TopicSignals, p.HandleSignal)
	r.Handle(HandlerTelemetry, eventprocessor.TopicTelemetry, p.HandleTelemetry)
}

// Listen subscribes the pipeline to the controller's committed changes.
func (p *Pipeline) Listen() {
	p.deps.Controller.Subscribe(p.onChange)
}

// HandleSignal classifies one bus signal and processes the resulting event.
// Signals for sessions that are not monitored and unknown detectors are
// dropped; only store failures are returned for retry.
func (p *Pipeline) HandleSignal(ctx context.Context, e *eventprocessor.Event) error {
	sp, err := eventprocessor.DecodePayload[eventprocessor.SignalPayload](e)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", e.ID).Msg("Dropping undecodable signal")
		return nil
	}
	sig := detection.Signal{
		SessionID: e.SessionID,
		Detector:  models.DetectorType(sp.Detector),
		Reading: detection.Reading{
			Active:     sp.Active,
			Score:      sp.Score,
			Confidence: sp.Confidence,
			Count:      sp.Count,
		},
		Timestamp: sp.Timestamp,
		Origin:    string(e.Origin),
	}

	unlock := p.locks.lock(sig.SessionID)
	defer unlock()

	ev, outcome, err := p.deps.Classifier.Classify(ctx, sig)
	if err != nil {
		if errors.Is(err, detection.ErrUnknownSession) || errors.Is(err, detection.ErrUnknownDetector) {
			logging.Ctx(ctx).Debug().
				Err(err).
				Str("session_id", sig.SessionID).
				Str("detector", sp.Detector).
				Msg("Signal ignored")
			return nil
		}
		return err
	}
	if outcome != detection.OutcomeEmitted {
		return nil
	}
	return p.process(ctx, ev)
}

// HandleTelemetry folds a telemetry update into the session view.
func (p *Pipeline) HandleTelemetry(ctx context.Context, e *eventprocessor.Event) error {
	t, err := eventprocessor.DecodePayload[models.Telemetry](e)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", e.ID).Msg("Dropping undecodable telemetry")
		return nil
	}
	if err := p.deps.Aggregator.Apply(ctx, registry.Update{Kind: registry.UpdateTelemetry, SessionID: e.SessionID, Telemetry: &t}); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("session_id", e.SessionID).Msg("Telemetry not applied")
	}
	return nil
}

// ReportViolation numbers, records and escalates a security event raised
// outside the classifier, such as a refused device permission. The sequence
// is taken under the session lock so it orders with concurrent signals.
func (p *Pipeline) ReportViolation(ctx context.Context, params models.SecurityEventParams) (*models.SecurityEvent, error) {
	unlock := p.locks.lock(params.SessionID)
	defer unlock()
	ev, err := p.sequenced(params)
	if err != nil {
		return nil, err
	}
	return ev, p.process(ctx, ev)
}

// SweepTimeouts raises detector-timeout events and processes each one.
func (p *Pipeline) SweepTimeouts(ctx context.Context, now time.Time) int {
	timeouts := p.deps.Classifier.SweepTimeouts(now)
	for _, params := range timeouts {
		unlock := p.locks.lock(params.SessionID)
		ev, err := p.sequenced(params)
		if err == nil {
			err = p.process(ctx, ev)
		}
		if err != nil {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("session_id", params.SessionID).
				Str("detector", string(params.Detector)).
				Msg("Detector timeout not processed")
		}
		unlock()
	}
	return len(timeouts)
}

// sequenced builds the event with the session's next sequence number. The
// caller holds the session lock.
func (p *Pipeline) sequenced(params models.SecurityEventParams) (*models.SecurityEvent, error) {
	params.Sequence = p.deps.Sequencer.Next(params.SessionID)
	ev, err := models.NewSecurityEvent(params)
	if err != nil {
		return nil, fmt.Errorf("build %s event: %w", params.Type, err)
	}
	return ev, nil
}

// FlushTelemetry publishes telemetry the adapter held back and that is now
// due.
func (p *Pipeline) FlushTelemetry(ctx context.Context) int {
	if p.deps.Adapter == nil {
		return 0
	}
	return p.deps.Adapter.FlushTelemetry(ctx)
}

// process records ev on the session, runs the escalation policy, persists
// the resolution and only then publishes the event. The caller holds the
// session lock.
func (p *Pipeline) process(ctx context.Context, ev *models.SecurityEvent) error {
	if err := p.deps.Controller.RecordViolation(ctx, ev); err != nil {
		if errors.Is(err, lifecycle.ErrSessionCancelled) || errors.Is(err, lifecycle.ErrSessionNotFound) {
			logging.Ctx(ctx).Debug().
				Err(err).
				Str("session_id", ev.SessionID()).
				Str("event_id", ev.ID()).
				Msg("Event for unmonitored session dropped")
			return nil
		}
		return fmt.Errorf("record event %s: %w", ev.ID(), err)
	}

	if _, err := p.deps.Escalation.Handle(ctx, ev); err != nil {
		if errors.Is(err, escalation.ErrDuplicateResponse) {
			return nil
		}
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("session_id", ev.SessionID()).
			Str("event_id", ev.ID()).
			Msg("Escalation failed")
	}
	if ev.Resolved() {
		if err := p.deps.Controller.RecordResolution(ctx, ev); err != nil && !errors.Is(err, lifecycle.ErrSessionNotFound) {
			return fmt.Errorf("persist resolution of %s: %w", ev.ID(), err)
		}
	}

	if p.deps.Adapter != nil {
		if err := p.deps.Adapter.Emit(ctx, eventprocessor.KindSecurityEvent, ev.SessionID(), ev); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("event_id", ev.ID()).Msg("Failed to publish security event")
		}
	}
	return nil
}

// onChange is the controller listener. It may run inside process, so it
// never takes the session lock.
func (p *Pipeline) onChange(ctx context.Context, c lifecycle.Change) {
	s := c.Session
	switch c.Kind {
	case lifecycle.ChangeCreated:
		p.startMonitoring(ctx, s)

	case lifecycle.ChangeTransition:
		p.applySession(ctx, s)
		p.broadcast(websocket.MessageTypeSessionState, StateMessage{
			SessionID: s.ID,
			From:      c.From,
			To:        c.To,
			Trigger:   string(c.Trigger),
			Reason:    c.Reason,
			By:        c.By,
			Version:   s.Version,
		})
		switch c.To {
		case models.StateSubmitted:
			p.stopAfterTransition(ctx, s.ID, ReasonSubmitted, c.By)
		case models.StateEvaluated:
			p.stopAfterTransition(ctx, s.ID, ReasonEvaluated, c.By)
			p.deps.Aggregator.Remove(s.ID)
			p.forgetStop(s.ID)
		}

	case lifecycle.ChangeFlagged:
		p.applySession(ctx, s)
		// Escalation announces its own flags through the notifiers.
		if c.By != lifecycle.ActorEscalation {
			p.broadcast(websocket.MessageTypeSessionFlagged, map[string]interface{}{
				"session_id": s.ID,
				"reason":     c.Reason,
				"by":         c.By,
			})
		}

	case lifecycle.ChangeViolation:
		if c.Event != nil {
			if err := p.deps.Aggregator.Apply(ctx, registry.Update{Kind: registry.UpdateEvent, SessionID: s.ID, Event: c.Event}); err != nil {
				logging.Ctx(ctx).Debug().Err(err).Str("session_id", s.ID).Msg("Event not applied")
			}
		}
		p.applySession(ctx, s)

	case lifecycle.ChangeCancelled:
		p.applySession(ctx, s)
	}
}

func (p *Pipeline) stopAfterTransition(ctx context.Context, id, reason, by string) {
	if _, err := p.StopMonitoring(ctx, id, reason, by); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("Stop monitoring failed")
	}
}

func (p *Pipeline) applySession(ctx context.Context, s *models.ExamSession) {
	if err := p.deps.Aggregator.Apply(ctx, registry.Update{Kind: registry.UpdateSession, SessionID: s.ID, Session: s}); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("session_id", s.ID).Msg("Session not applied")
	}
}

func (p *Pipeline) broadcast(messageType string, data interface{}) {
	if p.deps.Hub != nil {
		p.deps.Hub.BroadcastJSON(messageType, data)
	}
}

// startMonitoring registers a new or restored session with every monitoring
// component.
func (p *Pipeline) startMonitoring(ctx context.Context, s *models.ExamSession) {
	p.deps.Registry.Register(registry.Entry{
		SessionID:    s.ID,
		Role:         registry.RoleExamTaker,
		AssessmentID: s.AssessmentID,
		Public:       s.Public(),
		RegisteredAt: p.now().UTC(),
	})
	if s.Config.ProctoringRequired() {
		p.deps.Classifier.Track(s.ID, s.Config)
	}
	p.applySession(ctx, s)

	if p.deps.Adapter != nil {
		sid := s.ID
		err := p.deps.Adapter.SubscribeSession(context.Background(), sid, []eventprocessor.Kind{eventprocessor.KindTransition}, func(e *eventprocessor.Event) {
			tp, err := eventprocessor.DecodePayload[eventprocessor.TransitionPayload](e)
			if err != nil {
				return
			}
			if p.deps.Hub != nil {
				p.deps.Hub.SendToSession(sid, websocket.MessageTypeSessionState, tp)
			}
		})
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", sid).Msg("Session subscription failed")
		}
	}
}

// StopMonitoring ends monitoring for a session: the controller refuses
// further monitoring-originated changes, the session leaves the registry,
// classifier and escalation state is dropped, bus subscriptions are closed
// and participant connections are told to stop. It reports whether this
// call did the work; a second call returns false, nil.
func (p *Pipeline) StopMonitoring(ctx context.Context, sessionID, reason, by string) (bool, error) {
	p.stopMu.Lock()
	once, ok := p.stopped[sessionID]
	if !ok {
		once = &sync.Once{}
		p.stopped[sessionID] = once
	}
	p.stopMu.Unlock()

	ran := false
	var err error
	once.Do(func() {
		ran = true
		err = p.stop(ctx, sessionID, reason, by)
	})
	return ran, err
}

func (p *Pipeline) stop(ctx context.Context, sessionID, reason, by string) error {
	var errs []error
	if _, err := p.deps.Controller.Cancel(ctx, sessionID, reason, by); err != nil && !errors.Is(err, lifecycle.ErrSessionNotFound) {
		errs = append(errs, err)
	}
	removed := p.deps.Registry.Unregister(sessionID)
	p.deps.Classifier.Forget(sessionID)
	p.deps.Escalation.Forget(sessionID)
	subs := 0
	if p.deps.Adapter != nil {
		subs = p.deps.Adapter.UnsubscribeSession(sessionID)
	}
	conns := 0
	if p.deps.Hub != nil {
		conns = p.deps.Hub.CloseSession(sessionID, reason)
	}
	if p.deps.Coordinator != nil {
		p.deps.Coordinator.Notify()
	}

	logging.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("reason", reason).
		Str("by", by).
		Bool("unregistered", removed).
		Int("subscriptions_closed", subs).
		Int("connections_closed", conns).
		Msg("Monitoring stopped")
	return errors.Join(errs...)
}

// forgetStop drops the stop record of an archived session so the id can be
// monitored again.
func (p *Pipeline) forgetStop(sessionID string) {
	p.stopMu.Lock()
	delete(p.stopped, sessionID)
	p.stopMu.Unlock()
}

// Stopped reports whether StopMonitoring has run for sessionID.
func (p *Pipeline) Stopped(sessionID string) bool {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()
	_, ok := p.stopped[sessionID]
	return ok
}
