// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
	"github.com/tomtom215/examwatch/internal/models"
	"github.com/tomtom215/examwatch/internal/store"
)

// CadenceSource reports the current telemetry poll interval. The adapter
// re-reads it for every telemetry update.
type CadenceSource interface {
	PollInterval() time.Duration
}

// PushMessage is the envelope sent by participants on the push channel.
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Push message types.
const (
	PushSignal    = "signal"
	PushTelemetry = "telemetry"
)

type telemetryState struct {
	lastPublished time.Time
	pending       *models.Telemetry
	pendingOrigin Origin
}

// Adapter normalizes change-feed and push-channel input into Events and
// publishes them on the bus. It also owns per-session bus subscriptions so
// they can be closed when monitoring stops.
type Adapter struct {
	bus     *Bus
	cadence CadenceSource
	now     func() time.Time

	telMu     sync.Mutex
	telemetry map[string]*telemetryState

	subMu sync.Mutex
	subs  map[string][]context.CancelFunc
}

// NewAdapter creates an adapter publishing to bus. cadence may be nil, in
// which case telemetry is never coalesced.
func NewAdapter(bus *Bus, cadence CadenceSource) *Adapter {
	return &Adapter{
		bus:       bus,
		cadence:   cadence,
		now:       time.Now,
		telemetry: make(map[string]*telemetryState),
		subs:      make(map[string][]context.CancelFunc),
	}
}

// IngestChange handles one change-feed record. Deletes and tables other
// than signal/ and telemetry/ are ignored.
func (a *Adapter) IngestChange(ctx context.Context, c store.Change) error {
	if c.Deleted || c.EntityID == "" {
		return nil
	}
	switch c.Table {
	case store.PrefixSignal:
		return a.IngestSignal(ctx, OriginChangeFeed, c.EntityID, c.Value)
	case store.PrefixTelemetry:
		return a.IngestTelemetry(ctx, OriginChangeFeed, c.EntityID, c.Value)
	}
	return nil
}

// IngestPush handles one push-channel message for sessionID.
func (a *Adapter) IngestPush(ctx context.Context, sessionID string, raw []byte) error {
	var pm PushMessage
	if err := json.Unmarshal(raw, &pm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch pm.Type {
	case PushSignal:
		return a.IngestSignal(ctx, OriginPush, sessionID, pm.Data)
	case PushTelemetry:
		return a.IngestTelemetry(ctx, OriginPush, sessionID, pm.Data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, pm.Type)
	}
}

// IngestSignal decodes and publishes a detector signal. Signals are never
// coalesced here; debouncing belongs to the classifier.
func (a *Adapter) IngestSignal(ctx context.Context, origin Origin, sessionID string, raw []byte) error {
	var sp SignalPayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		return fmt.Errorf("%w: signal: %v", ErrInvalidEvent, err)
	}
	return a.PublishSignal(ctx, origin, sessionID, sp)
}

// PublishSignal publishes an already decoded signal.
func (a *Adapter) PublishSignal(ctx context.Context, origin Origin, sessionID string, sp SignalPayload) error {
	if sp.Detector == "" {
		return fmt.Errorf("%w: signal without detector", ErrInvalidEvent)
	}
	if sp.Timestamp.IsZero() {
		sp.Timestamp = a.now().UTC()
	}
	e, err := NewEvent(KindSignal, origin, sessionID, sp)
	if err != nil {
		return err
	}
	metrics.RecordSignal(sp.Detector, string(origin))
	return a.bus.Publish(ctx, e)
}

// IngestTelemetry merges a telemetry update and publishes it unless the
// session already published within the current poll interval. Coalesced
// updates are carried by the next publish or by FlushTelemetry.
func (a *Adapter) IngestTelemetry(ctx context.Context, origin Origin, sessionID string, raw []byte) error {
	var update models.Telemetry
	if err := json.Unmarshal(raw, &update); err != nil {
		return fmt.Errorf("%w: telemetry: %v", ErrInvalidEvent, err)
	}

	now := a.now()
	interval := time.Duration(0)
	if a.cadence != nil {
		interval = a.cadence.PollInterval()
	}

	a.telMu.Lock()
	st, ok := a.telemetry[sessionID]
	if !ok {
		st = &telemetryState{}
		a.telemetry[sessionID] = st
	}
	merged := update
	if st.pending != nil {
		merged = st.pending.Merge(update)
	}
	if interval > 0 && !st.lastPublished.IsZero() && now.Sub(st.lastPublished) < interval {
		st.pending = &merged
		st.pendingOrigin = origin
		a.telMu.Unlock()
		metrics.BusMessages.WithLabelValues(string(KindTelemetry), "coalesced").Inc()
		return nil
	}
	st.pending = nil
	st.lastPublished = now
	a.telMu.Unlock()

	return a.publishTelemetry(ctx, origin, sessionID, merged, now)
}

// FlushTelemetry publishes coalesced updates whose poll interval has
// elapsed, so a client that goes quiet still has its last reading
// delivered. It returns the number of updates published.
func (a *Adapter) FlushTelemetry(ctx context.Context) int {
	now := a.now()
	interval := time.Duration(0)
	if a.cadence != nil {
		interval = a.cadence.PollInterval()
	}

	type flush struct {
		sessionID string
		origin    Origin
		t         models.Telemetry
	}
	var due []flush
	a.telMu.Lock()
	for sid, st := range a.telemetry {
		if st.pending == nil || now.Sub(st.lastPublished) < interval {
			continue
		}
		due = append(due, flush{sessionID: sid, origin: st.pendingOrigin, t: *st.pending})
		st.pending = nil
		st.lastPublished = now
	}
	a.telMu.Unlock()

	published := 0
	for _, f := range due {
		if err := a.publishTelemetry(ctx, f.origin, f.sessionID, f.t, now); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", f.sessionID).Msg("Failed to flush telemetry")
			continue
		}
		published++
	}
	return published
}

func (a *Adapter) publishTelemetry(ctx context.Context, origin Origin, sessionID string, t models.Telemetry, now time.Time) error {
	t.UpdatedAt = now.UTC()
	e, err := NewEvent(KindTelemetry, origin, sessionID, t)
	if err != nil {
		return err
	}
	return a.bus.Publish(ctx, e)
}

// Emit publishes an internally produced event (transitions, security events,
// mode changes).
func (a *Adapter) Emit(ctx context.Context, kind Kind, sessionID string, payload interface{}) error {
	e, err := NewEvent(kind, OriginInternal, sessionID, payload)
	if err != nil {
		return err
	}
	return a.bus.Publish(ctx, e)
}

// SubscribeSession delivers events of the given kinds for one session to fn
// until the subscription is cancelled by ctx or UnsubscribeSession.
func (a *Adapter) SubscribeSession(ctx context.Context, sessionID string, kinds []Kind, fn func(*Event)) error {
	if sessionID == "" {
		return errors.New("subscribe: session id is required")
	}
	subCtx, cancel := context.WithCancel(ctx)

	for _, k := range kinds {
		ch, err := a.bus.Subscribe(subCtx, k.Topic())
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe %s for %s: %w", k, sessionID, err)
		}
		go func(ch <-chan *message.Message) {
			for msg := range ch {
				msg.Ack()
				if msg.Metadata.Get(MetadataSessionID) != sessionID {
					continue
				}
				e, err := FromMessage(msg)
				if err != nil {
					logging.Warn().Err(err).Str("session_id", sessionID).Msg("Skipping undecodable session event")
					continue
				}
				fn(e)
			}
		}(ch)
	}

	a.subMu.Lock()
	a.subs[sessionID] = append(a.subs[sessionID], cancel)
	a.subMu.Unlock()
	return nil
}

// UnsubscribeSession cancels every subscription for sessionID and drops its
// telemetry state. It returns the number of subscriptions closed; a second
// call returns 0.
func (a *Adapter) UnsubscribeSession(sessionID string) int {
	a.subMu.Lock()
	cancels := a.subs[sessionID]
	delete(a.subs, sessionID)
	a.subMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	a.telMu.Lock()
	delete(a.telemetry, sessionID)
	a.telMu.Unlock()

	return len(cancels)
}

// Subscriptions returns the number of open subscriptions for sessionID.
func (a *Adapter) Subscriptions(sessionID string) int {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	return len(a.subs[sessionID])
}
