// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind identifies what an Event carries.
type Kind string

const (
	KindSignal        Kind = "signal"
	KindTelemetry     Kind = "telemetry"
	KindTransition    Kind = "lifecycle.transition"
	KindSecurityEvent Kind = "security_event"
	KindModeChange    Kind = "monitoring.mode"
)

// Topics, one per Kind.
const (
	TopicSignals        = "proctoring.signals"
	TopicTelemetry      = "proctoring.telemetry"
	TopicTransitions    = "lifecycle.transition"
	TopicSecurityEvents = "proctoring.events"
	TopicMode           = "monitoring.mode"
)

// Topic returns the bus topic for k.
func (k Kind) Topic() string {
	switch k {
	case KindSignal:
		return TopicSignals
	case KindTelemetry:
		return TopicTelemetry
	case KindTransition:
		return TopicTransitions
	case KindSecurityEvent:
		return TopicSecurityEvents
	case KindModeChange:
		return TopicMode
	}
	return ""
}

func (k Kind) sessionScoped() bool {
	return k != KindModeChange
}

// Origin records where an event entered the system.
type Origin string

const (
	OriginChangeFeed Origin = "change_feed"
	OriginPush       Origin = "push"
	OriginAPI        Origin = "api"
	OriginInternal   Origin = "internal"
)

// Event is the normalized bus representation shared by every origin.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Origin    Origin          `json:"origin"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent encodes payload into a new Event.
func NewEvent(kind Kind, origin Origin, sessionID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	e := &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Origin:    origin,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the envelope fields.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind.Topic() == "" {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Kind.sessionScoped() && e.SessionID == "" {
		return fmt.Errorf("%w: %s event without session id", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// DecodePayload unmarshals the event payload into T.
func DecodePayload[T any](e *Event) (T, error) {
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return v, nil
}

// SignalPayload is a raw detector reading. Active is true when the detector
// reports its healthy condition (camera streaming, tab visible, one face).
type SignalPayload struct {
	Detector   string    `json:"detector"`
	Active     bool      `json:"active"`
	Score      float64   `json:"score,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Count      int       `json:"count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TransitionPayload describes an applied lifecycle transition.
type TransitionPayload struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Trigger string    `json:"trigger"`
	Reason  string    `json:"reason,omitempty"`
	Version uint64    `json:"version"`
	At      time.Time `json:"at"`
}

// ModePayload describes a monitoring mode change.
type ModePayload struct {
	Mode    string    `json:"mode"`
	Version uint64    `json:"version"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}
