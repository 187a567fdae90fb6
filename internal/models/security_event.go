// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package models

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrAlreadyResolved is returned by Resolve on every call after the first.
var ErrAlreadyResolved = errors.New("security event already resolved")

// SecurityEvent is an immutable, classified record of a detected irregularity.
// Type, severity and timestamp never change after construction. The
// auto-handled flag and response text are written at most once, by Resolve.
type SecurityEvent struct {
	id          string
	sessionID   string
	eventType   EventType
	severity    Severity
	timestamp   time.Time
	description string
	evidence    map[string]interface{}
	detector    DetectorType
	sequence    uint64
	synthetic   bool

	mu          sync.RWMutex
	resolved    bool
	autoHandled bool
	response    string
}

// SecurityEventParams carries the fields of a new event.
type SecurityEventParams struct {
	ID          string
	SessionID   string
	Type        EventType
	Severity    Severity
	Timestamp   time.Time
	Description string
	Evidence    map[string]interface{}
	Detector    DetectorType
	Sequence    uint64
	// Synthetic marks events raised by the platform itself rather than a
	// detector (for example a denied camera permission).
	Synthetic bool
}

// NewSecurityEvent validates p and builds an event. A missing ID is generated,
// a missing description falls back to the type's default text.
func NewSecurityEvent(p SecurityEventParams) (*SecurityEvent, error) {
	if p.SessionID == "" {
		return nil, errors.New("security event requires a session id")
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("security event type %q is not in the taxonomy", p.Type)
	}
	if !p.Severity.Valid() {
		return nil, fmt.Errorf("security event severity %q is invalid", p.Severity)
	}
	if p.Timestamp.IsZero() {
		return nil, errors.New("security event requires a timestamp")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Description == "" {
		p.Description = p.Type.Description()
	}

	return &SecurityEvent{
		id:          p.ID,
		sessionID:   p.SessionID,
		eventType:   p.Type,
		severity:    p.Severity,
		timestamp:   p.Timestamp.UTC(),
		description: p.Description,
		evidence:    copyEvidence(p.Evidence),
		detector:    p.Detector,
		sequence:    p.Sequence,
		synthetic:   p.Synthetic,
	}, nil
}

func copyEvidence(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (e *SecurityEvent) ID() string             { return e.id }
func (e *SecurityEvent) SessionID() string      { return e.sessionID }
func (e *SecurityEvent) Type() EventType        { return e.eventType }
func (e *SecurityEvent) Severity() Severity     { return e.severity }
func (e *SecurityEvent) Timestamp() time.Time   { return e.timestamp }
func (e *SecurityEvent) Description() string    { return e.description }
func (e *SecurityEvent) Detector() DetectorType { return e.detector }
func (e *SecurityEvent) Sequence() uint64       { return e.sequence }
func (e *SecurityEvent) Synthetic() bool        { return e.synthetic }

// Evidence returns a copy of the structured evidence payload.
func (e *SecurityEvent) Evidence() map[string]interface{} {
	return copyEvidence(e.evidence)
}

// Resolve records the automatic response. Only the first call has effect.
func (e *SecurityEvent) Resolve(autoHandled bool, response string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return ErrAlreadyResolved
	}
	e.resolved = true
	e.autoHandled = autoHandled
	e.response = response
	return nil
}

// Resolved reports whether Resolve has been called.
func (e *SecurityEvent) Resolved() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolved
}

// AutoHandled reports whether the escalation engine remediated the event.
func (e *SecurityEvent) AutoHandled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.autoHandled
}

// Response returns the recorded response text, or "".
func (e *SecurityEvent) Response() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.response
}

// securityEventJSON is the wire representation.
type securityEventJSON struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
	Detector    DetectorType           `json:"detector,omitempty"`
	Sequence    uint64                 `json:"sequence"`
	Synthetic   bool                   `json:"synthetic,omitempty"`
	AutoHandled bool                   `json:"auto_handled"`
	Response    string                 `json:"response,omitempty"`
	Resolved    bool                   `json:"resolved"`
}

// MarshalJSON implements json.Marshaler.
func (e *SecurityEvent) MarshalJSON() ([]byte, error) {
	e.mu.RLock()
	w := securityEventJSON{
		ID:          e.id,
		SessionID:   e.sessionID,
		Type:        e.eventType,
		Severity:    e.severity,
		Timestamp:   e.timestamp,
		Description: e.description,
		Evidence:    e.evidence,
		Detector:    e.detector,
		Sequence:    e.sequence,
		Synthetic:   e.synthetic,
		AutoHandled: e.autoHandled,
		Response:    e.response,
		Resolved:    e.resolved,
	}
	e.mu.RUnlock()
	return json.Marshal(w)
}

// UnmarshalSecurityEvent rebuilds an event from its wire form, including any
// recorded resolution. Used when loading persisted violations.
func UnmarshalSecurityEvent(data []byte) (*SecurityEvent, error) {
	var w securityEventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode security event: %w", err)
	}
	e, err := NewSecurityEvent(SecurityEventParams{
		ID:          w.ID,
		SessionID:   w.SessionID,
		Type:        w.Type,
		Severity:    w.Severity,
		Timestamp:   w.Timestamp,
		Description: w.Description,
		Evidence:    w.Evidence,
		Detector:    w.Detector,
		Sequence:    w.Sequence,
		Synthetic:   w.Synthetic,
	})
	if err != nil {
		return nil, err
	}
	if w.Resolved {
		e.resolved = true
		e.autoHandled = w.AutoHandled
		e.response = w.Response
	}
	return e, nil
}
