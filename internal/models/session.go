// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// LifecycleState is a node of the exam-session state machine.
type LifecycleState string

const (
	StateNotStarted      LifecycleState = "not_started"
	StateProctoringSetup LifecycleState = "proctoring_setup"
	StateProctoringCheck LifecycleState = "proctoring_check"
	StateInProgress      LifecycleState = "in_progress"
	StatePaused          LifecycleState = "paused"
	StateSubmitted       LifecycleState = "submitted"
	StateEvaluated       LifecycleState = "evaluated"
)

// Terminal reports whether no further transitions are possible.
func (s LifecycleState) Terminal() bool {
	return s == StateEvaluated
}

// Active reports whether the participant is sitting the exam (in progress or paused).
func (s LifecycleState) Active() bool {
	return s == StateInProgress || s == StatePaused
}

// Participant identifies the person sitting the exam.
type Participant struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	// Anonymous participants are public test-takers without an account.
	Anonymous bool `json:"anonymous"`
}

// Progress tracks question navigation.
type Progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
	Current  int `json:"current"`
}

// ExamSession is one participant attempt. Only the lifecycle controller
// mutates it; everyone else works on Clone copies.
type ExamSession struct {
	ID             string           `json:"id"`
	AssessmentID   string           `json:"assessment_id"`
	Participant    Participant      `json:"participant"`
	State          LifecycleState   `json:"state"`
	Config         ProctoringConfig `json:"config"`
	Progress       Progress         `json:"progress"`
	Violations     []*SecurityEvent `json:"violations"`
	IntegrityScore int              `json:"integrity_score"`
	Flagged        bool             `json:"flagged"`
	FlagReasons    []string         `json:"flag_reasons,omitempty"`
	PauseReason    string           `json:"pause_reason,omitempty"`
	Score          *float64         `json:"score,omitempty"`
	Telemetry      Telemetry        `json:"telemetry"`
	StartedAt      time.Time        `json:"started_at,omitempty"`
	Deadline       time.Time        `json:"deadline,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	// MonitoringStopped is set once monitoring has been cancelled. No
	// escalation- or detector-originated transition is accepted afterwards.
	MonitoringStopped bool `json:"monitoring_stopped"`
	// Version increases with every controller mutation.
	Version uint64 `json:"version"`
}

// TimeRemaining returns the time left before the deadline, zero if expired,
// or -1 if the assessment is untimed or has not started.
func (s *ExamSession) TimeRemaining(now time.Time) time.Duration {
	if s.Deadline.IsZero() {
		return -1
	}
	if rem := s.Deadline.Sub(now); rem > 0 {
		return rem
	}
	return 0
}

// Public reports whether the session belongs to an anonymous test-taker.
func (s *ExamSession) Public() bool {
	return s.Participant.Anonymous
}

// HasFlag reports whether reason was already recorded.
func (s *ExamSession) HasFlag(reason string) bool {
	for _, r := range s.FlagReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// Clone returns a copy safe to hand to readers. Events are shared; they are
// immutable apart from their one-time resolution, which is synchronized.
func (s *ExamSession) Clone() *ExamSession {
	c := *s
	c.Config = s.Config.Clone()
	c.Violations = append([]*SecurityEvent(nil), s.Violations...)
	c.FlagReasons = append([]string(nil), s.FlagReasons...)
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	return &c
}

// sessionRecord is the persisted form; events are stored as raw JSON so
// their resolution survives a reload.
type sessionRecord struct {
	ExamSession
	Violations []json.RawMessage `json:"violations"`
}

// MarshalSession encodes s for the store.
func MarshalSession(s *ExamSession) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSession decodes a stored session, rebuilding its events.
func UnmarshalSession(data []byte) (*ExamSession, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	s := rec.ExamSession
	s.Violations = make([]*SecurityEvent, 0, len(rec.Violations))
	for _, raw := range rec.Violations {
		e, err := UnmarshalSecurityEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
		s.Violations = append(s.Violations, e)
	}
	return &s, nil
}
