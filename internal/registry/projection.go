// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package registry

import (
	"fmt"
	"time"

	"github.com/tomtom215/examwatch/internal/coordinator"
	"github.com/tomtom215/examwatch/internal/models"
)

// Detail is the projection a consumer asked for.
type Detail string

const (
	DetailBasic    Detail = "basic"
	DetailEnhanced Detail = "enhanced"
)

// ParseDetail parses a detail query value; empty means basic.
func ParseDetail(s string) (Detail, error) {
	switch Detail(s) {
	case "", DetailBasic:
		return DetailBasic, nil
	case DetailEnhanced:
		return DetailEnhanced, nil
	}
	return "", fmt.Errorf("unknown detail level %q", s)
}

// EventSummary is the dashboard form of a security event.
type EventSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
	Resolved  bool      `json:"resolved"`
	Response  string    `json:"response,omitempty"`
}

// SummarizeEvent converts e for dashboards.
func SummarizeEvent(e *models.SecurityEvent) *EventSummary {
	if e == nil {
		return nil
	}
	return &EventSummary{
		ID:        e.ID(),
		Type:      string(e.Type()),
		Severity:  string(e.Severity()),
		Timestamp: e.Timestamp(),
		Sequence:  e.Sequence(),
		Resolved:  e.Resolved(),
		Response:  e.Response(),
	}
}

// Summary is what dashboards receive for one session. Fields absent from a
// projection are omitted.
type Summary struct {
	SessionID            string                  `json:"session_id"`
	State                models.LifecycleState   `json:"state"`
	AssessmentID         string                  `json:"assessment_id,omitempty"`
	Participant          string                  `json:"participant,omitempty"`
	Public               bool                    `json:"public,omitempty"`
	IntegrityScore       *int                    `json:"integrity_score,omitempty"`
	Flagged              bool                    `json:"flagged,omitempty"`
	ViolationCount       int                     `json:"violation_count,omitempty"`
	TimeRemainingSeconds *int64                  `json:"time_remaining_seconds,omitempty"`
	FlagReasons          []string                `json:"flag_reasons,omitempty"`
	PauseReason          string                  `json:"pause_reason,omitempty"`
	Progress             *models.Progress        `json:"progress,omitempty"`
	SeverityCounts       map[models.Severity]int `json:"severity_counts,omitempty"`
	LastEvent            *EventSummary           `json:"last_event,omitempty"`
	Telemetry            *models.Telemetry       `json:"telemetry,omitempty"`
}

// ProjectIDs returns only the identity and state.
func ProjectIDs(v *View) Summary {
	return Summary{SessionID: v.SessionID, State: v.State}
}

// ProjectBasic returns the list-view fields.
func ProjectBasic(v *View, now time.Time) Summary {
	s := ProjectIDs(v)
	s.AssessmentID = v.AssessmentID
	s.Participant = v.Participant.DisplayName
	s.Public = v.Participant.Anonymous
	score := v.IntegrityScore
	s.IntegrityScore = &score
	s.Flagged = v.Flagged
	s.ViolationCount = len(v.Violations)
	if !v.Deadline.IsZero() {
		rem := int64(0)
		if d := v.Deadline.Sub(now); d > 0 {
			rem = int64(d / time.Second)
		}
		s.TimeRemainingSeconds = &rem
	}
	return s
}

// ProjectEnhanced adds flag details, progress, event breakdown and telemetry.
func ProjectEnhanced(v *View, now time.Time) Summary {
	s := ProjectBasic(v, now)
	s.FlagReasons = append([]string(nil), v.FlagReasons...)
	s.PauseReason = v.PauseReason
	p := v.Progress
	s.Progress = &p
	s.SeverityCounts = make(map[models.Severity]int, len(v.SeverityCounts))
	for k, n := range v.SeverityCounts {
		s.SeverityCounts[k] = n
	}
	s.LastEvent = SummarizeEvent(v.LastEvent())
	t := v.Telemetry
	s.Telemetry = &t
	return s
}

// Project picks the projection for detail under the current mode: minimal
// mode serves ids only, resource_safe mode drops telemetry.
func Project(v *View, detail Detail, mode coordinator.ModeState, now time.Time) Summary {
	switch mode.Profile().Summary {
	case coordinator.SummaryIDsOnly:
		return ProjectIDs(v)
	case coordinator.SummaryReduced:
		if detail != DetailEnhanced {
			return ProjectBasic(v, now)
		}
		s := ProjectEnhanced(v, now)
		s.Telemetry = nil
		return s
	}
	if detail == DetailEnhanced {
		return ProjectEnhanced(v, now)
	}
	return ProjectBasic(v, now)
}

// ProjectAll projects views, capped at the mode's per-pass session budget.
func ProjectAll(views []*View, detail Detail, mode coordinator.ModeState, now time.Time) []Summary {
	limit := mode.Profile().MaxSessionsPerPass
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	out := make([]Summary, 0, len(views))
	for _, v := range views {
		out = append(out, Project(v, detail, mode, now))
	}
	return out
}
