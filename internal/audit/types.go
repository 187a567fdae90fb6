// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	EventTypeSessionTransition  EventType = "session.transition"
	EventTypeTransitionRejected EventType = "session.transition_rejected"
	EventTypeSessionFlagged     EventType = "session.flagged"
	EventTypeMonitoringStopped  EventType = "session.monitoring_stopped"
	EventTypePermissionDenied   EventType = "proctoring.permission_denied"

	EventTypeAutoResponse      EventType = "escalation.auto_response"
	EventTypeDuplicateResponse EventType = "escalation.duplicate"

	EventTypeModeChanged EventType = "monitoring.mode_changed"

	EventTypeAuthSuccess   EventType = "auth.success"
	EventTypeAuthFailure   EventType = "auth.failure"
	EventTypeAuthzDenied   EventType = "authz.denied"
	EventTypeConfigChanged EventType = "config.changed"
	EventTypeAdminAction   EventType = "admin.action"
)

// Severity indicates how important an audit event is. It is independent of
// security event severity; an automatic pause for a critical violation is
// audited as a warning-level administrative fact.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityDebug:
		return 0
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	// Actor performed the action: a supervisor, the escalation engine, the
	// coordinator.
	Actor Actor `json:"actor"`

	// Target is the affected resource, usually an exam session.
	Target *Target `json:"target,omitempty"`

	Source Source `json:"source"`

	Action      string          `json:"action"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Actor identifies who performed an action.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "user", "system"
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// Target identifies the affected resource.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "session", "assessment", "config"
	Name string `json:"name,omitempty"`
}

// Source identifies where a request came from.
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Count(ctx context.Context, filter QueryFilter) (int64, error)
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter selects audit events. Empty fields match everything.
type QueryFilter struct {
	Types      []EventType `json:"types,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	Outcomes   []Outcome   `json:"outcomes,omitempty"`

	ActorID    string `json:"actor_id,omitempty"`
	ActorType  string `json:"actor_type,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	SearchText    string `json:"search_text,omitempty"`

	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	OrderBy   string `json:"order_by,omitempty"`
	OrderDesc bool   `json:"order_desc,omitempty"`
}

// DefaultQueryFilter returns the newest 100 events.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{
		Limit:     100,
		OrderBy:   "timestamp",
		OrderDesc: true,
	}
}

// Stats summarizes a store's contents.
type Stats struct {
	TotalEvents      int64            `json:"total_events"`
	EventsByType     map[string]int64 `json:"events_by_type"`
	EventsBySeverity map[string]int64 `json:"events_by_severity"`
	EventsByOutcome  map[string]int64 `json:"events_by_outcome"`
	OldestEvent      *time.Time       `json:"oldest_event,omitempty"`
	NewestEvent      *time.Time       `json:"newest_event,omitempty"`
}
