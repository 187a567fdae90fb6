// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package escalation

import (
	"context"
	"time"

	"github.com/tomtom215/examwatch/internal/models"
)

// Audience selects who a notification is for.
type Audience string

const (
	AudienceSupervisor  Audience = "supervisor"
	AudienceDashboard   Audience = "dashboard"
	AudienceParticipant Audience = "participant"
)

// Notification kinds double as websocket message types.
const (
	KindSupervisorAlert    = "supervisor_alert"
	KindSecurityEvent      = "security_event"
	KindSessionFlagged     = "session_flagged"
	KindParticipantWarning = "participant_warning"
)

// Notification is the (event, audience, payload) triple handed to notifiers.
type Notification struct {
	Audience  Audience              `json:"audience"`
	Kind      string                `json:"kind"`
	SessionID string                `json:"session_id"`
	EventID   string                `json:"event_id,omitempty"`
	EventType models.EventType      `json:"event_type,omitempty"`
	Severity  models.Severity       `json:"severity,omitempty"`
	Message   string                `json:"message"`
	Event     *models.SecurityEvent `json:"event,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	// Send delivers n. Notifiers ignore audiences they do not serve.
	Send(ctx context.Context, n Notification) error

	// Name returns the notifier name (e.g. "websocket", "webhook").
	Name() string

	// Enabled returns whether this notifier is enabled.
	Enabled() bool
}

// Broadcaster pushes a typed message to every dashboard client.
type Broadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// ParticipantSender pushes a typed message to the clients of one session.
// It reports whether any client was connected.
type ParticipantSender interface {
	SendToSession(sessionID, messageType string, data interface{}) bool
}

// HubNotifier delivers over the websocket hub: dashboards get supervisor
// and dashboard notifications, the participant channel gets warnings.
type HubNotifier struct {
	dashboards   Broadcaster
	participants ParticipantSender
}

// NewHubNotifier creates a websocket notifier. participants may be nil.
func NewHubNotifier(dashboards Broadcaster, participants ParticipantSender) *HubNotifier {
	return &HubNotifier{dashboards: dashboards, participants: participants}
}

func (n *HubNotifier) Name() string { return "websocket" }

func (n *HubNotifier) Enabled() bool { return n.dashboards != nil || n.participants != nil }

// Send never fails; a participant without an open connection simply misses
// the warning, which is also visible on the dashboard.
func (n *HubNotifier) Send(_ context.Context, note Notification) error {
	switch note.Audience {
	case AudienceParticipant:
		if n.participants != nil {
			n.participants.SendToSession(note.SessionID, note.Kind, note)
		}
		if n.dashboards != nil {
			n.dashboards.BroadcastJSON(note.Kind, note)
		}
	case AudienceSupervisor, AudienceDashboard:
		if n.dashboards != nil {
			n.dashboards.BroadcastJSON(note.Kind, note)
		}
	}
	return nil
}
