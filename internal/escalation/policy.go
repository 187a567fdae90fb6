// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package escalation

import (
	"fmt"
	"strings"

	"github.com/tomtom215/examwatch/internal/models"
)

// Action is one automatic response.
type Action string

const (
	ActionPause            Action = "pause"
	ActionNotifySupervisor Action = "notify_supervisor"
	ActionFlag             Action = "flag"
	ActionAlertDashboard   Action = "alert_dashboard"
	ActionWarnParticipant  Action = "warn_participant"
	ActionRecord           Action = "record"
)

// ParseAction validates an action name.
func ParseAction(v string) (Action, error) {
	switch a := Action(strings.TrimSpace(v)); a {
	case ActionPause, ActionNotifySupervisor, ActionFlag, ActionAlertDashboard, ActionWarnParticipant, ActionRecord:
		return a, nil
	default:
		return "", fmt.Errorf("unknown escalation action %q", v)
	}
}

// Policy maps a severity to the actions taken for it.
type Policy map[models.Severity][]Action

// DefaultPolicy returns the built-in severity table.
func DefaultPolicy() Policy {
	return Policy{
		models.SeverityCritical: {ActionPause, ActionNotifySupervisor},
		models.SeverityHigh:     {ActionFlag, ActionAlertDashboard},
		models.SeverityMedium:   {ActionWarnParticipant},
		models.SeverityLow:      {ActionRecord},
	}
}

// ParsePolicy builds a policy from configuration. Severities missing from
// overrides keep their default actions.
func ParsePolicy(overrides map[string][]string) (Policy, error) {
	p := DefaultPolicy()
	for sev, names := range overrides {
		s, err := models.ParseSeverity(sev)
		if err != nil {
			return nil, fmt.Errorf("escalation policy: %w", err)
		}
		actions := make([]Action, 0, len(names))
		for _, n := range names {
			a, err := ParseAction(n)
			if err != nil {
				return nil, fmt.Errorf("escalation policy %s: %w", s, err)
			}
			actions = append(actions, a)
		}
		p[s] = actions
	}
	return p, nil
}

// For returns a copy of the actions for severity s.
func (p Policy) For(s models.Severity) []Action {
	return append([]Action(nil), p[s]...)
}
