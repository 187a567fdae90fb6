// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package lifecycle

import "github.com/tomtom215/examwatch/internal/models"

// Trigger is an input to the session state machine.
type Trigger string

const (
	TriggerBegin              Trigger = "begin"
	TriggerStart              Trigger = "start"
	TriggerPermissionsGranted Trigger = "permissions_granted"
	TriggerMonitoringReady    Trigger = "monitoring_ready"
	TriggerCheckTimeout       Trigger = "check_timeout"
	TriggerPause              Trigger = "pause"
	TriggerResume             Trigger = "resume"
	TriggerSubmit             Trigger = "submit"
	TriggerExpire             Trigger = "expire"
	TriggerEvaluate           Trigger = "evaluate"
)

// transitions is the complete state machine. Anything not listed is rejected.
var transitions = map[models.LifecycleState]map[Trigger]models.LifecycleState{
	models.StateNotStarted: {
		TriggerBegin: models.StateProctoringSetup,
		TriggerStart: models.StateInProgress,
	},
	models.StateProctoringSetup: {
		TriggerPermissionsGranted: models.StateProctoringCheck,
	},
	models.StateProctoringCheck: {
		TriggerMonitoringReady: models.StateInProgress,
		TriggerCheckTimeout:    models.StateProctoringSetup,
	},
	models.StateInProgress: {
		TriggerPause:  models.StatePaused,
		TriggerSubmit: models.StateSubmitted,
		TriggerExpire: models.StateSubmitted,
	},
	models.StatePaused: {
		TriggerResume: models.StateInProgress,
		TriggerExpire: models.StateSubmitted,
	},
	models.StateSubmitted: {
		TriggerEvaluate: models.StateEvaluated,
	},
}

// Next returns the state reached by firing t in from.
func Next(from models.LifecycleState, t Trigger) (models.LifecycleState, bool) {
	to, ok := transitions[from][t]
	return to, ok
}

// Actors recorded as the origin of a change. Supervisors are recorded by
// username.
const (
	ActorParticipant = "participant"
	ActorSystem      = "system"
	ActorMonitor     = "monitor"
	ActorEscalation  = "escalation"
	ActorDetector    = "detector"
)

// monitoringActor reports whether by is part of the monitoring side, whose
// triggers stop being accepted once monitoring is cancelled.
func monitoringActor(by string) bool {
	switch by {
	case ActorMonitor, ActorEscalation, ActorDetector:
		return true
	}
	return false
}
