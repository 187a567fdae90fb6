// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package escalation turns classified security events into automatic
// responses.
//
// The Engine looks up the event's severity in a Policy table and executes
// the resulting actions:
//
//	critical -> pause, notify_supervisor
//	high     -> flag, alert_dashboard
//	medium   -> warn_participant
//	low      -> record
//
// Independently of single-event severity, a session that accumulates more
// than the configured number of events at or above the accumulation
// severity is flagged once.
//
// Side effects are idempotent per event id. A second Handle call for the same
// event returns ErrDuplicateResponse without touching the session or any
// notifier, and is logged once. Session state changes are requested through
// a SessionController; the engine never mutates sessions directly.
//
// Notifications are delivered at least once through the registered Notifier
// implementations: the websocket hub (dashboards and participant channel)
// and an optional webhook guarded by a circuit breaker.
package escalation
