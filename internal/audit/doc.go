// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package audit records the proctoring audit trail.
//
// Every automatic escalation response, lifecycle transition, monitoring mode
// change and supervisor action is written here so that a disputed exam
// attempt can be reconstructed after the fact.
//
// # Event Types
//
// Session events:
//   - session.transition: lifecycle state change
//   - session.transition_rejected: a trigger that had no edge from the current state
//   - session.flagged: visible flag raised on a session
//   - session.monitoring_stopped: monitoring cancelled for a session
//   - proctoring.permission_denied: a required device permission was refused
//
// Escalation events:
//   - escalation.auto_response: actions executed for a security event
//   - escalation.duplicate: a second response attempt for the same event
//
// Platform events:
//   - monitoring.mode_changed: coordinator changed the monitoring mode
//   - auth.success, auth.failure, authz.denied
//   - config.changed, admin.action
//
// # Architecture
//
//	Logger.Log() -> Event Buffer (chan) -> Async Writer -> Store
//
// Log never blocks the caller. When the buffer is full the event is dropped
// with a warning. Close drains the buffer before returning.
//
// # Stores
//
// MemoryStore keeps a bounded slice and is the default. DuckDBStore persists
// to a DuckDB file (audit.store=duckdb) and supports the same filters.
//
// # Usage Example
//
//	store := audit.NewMemoryStore(10000)
//	logger := audit.NewLogger(store, audit.DefaultConfig())
//	defer logger.Close()
//
//	logger.LogTransition(ctx, audit.SystemActor(), "sess-1",
//	    "in_progress", "paused", "escalation_pause")
//
//	events, err := logger.Query(ctx, audit.QueryFilter{
//	    TargetID: "sess-1",
//	    Limit:    100,
//	})
package audit
