// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package eventprocessor is the event bus adapter. It normalizes the two
// detector origins into one Event representation and moves those events over
// a Watermill bus:
//
//	badger change feed (signal/, telemetry/ keys) ─┐
//	                                               ├─> Adapter ─> Bus ─> Router ─> handlers
//	participant WebSocket push channel ───────────┘
//
// The default transport is Watermill's in-process gochannel. Building with
// -tags=nats swaps in a NATS JetStream publisher/subscriber and an optional
// embedded NATS server. Signals are never dropped by the adapter; telemetry is
// coalesced per session according to the current monitoring mode's poll
// interval.
package eventprocessor
