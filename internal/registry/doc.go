// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package registry tracks who is connected and what dashboards see.
//
// Registry is a sharded set of live participants: exam takers (keyed by
// session id) and watchers (keyed by dashboard connection id). The
// monitoring coordinator counts it to pick a monitoring mode.
//
// Aggregator holds one immutable View per session behind an atomic pointer.
// Updates build a new View and swap it in, so dashboard reads never block
// the event pipeline. Security events carry per-session sequence numbers; a
// gap forces a reload of the session from its owner. Projections turn a View
// into the payload a consumer is allowed to see under the current
// monitoring mode.
package registry
