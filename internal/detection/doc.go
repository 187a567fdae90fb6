// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package detection classifies raw detector signals into SecurityEvents.
//
// For every signal the Classifier:
//
//  1. marks the detector live for the session (readiness and timeouts)
//  2. maps the reading to an EventType, or ignores healthy readings
//  3. re-reads the monitoring mode and skips or rate-limits behavioral checks
//  4. debounces identical (session, type) signals inside the coalescing window
//  5. emits an immutable SecurityEvent with the assessment's severity
//
// The debounce window is anchored at the last emitted event: a signal is
// emitted when ts - lastEmitted >= window. With a 4s window, signals at
// 0,2,4,6,8,10s emit at 0, 4 and 8s.
package detection
