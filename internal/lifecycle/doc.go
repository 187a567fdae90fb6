// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

/*
Package lifecycle owns exam sessions and drives them through their state
machine:

	not_started ──begin──▶ proctoring_setup ──permissions_granted──▶ proctoring_check
	     │                       ▲                                        │
	     │                       └────────────check_timeout───────────────┤
	     │                                                                 │ monitoring_ready
	     └──────────start (no proctoring required)──────────▶ in_progress ◀┘
	                                                           │    ▲
	                                                     pause │    │ resume
	                                                           ▼    │
	                                                          paused
	in_progress/paused ──submit/expire──▶ submitted ──evaluate──▶ evaluated (archived)

The Controller is the only writer of ExamSession. Every other component works
on Snapshot copies and requests changes through Controller methods. A trigger
that has no entry in the transition table for the current state is rejected
with ErrTransitionRejected and leaves the session unchanged.

Each applied transition is persisted, written to the audit trail, published
as a lifecycle.transition bus message, counted in metrics, and handed to the
registered listeners.

Once monitoring is cancelled for a session, triggers issued by the monitoring
side (escalation, detector sweeps) are refused with ErrSessionCancelled so a
stopped session cannot be resurrected.
*/
package lifecycle
