// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

/*
Package websocket carries the two real-time channels of the monitoring core.

Dashboard connections (/ws/dashboard) receive broadcasts: security events,
flags, session state changes, monitoring mode changes and supervisor alerts.
Every open dashboard is a watcher in the session registry, which is what
lets the coordinator weigh watchers against public exam-takers.

Participant connections (/ws/participant/{sessionID}) are the push channel
for detector providers. Inbound signal and telemetry messages are rate
limited per connection and handed to the event bus adapter; outbound
traffic is limited to warnings and the final monitoring_stopped message.

	             ┌─────────┐
	 broadcast → │   Hub   │ ← SendToSession / CloseSession
	             └────┬────┘
	        ┌─────────┴──────────┐
	   dashboards           participants (by session)

Each client runs a readPump and a writePump goroutine. The hub owns the
send channels; only the hub closes them.
*/
package websocket
