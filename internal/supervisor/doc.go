// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

/*
Package supervisor runs ExamWatch's long-lived services under a suture v4
tree.

	examwatch
	├── data-layer
	│   ├── session-store        (badger value-log GC)
	│   └── audit-retention
	├── messaging-layer
	│   ├── nats-server          (embedded broker, NATS transport only)
	│   ├── websocket-hub
	│   ├── event-router         (signals and telemetry topics)
	│   ├── change-feed-consumer (store changes onto the bus)
	│   ├── monitoring-coordinator
	│   └── proctoring-sweeper   (detector timeouts, time expiry)
	└── api-layer
	    └── http-server

Each layer restarts its own children. A crashed event router is restarted
without dropping websocket connections or the HTTP listener.

Supervisor events are logged through sutureslog into the zerolog-backed
slog handler from the logging package.
*/
package supervisor
