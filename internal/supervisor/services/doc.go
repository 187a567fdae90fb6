// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

/*
Package services adapts ExamWatch components to suture.Service.

Components that already implement Serve(ctx) error (the store, the audit
retention loop, the event router, the change-feed consumer and the
monitoring coordinator) are added to the tree directly. The wrappers here
cover the remaining lifecycle shapes:

	RunnerService      RunWithContext(ctx) error   (websocket hub, sweeper)
	HTTPServerService  ListenAndServe / Shutdown   (*http.Server)
	BrokerService      IsRunning / Shutdown        (embedded NATS server)

Every wrapper returns ctx.Err() on a requested shutdown and a wrapped error
on failure so the supervisor can apply its backoff policy.
*/
package services
