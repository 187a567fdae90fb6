// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

/*
Package api is the administrative and client-facing HTTP surface.

Routes (all JSON, wrapped in APIResponse):

	POST /api/v1/auth/login                              supervisor login -> JWT

	POST /api/v1/sessions                                begin an attempt
	POST /api/v1/sessions/{id}/permissions               device permission answers
	POST /api/v1/sessions/{id}/ready                     wait for required detectors
	POST /api/v1/sessions/{id}/submit
	POST /api/v1/sessions/{id}/signals                   detector reading (HTTP fallback)

	POST /api/v1/sessions/{id}/resume|flag|pause|end|evaluate   supervisor actions

	GET  /api/v1/monitoring/sessions?detail=basic|enhanced
	GET  /api/v1/monitoring/sessions/{id}
	GET  /api/v1/monitoring/sessions/{id}/violations
	GET  /api/v1/monitoring/events/recent?limit=N
	GET  /api/v1/monitoring/mode
	GET  /api/v1/monitoring/audit

	GET|PUT /api/v1/assessments/{id}/proctoring

	GET  /ws/dashboard                                   supervisor live feed
	GET  /ws/participant/{id}                            detector push channel

	GET  /health, /health/ready, /metrics

Everything under /api/v1 except login, and both websocket endpoints, runs
behind JWT authentication and the casbin route policy. Participant tokens
carry a session id and may only touch that session.
*/
package api
