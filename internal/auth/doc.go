// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package auth authenticates API and websocket callers.
//
// Supervisors log in with a username and password checked against bcrypt
// hashes from configuration and receive an HS256 JWT. Exam clients and
// detector gateways receive tokens issued out of band (`examwatch token`).
// Middleware validates the token from the Authorization header, a `token`
// cookie or, for websocket upgrades only, a `token` query parameter, and
// stores the resulting Subject in the request context for authz.
//
// With AUTH_MODE=none every request runs as the built-in admin subject.
// Config validation refuses that mode in production.
package auth
