// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package middleware holds the chi middleware shared by every API route:
// request ids that double as log correlation ids, Prometheus request
// metrics keyed by route pattern, and gzip compression for JSON responses.
//
// Order in the router:
//
//	r.Use(middleware.RequestID)
//	r.Use(middleware.PrometheusMetrics)
//	r.Use(middleware.Compression)
package middleware
