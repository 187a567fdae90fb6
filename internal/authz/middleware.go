// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package authz

import (
	"net/http"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
)

// DenyHandler writes the response for a refused request. status is 403 for
// a policy denial and 500 when the policy could not be evaluated.
type DenyHandler func(w http.ResponseWriter, r *http.Request, status int, message string)

// Middleware enforces the policy for the authenticated subject.
type Middleware struct {
	enforcer *Enforcer
	audit    *audit.Logger
	onDeny   DenyHandler
}

// NewMiddleware returns the middleware. auditLog may be nil.
func NewMiddleware(enforcer *Enforcer, auditLog *audit.Logger, onDeny DenyHandler) *Middleware {
	if onDeny == nil {
		onDeny = func(w http.ResponseWriter, _ *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return &Middleware{enforcer: enforcer, audit: auditLog, onDeny: onDeny}
}

// Authorize is chi middleware. It must run after auth.Middleware.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := auth.SubjectFromContext(r.Context())
		if subject == nil {
			metrics.RecordAuthzDecision("denied")
			m.onDeny(w, r, http.StatusForbidden, "no authentication context")
			return
		}

		allowed, err := m.enforcer.Enforce(subject.Role, r.URL.Path, r.Method)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Str("role", subject.Role).Msg("Authorization error")
			metrics.RecordAuthzDecision("error")
			m.onDeny(w, r, http.StatusInternalServerError, "authorization failed")
			return
		}
		if !allowed {
			metrics.RecordAuthzDecision("denied")
			if m.audit != nil {
				m.audit.LogAuthzDenied(r.Context(),
					audit.SupervisorActor(subject.Username, subject.Role),
					audit.SourceFromRequest(r), r.URL.Path, r.Method)
			}
			m.onDeny(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}

		metrics.RecordAuthzDecision("allowed")
		next.ServeHTTP(w, r)
	})
}
