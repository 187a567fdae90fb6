// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package auth

import (
	"net/http"
	"strings"

	"github.com/tomtom215/examwatch/internal/logging"
)

// FailureHandler writes the response for a rejected request.
type FailureHandler func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates requests and stores the Subject in the context.
type Middleware struct {
	mode   AuthMode
	jwt    *JWTManager
	onFail FailureHandler
}

// NewMiddleware builds the middleware. jwtManager may be nil only in
// AuthModeNone. A nil onFail writes a bare 401.
func NewMiddleware(mode AuthMode, jwtManager *JWTManager, onFail FailureHandler) *Middleware {
	if onFail == nil {
		onFail = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		}
	}
	return &Middleware{mode: mode, jwt: jwtManager, onFail: onFail}
}

// Authenticate is chi middleware.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.mode == AuthModeNone {
			s := AnonymousAdmin
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), &s)))
			return
		}

		token, err := extractToken(r)
		if err != nil {
			m.onFail(w, r, err)
			return
		}
		subject, err := m.jwt.ValidateToken(token)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("Token validation failed")
			m.onFail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
	})
}

// extractToken reads a bearer header, then the token cookie. Browsers cannot
// set headers on websocket upgrades, so those may pass ?token= instead.
func extractToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", ErrInvalidCredentials
		}
		return token, nil
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
	}
	return "", ErrNoCredentials
}
