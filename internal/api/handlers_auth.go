// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
)

// tokenCookie is read by the authentication middleware as a fallback.
const tokenCookie = "token"

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

// Login exchanges supervisor credentials for a JWT. The token is also set as
// an HttpOnly cookie for browser dashboards.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.jwt == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "authentication is disabled", nil)
		return
	}
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	source := audit.SourceFromRequest(r)
	subject, err := h.directory.Verify(req.Username, req.Password)
	if err != nil {
		metrics.RecordLogin(false)
		h.audit.LogAuthFailure(r.Context(), req.Username, source, err.Error())
		logging.Ctx(r.Context()).Warn().Str("username", req.Username).Str("ip", source.IPAddress).Msg("Login failed")
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, auth.ErrInvalidCredentials.Error(), nil)
		return
	}

	token, expires, err := h.jwt.GenerateToken(*subject)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.RecordLogin(true)
	h.audit.LogAuthSuccess(r.Context(), audit.SupervisorActor(subject.Username, subject.Role), source)

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	respond(w, r, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expires,
		Username:  subject.Username,
		Role:      subject.Role,
	})
}
