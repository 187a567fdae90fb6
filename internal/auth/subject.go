// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package auth

import (
	"context"
	"errors"
)

// AuthMode is the authentication strategy.
type AuthMode string

const (
	AuthModeNone AuthMode = "none"
	AuthModeJWT  AuthMode = "jwt"
)

// ParseAuthMode converts a config value to an AuthMode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case AuthModeNone, "":
		return AuthModeNone, nil
	case AuthModeJWT:
		return AuthModeJWT, nil
	}
	return "", errors.New("invalid auth mode: " + s)
}

// Roles known to the authorization policy.
const (
	RoleAdmin       = "admin"
	RoleSupervisor  = "supervisor"
	RoleParticipant = "participant"
	RoleDetector    = "detector"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSupervisor, RoleParticipant, RoleDetector:
		return true
	}
	return false
}

var (
	ErrNoCredentials      = errors.New("no credentials provided")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExpiredCredentials = errors.New("credentials expired")
)

// Subject is an authenticated caller.
type Subject struct {
	// Username is the supervisor login, participant id or gateway name.
	Username string `json:"username"`
	Role     string `json:"role"`
	// SessionID scopes a participant token to one exam session.
	SessionID string `json:"session_id,omitempty"`
}

// IsSupervisor reports whether the subject may run supervisor actions.
func (s *Subject) IsSupervisor() bool {
	return s != nil && (s.Role == RoleSupervisor || s.Role == RoleAdmin)
}

// CanActOn reports whether the subject may act for sessionID. Participant
// tokens are bound to one session; other roles are not.
func (s *Subject) CanActOn(sessionID string) bool {
	if s == nil {
		return false
	}
	if s.Role != RoleParticipant {
		return true
	}
	return s.SessionID == "" || s.SessionID == sessionID
}

// AnonymousAdmin is the subject used when authentication is disabled.
var AnonymousAdmin = Subject{Username: "anonymous", Role: RoleAdmin}

type contextKey string

const subjectContextKey contextKey = "auth_subject"

// ContextWithSubject stores s in ctx.
func ContextWithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, s)
}

// SubjectFromContext returns the authenticated subject or nil.
func SubjectFromContext(ctx context.Context) *Subject {
	s, _ := ctx.Value(subjectContextKey).(*Subject)
	return s
}
