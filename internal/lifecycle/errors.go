// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/examwatch/internal/models"
)

var (
	// ErrTransitionRejected is returned when a trigger is not valid in the
	// session's current state.
	ErrTransitionRejected = errors.New("transition rejected")

	// ErrPermissionDenied is returned when a required device permission was refused.
	ErrPermissionDenied = errors.New("device permission denied")

	// ErrReadinessTimeout is returned when required detectors did not come
	// online in time. The session is moved back to proctoring_setup.
	ErrReadinessTimeout = errors.New("proctoring readiness timed out")

	// ErrSessionCancelled is returned for monitoring-originated triggers on a
	// session whose monitoring was stopped.
	ErrSessionCancelled = errors.New("session monitoring cancelled")

	// ErrSessionNotFound is returned for unknown or archived session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned by Begin for a duplicate session id.
	ErrSessionExists = errors.New("session already exists")

	// ErrConfigNotFound is returned by Begin when the assessment has no
	// proctoring configuration.
	ErrConfigNotFound = errors.New("proctoring config not found")

	// ErrInvalidRequest is returned for malformed operation arguments.
	ErrInvalidRequest = errors.New("invalid request")
)

// TransitionError describes a rejected trigger.
type TransitionError struct {
	SessionID string
	From      models.LifecycleState
	Trigger   Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: %s not allowed in state %s", e.SessionID, e.Trigger, e.From)
}

// Unwrap lets errors.Is match ErrTransitionRejected.
func (e *TransitionError) Unwrap() error {
	return ErrTransitionRejected
}

// PermissionError describes denied device permissions.
type PermissionError struct {
	SessionID string
	Detectors []models.DetectorType
	At        time.Time
}

func (e *PermissionError) Error() string {
	names := make([]string, len(e.Detectors))
	for i, d := range e.Detectors {
		names[i] = string(d)
	}
	return fmt.Sprintf("session %s: permission denied for %s at %s",
		e.SessionID, strings.Join(names, ", "), e.At.Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrPermissionDenied.
func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

// Detector returns the first denied detector.
func (e *PermissionError) Detector() models.DetectorType {
	if len(e.Detectors) == 0 {
		return ""
	}
	return e.Detectors[0]
}
