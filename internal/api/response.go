// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examwatch/internal/detection"
	"github.com/tomtom215/examwatch/internal/lifecycle"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/middleware"
	"github.com/tomtom215/examwatch/internal/store"
	"github.com/tomtom215/examwatch/internal/validation"
)

// APIResponse wraps every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError is the error body.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// APIMeta carries tracing and paging metadata.
type APIMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Count     *int      `json:"count,omitempty"`
	Total     *int64    `json:"total,omitempty"`
	// Mode is the monitoring mode the data was produced under.
	Mode string `json:"mode,omitempty"`
}

// Error codes.
const (
	ErrCodeValidation         = validation.CodeValidationError
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTransitionRejected = "TRANSITION_REJECTED"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeReadinessTimeout   = "READINESS_TIMEOUT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

func newMeta(r *http.Request) *APIMeta {
	return &APIMeta{
		RequestID: middleware.GetRequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, APIResponse{Success: true, Data: data, Meta: newMeta(r)})
}

func respondWithMeta(w http.ResponseWriter, status int, data interface{}, meta *APIMeta) {
	writeJSON(w, status, APIResponse{Success: true, Data: data, Meta: meta})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
		Meta:    newMeta(r),
	})
}

func respondValidation(w http.ResponseWriter, r *http.Request, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
}

// respondDomainError maps monitoring-core errors to status codes. Anything
// unrecognised is logged and reported as INTERNAL_ERROR without detail.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		transition *lifecycle.TransitionError
		permission *lifecycle.PermissionError
	)
	switch {
	case errors.As(err, &permission):
		respondError(w, r, http.StatusUnprocessableEntity, ErrCodePermissionDenied, err.Error(), map[string]interface{}{
			"session_id": permission.SessionID,
			"detectors":  permission.Detectors,
			"at":         permission.At,
		})
	case errors.As(err, &transition):
		respondError(w, r, http.StatusConflict, ErrCodeTransitionRejected, err.Error(), map[string]interface{}{
			"session_id": transition.SessionID,
			"state":      transition.From,
			"trigger":    transition.Trigger,
		})
	case errors.Is(err, lifecycle.ErrTransitionRejected):
		respondError(w, r, http.StatusConflict, ErrCodeTransitionRejected, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrSessionNotFound),
		errors.Is(err, lifecycle.ErrConfigNotFound),
		errors.Is(err, detection.ErrUnknownSession),
		errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrSessionExists):
		respondError(w, r, http.StatusConflict, ErrCodeConflict, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrSessionCancelled):
		respondError(w, r, http.StatusConflict, ErrCodeConflict, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrReadinessTimeout):
		respondError(w, r, http.StatusConflict, ErrCodeReadinessTimeout, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrInvalidRequest):
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "internal error", nil)
	}
}
