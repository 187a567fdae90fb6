// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examwatch/internal/validation"
)

const maxBodyBytes = 1 << 20

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

// BeginRequest is the body of POST /sessions.
type BeginRequest struct {
	SessionID      string `json:"session_id,omitempty" validate:"omitempty,identifier"`
	AssessmentID   string `json:"assessment_id" validate:"required,identifier"`
	ParticipantID  string `json:"participant_id,omitempty" validate:"omitempty,identifier"`
	DisplayName    string `json:"display_name,omitempty" validate:"max=256"`
	Anonymous      bool   `json:"anonymous"`
	TotalQuestions int    `json:"total_questions" validate:"gte=0,lte=10000"`
}

// PermissionsRequest is the body of POST /sessions/{id}/permissions. Keys
// are detector types.
type PermissionsRequest struct {
	Granted map[string]bool `json:"granted" validate:"required,dive,keys,detector,endkeys"`
}

// SignalRequest is one detector reading.
type SignalRequest struct {
	Detector   string    `json:"detector" validate:"required,detector"`
	Active     bool      `json:"active"`
	Score      float64   `json:"score" validate:"gte=0,lte=1"`
	Confidence float64   `json:"confidence" validate:"gte=0,lte=1"`
	Count      int       `json:"count" validate:"gte=0,lte=1000"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReasonRequest is the body of flag, pause and end.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// EvaluateRequest is the body of POST /sessions/{id}/evaluate.
type EvaluateRequest struct {
	Score float64 `json:"score" validate:"gte=0,lte=100"`
}

var errEmptyBody = errors.New("request body is required")

// decodeAndValidate reads a JSON body into dst and validates it. It writes
// the error response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return false
	}
	return validated(w, r, dst)
}

// validated reports whether v passes validation, writing the error response if not.
func validated(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if verr := validation.ValidateStruct(v); verr != nil {
		respondValidation(w, r, verr)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// queryInt parses an integer query parameter clamped to [min, max].
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n, nil
}

// queryTime parses an RFC3339 query parameter; empty yields nil.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}
