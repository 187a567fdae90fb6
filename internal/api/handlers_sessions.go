// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/lifecycle"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/models"
)

// BeginSession starts an exam attempt.
//
// A participant token bound to a session may only begin that session; the
// participant id defaults to the token's username.
func (h *Handler) BeginSession(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	subject := auth.SubjectFromContext(r.Context())
	if subject != nil && subject.Role == auth.RoleParticipant {
		if subject.SessionID != "" {
			if req.SessionID != "" && req.SessionID != subject.SessionID {
				respondError(w, r, http.StatusForbidden, ErrCodeForbidden, "token is not valid for this session", nil)
				return
			}
			req.SessionID = subject.SessionID
		}
		if req.ParticipantID == "" {
			req.ParticipantID = subject.Username
		}
	}

	ctx := logging.ContextWithSessionID(r.Context(), req.SessionID)
	s, err := h.sys.Controller.Begin(ctx, lifecycle.BeginRequest{
		SessionID:    req.SessionID,
		AssessmentID: req.AssessmentID,
		Participant: models.Participant{
			ID:          req.ParticipantID,
			DisplayName: req.DisplayName,
			Anonymous:   req.Anonymous,
		},
		TotalQuestions: req.TotalQuestions,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, s)
}

// GrantPermissions records the participant's device permission answers.
// Denials return PERMISSION_DENIED and leave the session in setup.
func (h *Handler) GrantPermissions(w http.ResponseWriter, r *http.Request) {
	var req PermissionsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	granted := make(map[models.DetectorType]bool, len(req.Granted))
	for k, v := range req.Granted {
		granted[models.DetectorType(k)] = v
	}

	id := chi.URLParam(r, "id")
	s, err := h.sys.Controller.GrantPermissions(logging.ContextWithSessionID(r.Context(), id), id, granted)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, s)
}

// AwaitReady blocks until every required detector has reported, then starts
// the exam. The wait is bounded by the readiness timeout and the request.
func (h *Handler) AwaitReady(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sys.Controller.AwaitMonitoring(logging.ContextWithSessionID(r.Context(), id), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, s)
}

// SubmitSession ends the attempt from the participant side.
func (h *Handler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sys.Controller.Submit(logging.ContextWithSessionID(r.Context(), id), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, s)
}

// PostSignal accepts one detector reading over HTTP for clients that cannot
// hold a websocket. Readings are queued, so the response is 202.
func (h *Handler) PostSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.sys.Controller.Snapshot(id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	ctx := logging.ContextWithSessionID(r.Context(), id)
	err := h.sys.Adapter.PublishSignal(ctx, eventprocessor.OriginAPI, id, eventprocessor.SignalPayload{
		Detector:   req.Detector,
		Active:     req.Active,
		Score:      req.Score,
		Confidence: req.Confidence,
		Count:      req.Count,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("detector", req.Detector).Msg("Signal publish failed")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "signal could not be queued", nil)
		return
	}
	respond(w, r, http.StatusAccepted, map[string]string{"status": "queued"})
}
