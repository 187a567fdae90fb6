// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/logging"
)

// ResumeSession lifts a pause. Only supervisors reach this route.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sys.Controller.Resume(logging.ContextWithSessionID(r.Context(), id), id, subjectName(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, s)
}

// FlagSession marks a session for review. Flagging twice for the same
// reason is a no-op reported as flagged=false.
func (h *Handler) FlagSession(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := logging.ContextWithSessionID(r.Context(), id)
	added, err := h.sys.Controller.Flag(ctx, id, req.Reason, subjectName(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	s, err := h.sys.Controller.Snapshot(id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"flagged": added, "session": s})
}

// PauseSession suspends an in-progress exam.
func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.sys.Controller.Pause(logging.ContextWithSessionID(r.Context(), id), id, req.Reason, subjectName(r)); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s, err := h.sys.Controller.Snapshot(id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, s)
}

// EndMonitoring stops every monitoring channel for a session without
// changing its lifecycle state. Repeated calls report stopped=false.
func (h *Handler) EndMonitoring(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := logging.ContextWithSessionID(r.Context(), id)
	if _, err := h.sys.Controller.Snapshot(id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	ran, err := h.sys.Pipeline.StopMonitoring(ctx, id, req.Reason, subjectName(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if ran {
		h.audit.LogAdminAction(ctx, actor(r), audit.SourceFromRequest(r), id, "end_monitoring", req.Reason)
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"session_id": id, "stopped": ran})
}

// EvaluateSession records the final score of a submitted session.
func (h *Handler) EvaluateSession(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	s, err := h.sys.Controller.Evaluate(logging.ContextWithSessionID(r.Context(), id), id, req.Score, subjectName(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, s)
}
