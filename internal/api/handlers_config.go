// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/models"
)

// GetProctoringConfig returns an assessment's stored proctoring config.
func (h *Handler) GetProctoringConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.sys.Store.LoadConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, cfg)
}

// PutProctoringConfig replaces an assessment's proctoring config. Sessions
// already started keep the config they began with.
func (h *Handler) PutProctoringConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg models.ProctoringConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	if cfg.AssessmentID == "" {
		cfg.AssessmentID = id
	}
	if cfg.AssessmentID != id {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "assessment_id does not match the path", nil)
		return
	}
	if !validated(w, r, &cfg) {
		return
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := h.sys.Store.SaveConfig(r.Context(), &cfg); err != nil {
		respondDomainError(w, r, err)
		return
	}
	h.audit.LogConfigChange(r.Context(), actor(r), audit.SourceFromRequest(r), id, &cfg)
	respond(w, r, http.StatusOK, &cfg)
}
