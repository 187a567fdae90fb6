// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/registry"
)

const (
	defaultRecentEvents = 50
	maxRecentEvents     = 500
	defaultAuditLimit   = 100
	maxAuditLimit       = 1000
	maxAuditExport      = 10000
)

// ListSessions returns dashboard summaries of every monitored session,
// projected for the current monitoring mode.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	detail, err := registry.ParseDetail(r.URL.Query().Get("detail"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	flaggedOnly := r.URL.Query().Get("flagged") == "true"

	views := h.sys.Aggregator.Views()
	if flaggedOnly {
		kept := views[:0:0]
		for _, v := range views {
			if v.Flagged {
				kept = append(kept, v)
			}
		}
		views = kept
	}

	mode := h.sys.Coordinator.Mode()
	out := registry.ProjectAll(views, detail, mode, time.Now())
	meta := newMeta(r)
	count := len(out)
	total := int64(len(views))
	meta.Count = &count
	meta.Total = &total
	meta.Mode = string(mode.Mode)
	respondWithMeta(w, http.StatusOK, out, meta)
}

// GetSession returns one session. Live sessions come from the aggregator;
// anything else is loaded through the controller, which includes archives.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := registry.ParseDetail(r.URL.Query().Get("detail"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	if v, ok := h.sys.Aggregator.View(id); ok {
		mode := h.sys.Coordinator.Mode()
		meta := newMeta(r)
		meta.Mode = string(mode.Mode)
		respondWithMeta(w, http.StatusOK, registry.Project(v, detail, mode, time.Now()), meta)
		return
	}
	s, err := h.sys.Controller.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, s)
}

// SessionViolations returns a session's security events in arrival order.
func (h *Handler) SessionViolations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, ok := h.sys.Aggregator.Violations(id)
	if !ok {
		s, err := h.sys.Controller.Get(r.Context(), id)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		events = s.Violations
	}
	summaries := make([]*registry.EventSummary, 0, len(events))
	for _, e := range events {
		summaries = append(summaries, registry.SummarizeEvent(e))
	}
	meta := newMeta(r)
	count := len(summaries)
	meta.Count = &count
	respondWithMeta(w, http.StatusOK, summaries, meta)
}

// RecentEvents returns the latest security events across sessions.
func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecentEvents, 1, maxRecentEvents)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	events := h.sys.Aggregator.Recent(limit)
	summaries := make([]*registry.EventSummary, 0, len(events))
	for _, e := range events {
		summaries = append(summaries, registry.SummarizeEvent(e))
	}
	meta := newMeta(r)
	count := len(summaries)
	meta.Count = &count
	respondWithMeta(w, http.StatusOK, summaries, meta)
}

// MonitoringMode reports the coordinator's current mode and its profile.
func (h *Handler) MonitoringMode(w http.ResponseWriter, r *http.Request) {
	ms := h.sys.Coordinator.Mode()
	respond(w, r, http.StatusOK, map[string]interface{}{
		"mode":       ms.Mode,
		"version":    ms.Version,
		"changed_at": ms.ChangedAt,
		"reason":     ms.Reason,
		"profile":    ms.Profile(),
		"population": h.sys.Registry.Counts(),
	})
}

// auditFilter builds a query filter from the request, writing a 400 and
// returning false when a parameter is malformed.
func auditFilter(w http.ResponseWriter, r *http.Request, defLimit, maxLimit int) (audit.QueryFilter, bool) {
	filter := audit.DefaultQueryFilter()
	limit, err := queryInt(r, "limit", defLimit, 1, maxLimit)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return filter, false
	}
	offset, err := queryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return filter, false
	}
	since, err := queryTime(r, "since")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return filter, false
	}
	until, err := queryTime(r, "until")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return filter, false
	}

	q := r.URL.Query()
	filter.TargetID = q.Get("session")
	filter.ActorID = q.Get("actor")
	filter.SearchText = q.Get("q")
	filter.StartTime = since
	filter.EndTime = until
	filter.Limit = limit
	filter.Offset = offset
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, audit.EventType(t))
	}
	return filter, true
}

// AuditEvents queries the audit trail, newest first.
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit logging is disabled", nil)
		return
	}
	filter, ok := auditFilter(w, r, defaultAuditLimit, maxAuditLimit)
	if !ok {
		return
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	total, err := h.audit.Count(r.Context(), filter)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	meta := newMeta(r)
	count := len(events)
	meta.Count = &count
	meta.Total = &total
	respondWithMeta(w, http.StatusOK, events, meta)
}

// AuditStats summarizes the audit trail by type, severity and outcome.
func (h *Handler) AuditStats(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit logging is disabled", nil)
		return
	}
	stats, err := h.audit.Stats(r.Context())
	if errors.Is(err, audit.ErrStatsUnsupported) {
		respondError(w, r, http.StatusNotImplemented, ErrCodeServiceUnavailable, err.Error(), nil)
		return
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, stats)
}

// ExportAudit downloads matching audit events as JSON or, with
// ?format=cef, as Common Event Format lines for a SIEM.
func (h *Handler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit logging is disabled", nil)
		return
	}
	var (
		exporter audit.Exporter
		filename string
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		exporter, filename = &audit.JSONExporter{}, "audit-events.json"
	case "cef":
		exporter, filename = audit.NewCEFExporter(), "audit-events.cef"
	default:
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "format must be json or cef", map[string]string{"format": format})
		return
	}
	filter, ok := auditFilter(w, r, maxAuditExport, maxAuditExport)
	if !ok {
		return
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	data, err := exporter.Export(events)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Audit export write failed")
	}
}
