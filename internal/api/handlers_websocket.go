// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	gws "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/websocket"
)

func (h *Handler) upgrader() *gws.Upgrader {
	return &gws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin accepts same-host requests, requests without an Origin header
// and the configured CORS origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// DashboardSocket streams live monitoring updates to a supervisor.
func (h *Handler) DashboardSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Dashboard websocket upgrade failed")
		return
	}
	subject := auth.SubjectFromContext(r.Context())
	client := websocket.NewClient(h.sys.Hub, conn, websocket.ClientOptions{
		Channel: websocket.ChannelDashboard,
		Subject: subjectLabel(subject),
	})
	h.sys.Hub.Register <- client
	client.Start(context.WithoutCancel(r.Context()))
}

// ParticipantSocket carries detector signals and telemetry from one exam
// client, rate limited per connection.
func (h *Handler) ParticipantSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.sys.Controller.Snapshot(id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("session_id", id).Msg("Participant websocket upgrade failed")
		return
	}

	sec := h.cfg.Security
	var limiter *rate.Limiter
	if sec.PushRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(sec.PushRate), sec.PushBurst)
	}
	client := websocket.NewClient(h.sys.Hub, conn, websocket.ClientOptions{
		Channel:   websocket.ChannelParticipant,
		SessionID: id,
		Subject:   subjectLabel(auth.SubjectFromContext(r.Context())),
		Limiter:   limiter,
		OnMessage: h.sys.Adapter.IngestPush,
	})
	h.sys.Hub.Register <- client
	client.Start(logging.ContextWithSessionID(context.WithoutCancel(r.Context()), id))
}

func subjectLabel(s *auth.Subject) string {
	if s == nil {
		return ""
	}
	return s.Role + ":" + s.Username
}
