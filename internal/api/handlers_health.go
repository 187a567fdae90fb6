// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"net/http"
	"time"
)

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status        string            `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Version is set at build time.
var Version = "dev"

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, HealthStatus{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(time.Since(h.startTime) / time.Second),
	})
}

// HealthReady reports whether the event router is consuming. It returns 503
// until then so load balancers hold traffic during startup.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"transport": h.sys.Bus.Transport(),
		"mode":      string(h.sys.Coordinator.Mode().Mode),
	}
	status := http.StatusOK
	if h.sys.Router.IsRunning() {
		checks["event_router"] = "running"
	} else {
		checks["event_router"] = "stopped"
		status = http.StatusServiceUnavailable
	}
	body := HealthStatus{
		Status:        "ready",
		Version:       Version,
		UptimeSeconds: int64(time.Since(h.startTime) / time.Second),
		Checks:        checks,
	}
	if status != http.StatusOK {
		body.Status = "not_ready"
		respondError(w, r, status, ErrCodeServiceUnavailable, "event router is not running", body)
		return
	}
	respond(w, r, status, body)
}
