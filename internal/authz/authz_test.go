// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package authz

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/examwatch/internal/auth"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(nil)
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEnforcer_EmbeddedPolicy(t *testing.T) {
	e := newTestEnforcer(t)

	tests := []struct {
		role   string
		path   string
		method string
		want   bool
	}{
		{auth.RoleParticipant, "/api/v1/sessions", "POST", true},
		{auth.RoleParticipant, "/api/v1/sessions/s-1/ready", "POST", true},
		{auth.RoleParticipant, "/api/v1/sessions/s-1/resume", "POST", false},
		{auth.RoleParticipant, "/api/v1/monitoring/sessions", "GET", false},
		{auth.RoleDetector, "/api/v1/sessions/s-1/signals", "POST", true},
		{auth.RoleDetector, "/api/v1/sessions/s-1/submit", "POST", false},
		{auth.RoleSupervisor, "/api/v1/sessions/s-1/resume", "POST", true},
		{auth.RoleSupervisor, "/api/v1/monitoring/sessions/s-1/violations", "GET", true},
		{auth.RoleSupervisor, "/api/v1/monitoring/audit", "GET", false},
		{auth.RoleSupervisor, "/api/v1/assessments/a-1/proctoring", "GET", true},
		{auth.RoleSupervisor, "/api/v1/assessments/a-1/proctoring", "PUT", false},
		{auth.RoleSupervisor, "/ws/dashboard", "GET", true},
		{auth.RoleAdmin, "/api/v1/assessments/a-1/proctoring", "PUT", true},
		{auth.RoleAdmin, "/api/v1/monitoring/audit", "GET", true},
		{auth.RoleAdmin, "/api/v1/sessions/s-1/pause", "POST", true},
		{"stranger", "/api/v1/monitoring/mode", "GET", false},
	}

	for _, tt := range tests {
		t.Run(tt.role+" "+tt.method+" "+tt.path, func(t *testing.T) {
			got, err := e.Enforce(tt.role, tt.path, tt.method)
			if err != nil {
				t.Fatalf("Enforce: %v", err)
			}
			if got != tt.want {
				t.Errorf("Enforce = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := e.Enforce("", "/health", "GET"); !errors.Is(err, ErrNoRole) {
		t.Errorf("expected ErrNoRole, got %v", err)
	}
}

func TestEnforcer_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	if err := os.WriteFile(path, []byte("p, supervisor, /api/v1/monitoring/audit, GET\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := NewEnforcer(&EnforcerConfig{PolicyPath: path})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	defer e.Close()

	if ok, _ := e.Enforce(auth.RoleSupervisor, "/api/v1/monitoring/audit", "GET"); !ok {
		t.Error("file policy should grant audit access")
	}
	if ok, _ := e.Enforce(auth.RoleSupervisor, "/api/v1/monitoring/mode", "GET"); ok {
		t.Error("file policy replaces the embedded one")
	}
}

func TestLoadPolicy_Malformed(t *testing.T) {
	e := newTestEnforcer(t)
	for _, bad := range []string{"p, admin, /x", "g, admin", "x, a, b, c"} {
		if err := loadPolicy(e.enforcer, bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestMiddleware_Authorize(t *testing.T) {
	mw := NewMiddleware(newTestEnforcer(t), nil, nil)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name    string
		subject *auth.Subject
		path    string
		want    int
	}{
		{"allowed", &auth.Subject{Username: "alice", Role: auth.RoleSupervisor}, "/api/v1/monitoring/mode", http.StatusNoContent},
		{"denied", &auth.Subject{Username: "p", Role: auth.RoleParticipant}, "/api/v1/monitoring/mode", http.StatusForbidden},
		{"no subject", nil, "/api/v1/monitoring/mode", http.StatusForbidden},
		{"no role", &auth.Subject{Username: "x"}, "/api/v1/monitoring/mode", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.subject != nil {
				req = req.WithContext(auth.ContextWithSubject(req.Context(), tt.subject))
			}
			rec := httptest.NewRecorder()
			mw.Authorize(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
