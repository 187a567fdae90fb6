// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/authz"
	"github.com/tomtom215/examwatch/internal/config"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/middleware"
	"github.com/tomtom215/examwatch/internal/models"
	"github.com/tomtom215/examwatch/internal/monitor"
	"github.com/tomtom215/examwatch/internal/store"
	"github.com/tomtom215/examwatch/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

type testEnv struct {
	handler http.Handler
	sys     *monitor.System
	jwt     *auth.JWTManager
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Security.AuthMode = "jwt"
	cfg.Security.JWTSecret = testSecret
	cfg.Security.RateLimitDisabled = true
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventprocessor.NewChannelBus(64, nil)
	t.Cleanup(func() { _ = bus.Close() })

	auditLog := audit.NewLogger(audit.NewMemoryStore(1000), nil)
	t.Cleanup(func() { _ = auditLog.Close() })

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()

	sys, err := monitor.NewSystem(cfg, monitor.Options{Store: st, Bus: bus, Hub: hub, Audit: auditLog})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	t.Cleanup(func() {
		sys.Escalation.Wait()
		cancel()
		<-done
	})

	enforcer, err := authz.NewEnforcer(nil)
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	t.Cleanup(enforcer.Close)

	var jwtm *auth.JWTManager
	if cfg.Security.AuthMode == "jwt" {
		jwtm, err = auth.NewJWTManager(cfg.Security.JWTSecret, time.Hour)
		if err != nil {
			t.Fatalf("NewJWTManager: %v", err)
		}
	}

	h, err := NewHandler(Deps{
		Config:    cfg,
		System:    sys,
		Enforcer:  enforcer,
		JWT:       jwtm,
		Directory: auth.NewDirectory(cfg.Security.Supervisors),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &testEnv{handler: h.Routes(), sys: sys, jwt: jwtm}
}

func (e *testEnv) token(t *testing.T, s auth.Subject) string {
	t.Helper()
	tok, _, err := e.jwt.GenerateToken(s)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func (e *testEnv) admin(t *testing.T) string {
	return e.token(t, auth.Subject{Username: "root", Role: auth.RoleAdmin})
}

func (e *testEnv) supervisor(t *testing.T) string {
	return e.token(t, auth.Subject{Username: "alice", Role: auth.RoleSupervisor})
}

func (e *testEnv) participant(t *testing.T, sid string) string {
	return e.token(t, auth.Subject{Username: "p-" + sid, Role: auth.RoleParticipant, SessionID: sid})
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func (e *testEnv) putConfig(t *testing.T, assessmentID string, required ...models.Requirement) {
	t.Helper()
	rec, env := e.do(t, http.MethodPut, "/api/v1/assessments/"+assessmentID+"/proctoring", e.admin(t), models.ProctoringConfig{
		Required:         required,
		TimeLimitSeconds: 3600,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT config = %d %+v", rec.Code, env.Error)
	}
}

func (e *testEnv) begin(t *testing.T, sid, assessmentID string) models.ExamSession {
	t.Helper()
	rec, env := e.do(t, http.MethodPost, "/api/v1/sessions", e.participant(t, sid), BeginRequest{AssessmentID: assessmentID, DisplayName: "Pat"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("begin = %d %+v", rec.Code, env.Error)
	}
	var s models.ExamSession
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !body.Success {
		t.Fatalf("health = %d %+v", rec.Code, body)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	// The event router is not started in these tests.
	rec, body = env.do(t, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable || body.Error == nil || body.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("ready = %d %+v", rec.Code, body.Error)
	}
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"malformed", "Basic abc", http.StatusUnauthorized},
		{"garbage bearer", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"supervisor", "Bearer " + env.supervisor(t), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1")
	env.begin(t, "s1", "a1")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"participant cannot read dashboard", http.MethodGet, "/api/v1/monitoring/sessions", env.participant(t, "s1"), http.StatusForbidden},
		{"participant cannot touch another session", http.MethodPost, "/api/v1/sessions/s2/submit", env.participant(t, "s1"), http.StatusForbidden},
		{"participant cannot resume", http.MethodPost, "/api/v1/sessions/s1/resume", env.participant(t, "s1"), http.StatusForbidden},
		{"supervisor cannot write config", http.MethodPut, "/api/v1/assessments/a1/proctoring", env.supervisor(t), http.StatusForbidden},
		{"supervisor cannot read audit", http.MethodGet, "/api/v1/monitoring/audit", env.supervisor(t), http.StatusForbidden},
		{"admin reads audit", http.MethodGet, "/api/v1/monitoring/audit", env.admin(t), http.StatusOK},
		{"supervisor reads mode", http.MethodGet, "/api/v1/monitoring/mode", env.supervisor(t), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body interface{}
			if tt.method == http.MethodPut {
				body = models.ProctoringConfig{}
			}
			rec, resp := env.do(t, tt.method, tt.path, tt.token, body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%+v)", rec.Code, tt.want, resp.Error)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, func(c *config.Config) {
		c.Security.Supervisors = []config.SupervisorAccount{{Username: "alice", PasswordHash: hash, Role: "supervisor"}}
	})

	rec, body := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "alice", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized || body.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("bad password = %d %+v", rec.Code, body.Error)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "alice", Password: "correct horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %+v", rec.Code, body.Error)
	}
	var lr LoginResponse
	if err := json.Unmarshal(body.Data, &lr); err != nil {
		t.Fatal(err)
	}
	if lr.Role != "supervisor" || lr.Token == "" {
		t.Errorf("login response = %+v", lr)
	}
	var cookie bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookie && c.HttpOnly {
			cookie = true
		}
	}
	if !cookie {
		t.Error("token cookie not set")
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/monitoring/mode", lr.Token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("issued token rejected: %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Security.RateLimitDisabled = false })

	var last int
	for i := 0; i < 7; i++ {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "x", Password: "yyyyyyyy"})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after repeated logins = %d, want 429", last)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1")

	s := env.begin(t, "s1", "a1")
	if s.State != models.StateInProgress {
		t.Fatalf("unproctored begin state = %s, want in_progress", s.State)
	}

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/s1/resume", env.supervisor(t), nil)
	if rec.Code != http.StatusConflict || body.Error.Code != ErrCodeTransitionRejected {
		t.Errorf("resume in_progress = %d %+v", rec.Code, body.Error)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/s1/flag", env.supervisor(t), ReasonRequest{Reason: "looked away"})
	if rec.Code != http.StatusOK {
		t.Fatalf("flag = %d %+v", rec.Code, body.Error)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/s1/submit", env.participant(t, "s1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit = %d %+v", rec.Code, body.Error)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/s1/evaluate", env.supervisor(t), EvaluateRequest{Score: 91})
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate = %d %+v", rec.Code, body.Error)
	}
	var done models.ExamSession
	if err := json.Unmarshal(body.Data, &done); err != nil {
		t.Fatal(err)
	}
	if done.State != models.StateEvaluated || !done.Flagged {
		t.Errorf("final state=%s flagged=%v", done.State, done.Flagged)
	}
}

func TestBegin_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1")
	env.begin(t, "s1", "a1")

	tests := []struct {
		name     string
		token    string
		body     interface{}
		want     int
		wantCode string
	}{
		{"invalid assessment id", env.participant(t, "s2"), BeginRequest{AssessmentID: "a b"}, http.StatusBadRequest, ErrCodeValidation},
		{"unknown assessment", env.participant(t, "s2"), BeginRequest{AssessmentID: "missing"}, http.StatusNotFound, ErrCodeNotFound},
		{"duplicate session", env.participant(t, "s1"), BeginRequest{AssessmentID: "a1"}, http.StatusConflict, ErrCodeConflict},
		{"foreign session id", env.participant(t, "s2"), BeginRequest{AssessmentID: "a1", SessionID: "s3"}, http.StatusForbidden, ErrCodeForbidden},
		{"anonymous not allowed", env.participant(t, "s4"), BeginRequest{AssessmentID: "a1", Anonymous: true}, http.StatusBadRequest, ErrCodeValidation},
		{"unknown field", env.participant(t, "s5"), map[string]string{"assessment_id": "a1", "bogus": "x"}, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodPost, "/api/v1/sessions", tt.token, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%+v)", rec.Code, tt.want, body.Error)
			}
			if body.Error == nil || body.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", body.Error, tt.wantCode)
			}
		})
	}
}

func TestGrantPermissions_Denied(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1", models.RequireCamera)
	s := env.begin(t, "s1", "a1")
	if s.State != models.StateProctoringSetup {
		t.Fatalf("state = %s, want proctoring_setup", s.State)
	}

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/s1/permissions", env.participant(t, "s1"),
		PermissionsRequest{Granted: map[string]bool{"camera": false}})
	if rec.Code != http.StatusUnprocessableEntity || body.Error.Code != ErrCodePermissionDenied {
		t.Fatalf("permissions = %d %+v", rec.Code, body.Error)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/s1/permissions", env.participant(t, "s1"),
		PermissionsRequest{Granted: map[string]bool{"sonar": true}})
	if rec.Code != http.StatusBadRequest || body.Error.Code != ErrCodeValidation {
		t.Errorf("unknown detector = %d %+v", rec.Code, body.Error)
	}

	rec, body = env.do(t, http.MethodGet, "/api/v1/monitoring/sessions/s1/violations", env.supervisor(t), nil)
	if rec.Code != http.StatusOK || body.Meta.Count == nil || *body.Meta.Count != 1 {
		t.Errorf("violations = %d meta=%+v", rec.Code, body.Meta)
	}
}

func TestPostSignal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1", models.RequireTabSwitch)
	env.begin(t, "s1", "a1")
	detector := env.token(t, auth.Subject{Username: "gateway", Role: auth.RoleDetector})

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/s1/signals", detector, SignalRequest{Detector: "tab_visibility", Active: true})
	if rec.Code != http.StatusAccepted {
		t.Errorf("signal = %d %+v", rec.Code, body.Error)
	}
	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/ghost/signals", detector, SignalRequest{Detector: "tab_visibility"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d %+v", rec.Code, body.Error)
	}
	rec, _ = env.do(t, http.MethodPost, "/api/v1/sessions/s1/signals", detector, SignalRequest{Detector: "camera", Score: 4})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out of range score = %d", rec.Code)
	}
}

func TestEndMonitoring_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1")
	env.begin(t, "s1", "a1")

	for i, want := range []bool{true, false} {
		rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/s1/end", env.supervisor(t), ReasonRequest{Reason: "done watching"})
		if rec.Code != http.StatusOK {
			t.Fatalf("end #%d = %d %+v", i, rec.Code, body.Error)
		}
		var out struct {
			Stopped bool `json:"stopped"`
		}
		if err := json.Unmarshal(body.Data, &out); err != nil {
			t.Fatal(err)
		}
		if out.Stopped != want {
			t.Errorf("end #%d stopped = %v, want %v", i, out.Stopped, want)
		}
	}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions/s1/end", env.supervisor(t), map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing reason = %d", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1")
	env.begin(t, "s1", "a1")
	env.begin(t, "s2", "a1")

	rec, body := env.do(t, http.MethodGet, "/api/v1/monitoring/sessions?detail=enhanced", env.supervisor(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d %+v", rec.Code, body.Error)
	}
	if body.Meta.Mode != "normal" || body.Meta.Count == nil || *body.Meta.Count != 2 {
		t.Errorf("meta = %+v", body.Meta)
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(body.Data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0]["session_id"] != "s1" {
		t.Errorf("sessions = %v", out)
	}
	if _, ok := out[0]["progress"]; !ok {
		t.Error("enhanced projection missing progress")
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/monitoring/sessions?detail=everything", env.supervisor(t), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad detail = %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/api/v1/monitoring/sessions?flagged=true", env.supervisor(t), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("flagged filter = %d", rec.Code)
	}
}

func TestRecentEvents_LimitValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/monitoring/events/recent?limit=abc", env.supervisor(t), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=abc = %d", rec.Code)
	}
	rec, body := env.do(t, http.MethodGet, "/api/v1/monitoring/events/recent?limit=100000", env.supervisor(t), nil)
	if rec.Code != http.StatusOK || body.Meta.Count == nil || *body.Meta.Count != 0 {
		t.Errorf("clamped limit = %d %+v", rec.Code, body.Meta)
	}
}

func TestProctoringConfig_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/assessments/a1/proctoring", env.supervisor(t), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing config = %d", rec.Code)
	}

	env.putConfig(t, "a1", models.RequireCamera, models.RequireTabSwitch)
	rec, body := env.do(t, http.MethodGet, "/api/v1/assessments/a1/proctoring", env.supervisor(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	var cfg models.ProctoringConfig
	if err := json.Unmarshal(body.Data, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.AssessmentID != "a1" || len(cfg.Required) != 2 || cfg.UpdatedAt.IsZero() {
		t.Errorf("config = %+v", cfg)
	}

	rec, body = env.do(t, http.MethodPut, "/api/v1/assessments/a1/proctoring", env.admin(t), models.ProctoringConfig{AssessmentID: "other"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mismatched id = %d %+v", rec.Code, body.Error)
	}
	rec, body = env.do(t, http.MethodPut, "/api/v1/assessments/a1/proctoring", env.admin(t), models.ProctoringConfig{Required: []models.Requirement{"xray"}})
	if rec.Code != http.StatusBadRequest || body.Error.Code != ErrCodeValidation {
		t.Errorf("bad requirement = %d %+v", rec.Code, body.Error)
	}
}

func TestAuthModeNone(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Security.AuthMode = "none"
		c.Security.JWTSecret = ""
	})

	rec, body := env.do(t, http.MethodGet, "/api/v1/monitoring/audit", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("audit without auth = %d %+v", rec.Code, body.Error)
	}
	rec, body = env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "a", Password: "bbbbbbbb"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("login without jwt = %d %+v", rec.Code, body.Error)
	}
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	if _, err := NewHandler(Deps{}); err == nil {
		t.Error("expected error for empty deps")
	}
}

func TestAuditStatsAndExport(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putConfig(t, "a1")

	filter := audit.DefaultQueryFilter()
	filter.Types = []audit.EventType{audit.EventTypeConfigChanged}
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := env.sys.Audit.Count(context.Background(), filter)
		if err != nil {
			t.Fatal(err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("config change never reached the audit store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, body := env.do(t, http.MethodGet, "/api/v1/monitoring/audit/stats", env.admin(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d %+v", rec.Code, body.Error)
	}
	var stats audit.Stats
	if err := json.Unmarshal(body.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.EventsByType[string(audit.EventTypeConfigChanged)] < 1 {
		t.Errorf("stats = %+v", stats)
	}

	tests := []struct {
		name        string
		query       string
		status      int
		contentType string
		contains    string
	}{
		{"json default", "", http.StatusOK, "application/json", `"config.changed"`},
		{"cef", "?format=cef&type=config.changed", http.StatusOK, "text/plain", "CEF:0|ExamWatch|LiveProctoring|"},
		{"unknown format", "?format=xml", http.StatusBadRequest, "application/json", "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/audit/export"+tt.query, nil)
			req.Header.Set("Authorization", "Bearer "+env.admin(t))
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("content type = %q", ct)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/monitoring/audit/export", env.supervisor(t), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("supervisor export = %d, want 403", rec.Code)
	}
}
