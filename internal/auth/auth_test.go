// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/examwatch/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return m
}

func TestNewJWTManager(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		ttl     time.Duration
		wantErr bool
	}{
		{"valid", testSecret, time.Hour, false},
		{"short secret", "short", time.Hour, true},
		{"zero ttl", testSecret, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJWTManager(tt.secret, tt.ttl)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m := newTestManager(t)
	token, exp, err := m.GenerateToken(Subject{Username: "p-42", Role: RoleParticipant, SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v is not in the future", exp)
	}

	s, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if s.Username != "p-42" || s.Role != RoleParticipant || s.SessionID != "sess-1" {
		t.Errorf("subject = %+v", s)
	}
}

func TestJWTManager_Rejects(t *testing.T) {
	m := newTestManager(t)

	t.Run("unknown role", func(t *testing.T) {
		if _, _, err := m.GenerateToken(Subject{Username: "x", Role: "root"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("expired", func(t *testing.T) {
		past := newTestManager(t)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := past.GenerateToken(Subject{Username: "alice", Role: RoleSupervisor})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredCredentials) {
			t.Errorf("expected ErrExpiredCredentials, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, _ := NewJWTManager(strings.Repeat("z", 32), time.Hour)
		token, _, _ := other.GenerateToken(Subject{Username: "alice", Role: RoleSupervisor})
		if _, err := m.ValidateToken(token); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
			Subject: "mallory", Issuer: "examwatch",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.ValidateToken(token); err == nil {
			t.Error("unsigned token accepted")
		}
	})
}

func TestDirectory_Verify(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDirectory([]config.SupervisorAccount{
		{Username: "alice", PasswordHash: string(hash), Role: RoleSupervisor},
	})

	tests := []struct {
		name     string
		user     string
		password string
		wantErr  error
	}{
		{"correct", "alice", "correct horse", nil},
		{"wrong password", "alice", "battery staple", ErrInvalidCredentials},
		{"unknown user", "bob", "correct horse", ErrInvalidCredentials},
		{"empty", "", "", ErrNoCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := d.Verify(tt.user, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (s.Username != "alice" || s.Role != RoleSupervisor) {
				t.Errorf("subject = %+v", s)
			}
		})
	}
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected short password to be refused")
	}
	hash, err := HashPassword("long enough")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("long enough")) != nil {
		t.Error("hash does not verify")
	}
}

func TestMiddleware_Authenticate(t *testing.T) {
	m := newTestManager(t)
	token, _, _ := m.GenerateToken(Subject{Username: "alice", Role: RoleSupervisor})

	var got *Subject
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SubjectFromContext(r.Context())
	})

	tests := []struct {
		name     string
		mode     AuthMode
		setup    func(r *http.Request)
		wantCode int
		wantUser string
	}{
		{"bearer header", AuthModeJWT, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, 200, "alice"},
		{"cookie", AuthModeJWT, func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: token}) }, 200, "alice"},
		{"websocket query", AuthModeJWT, func(r *http.Request) {
			r.Header.Set("Upgrade", "websocket")
			r.URL.RawQuery = "token=" + token
		}, 200, "alice"},
		{"query ignored without upgrade", AuthModeJWT, func(r *http.Request) { r.URL.RawQuery = "token=" + token }, 401, ""},
		{"missing", AuthModeJWT, func(*http.Request) {}, 401, ""},
		{"basic scheme", AuthModeJWT, func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, 401, ""},
		{"garbage token", AuthModeJWT, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, 401, ""},
		{"auth disabled", AuthModeNone, func(*http.Request) {}, 200, "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			mw := NewMiddleware(tt.mode, m, nil)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/mode", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			mw.Authenticate(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantUser == "" {
				if got != nil {
					t.Error("handler ran for rejected request")
				}
				return
			}
			if got == nil || got.Username != tt.wantUser {
				t.Errorf("subject = %+v, want %s", got, tt.wantUser)
			}
		})
	}
}

func TestSubject_CanActOn(t *testing.T) {
	p := &Subject{Username: "p", Role: RoleParticipant, SessionID: "s-1"}
	if !p.CanActOn("s-1") || p.CanActOn("s-2") {
		t.Error("participant token should be bound to its session")
	}
	sup := &Subject{Username: "alice", Role: RoleSupervisor}
	if !sup.CanActOn("s-2") || !sup.IsSupervisor() {
		t.Error("supervisor should act on any session")
	}
	var none *Subject
	if none.CanActOn("s-1") || none.IsSupervisor() {
		t.Error("nil subject must not act")
	}
}
