// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package escalation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

type mockHub struct {
	mu         sync.Mutex
	broadcasts []string
	direct     map[string][]string
}

func (m *mockHub) BroadcastJSON(messageType string, _ interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, messageType)
}

func (m *mockHub) SendToSession(sessionID, messageType string, _ interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.direct == nil {
		m.direct = make(map[string][]string)
	}
	m.direct[sessionID] = append(m.direct[sessionID], messageType)
	return true
}

func TestHubNotifier_Routing(t *testing.T) {
	tests := []struct {
		name           string
		audience       Audience
		wantBroadcasts int
		wantDirect     int
	}{
		{"supervisor goes to dashboards", AudienceSupervisor, 1, 0},
		{"dashboard goes to dashboards", AudienceDashboard, 1, 0},
		{"participant goes to session and dashboards", AudienceParticipant, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &mockHub{}
			n := NewHubNotifier(hub, hub)
			err := n.Send(context.Background(), Notification{Audience: tt.audience, Kind: "k", SessionID: "s1"})
			if err != nil {
				t.Fatal(err)
			}
			if len(hub.broadcasts) != tt.wantBroadcasts {
				t.Errorf("broadcasts = %d, want %d", len(hub.broadcasts), tt.wantBroadcasts)
			}
			if len(hub.direct["s1"]) != tt.wantDirect {
				t.Errorf("direct = %d, want %d", len(hub.direct["s1"]), tt.wantDirect)
			}
		})
	}

	if NewHubNotifier(nil, nil).Enabled() {
		t.Error("notifier without hubs should be disabled")
	}
}

func TestWebhookNotifier_DeliversSupervisorAlerts(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []WebhookPayload
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p WebhookPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		mu.Lock()
		payloads = append(payloads, p)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		URL:       srv.URL,
		Enabled:   true,
		RateLimit: time.Millisecond,
		Headers:   map[string]string{"Authorization": "Bearer hook"},
	})

	ctx := context.Background()
	if err := n.Send(ctx, Notification{Audience: AudienceParticipant, Kind: KindParticipantWarning, SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if err := n.Send(ctx, Notification{Audience: AudienceSupervisor, Kind: KindSupervisorAlert, SessionID: "s1", Message: "CRITICAL"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1 (participant audience filtered)", len(payloads))
	}
	p := payloads[0]
	if p.EventType != KindSupervisorAlert || p.Source != "examwatch" || p.Notification.Message != "CRITICAL" {
		t.Errorf("payload = %+v", p)
	}
	if auth != "Bearer hook" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebhookNotifier_BreakerOpensOnFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		URL:                srv.URL,
		Enabled:            true,
		RateLimit:          time.Millisecond,
		BreakerMaxFailures: 2,
		BreakerTimeout:     time.Hour,
	})
	note := Notification{Audience: AudienceSupervisor, Kind: KindSupervisorAlert, SessionID: "s1"}

	for i := 0; i < 2; i++ {
		if err := n.Send(context.Background(), note); !errors.Is(err, ErrWebhookStatus) {
			t.Fatalf("send %d: err = %v, want ErrWebhookStatus", i, err)
		}
	}
	if err := n.Send(context.Background(), note); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if hits.Load() != 2 {
		t.Errorf("endpoint hit %d times, want 2", hits.Load())
	}
	if n.BreakerState() != "open" {
		t.Errorf("BreakerState = %q", n.BreakerState())
	}
}

func TestWebhookNotifier_RateLimitHonorsContext(t *testing.T) {
	n := NewWebhookNotifier(WebhookConfig{URL: "http://127.0.0.1:0", Enabled: true, RateLimit: time.Hour})
	if err := n.wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
