// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package models

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestSeverity_Ordering(t *testing.T) {
	tests := []struct {
		s, min Severity
		want   bool
	}{
		{SeverityCritical, SeverityHigh, true},
		{SeverityHigh, SeverityHigh, true},
		{SeverityMedium, SeverityHigh, false},
		{SeverityMedium, SeverityMedium, true},
		{SeverityLow, SeverityMedium, false},
		{Severity("bogus"), SeverityLow, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.s)+">="+string(tt.min), func(t *testing.T) {
			if got := tt.s.AtLeast(tt.min); got != tt.want {
				t.Errorf("AtLeast = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ParseSeverity(" HIGH "); err != nil {
		t.Errorf("ParseSeverity: %v", err)
	}
	if _, err := ParseSeverity("severe"); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestEventType_TaxonomyIsComplete(t *testing.T) {
	types := AllEventTypes()
	if len(types) != 10 {
		t.Fatalf("expected 10 event types, got %d", len(types))
	}
	for _, et := range types {
		if !et.Valid() {
			t.Errorf("%s not valid", et)
		}
		if !et.DefaultSeverity().Valid() {
			t.Errorf("%s has no default severity", et)
		}
		if et.Description() == string(et) {
			t.Errorf("%s has no description", et)
		}
	}
	if _, err := ParseEventType("screen_recording"); err == nil {
		t.Error("expected error for type outside taxonomy")
	}
	if EventTabSwitch.DefaultSeverity() != SeverityMedium {
		t.Errorf("tab_switch default = %s, want medium", EventTabSwitch.DefaultSeverity())
	}
}

func TestDetector_TimeoutEventType(t *testing.T) {
	for _, d := range AllDetectors() {
		if !d.Valid() {
			t.Errorf("%s has no timeout event type", d)
		}
	}
	if DetectorCamera.TimeoutEventType() != EventCameraBlocked {
		t.Error("camera silence should map to camera_blocked")
	}
}

func newEvent(t *testing.T, typ EventType, sev Severity) *SecurityEvent {
	t.Helper()
	e, err := NewSecurityEvent(SecurityEventParams{
		SessionID: "s1",
		Type:      typ,
		Severity:  sev,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Evidence:  map[string]interface{}{"confidence": 0.2},
		Sequence:  7,
	})
	if err != nil {
		t.Fatalf("NewSecurityEvent: %v", err)
	}
	return e
}

func TestNewSecurityEvent_Validation(t *testing.T) {
	ts := time.Now()
	tests := []struct {
		name string
		p    SecurityEventParams
	}{
		{"missing session", SecurityEventParams{Type: EventTabSwitch, Severity: SeverityLow, Timestamp: ts}},
		{"bad type", SecurityEventParams{SessionID: "s", Type: "x", Severity: SeverityLow, Timestamp: ts}},
		{"bad severity", SecurityEventParams{SessionID: "s", Type: EventTabSwitch, Severity: "x", Timestamp: ts}},
		{"zero time", SecurityEventParams{SessionID: "s", Type: EventTabSwitch, Severity: SeverityLow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSecurityEvent(tt.p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSecurityEvent_ResolveOnce(t *testing.T) {
	e := newEvent(t, EventMultipleFaces, SeverityCritical)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := e.Resolve(true, "paused"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyResolved) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful Resolve, got %d", wins)
	}
	if !e.AutoHandled() || e.Response() != "paused" {
		t.Errorf("resolution not recorded: %v %q", e.AutoHandled(), e.Response())
	}
}

func TestSecurityEvent_EvidenceIsCopied(t *testing.T) {
	e := newEvent(t, EventFaceNotDetected, SeverityHigh)
	ev := e.Evidence()
	ev["confidence"] = 0.99
	if e.Evidence()["confidence"] != 0.2 {
		t.Error("mutating returned evidence changed the event")
	}
}

func TestSecurityEvent_JSONRoundTripKeepsResolution(t *testing.T) {
	e := newEvent(t, EventMultipleFaces, SeverityCritical)
	if err := e.Resolve(true, "Session paused"); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalSecurityEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != e.ID() || got.Sequence() != 7 || got.Type() != EventMultipleFaces {
		t.Errorf("identity fields lost: %+v", got)
	}
	if !got.AutoHandled() || got.Response() != "Session paused" {
		t.Error("resolution lost")
	}
	if err := got.Resolve(false, "again"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("decoded event should stay resolved, got %v", err)
	}
}

func TestMeasurement_JSONDistinguishesAbsence(t *testing.T) {
	tel := UnknownTelemetry()
	tel.Battery = Known(0.0)
	tel.DeviceClass = Unavailable[string]()

	data, err := json.Marshal(tel)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"battery":{"value":0,"status":"available"}`) {
		t.Errorf("available zero battery should keep its value: %s", s)
	}
	if !strings.Contains(s, `"device_class":{"status":"unavailable"}`) {
		t.Errorf("unavailable field should have no value: %s", s)
	}

	var back Telemetry
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if v, ok := back.Battery.Get(); !ok || v != 0 {
		t.Errorf("battery = %v,%v", v, ok)
	}
	if back.ConnectionStability.Available() {
		t.Error("unknown stability decoded as available")
	}
}

func TestTelemetry_Merge(t *testing.T) {
	base := UnknownTelemetry()
	base.Battery = Known(80.0)
	merged := base.Merge(Telemetry{NetworkQuality: Known("poor")})
	if v, _ := merged.Battery.Get(); v != 80 {
		t.Error("merge dropped battery")
	}
	if v, _ := merged.NetworkQuality.Get(); v != "poor" {
		t.Error("merge ignored network quality")
	}
}

func TestProctoringConfig(t *testing.T) {
	cfg := ProctoringConfig{
		AssessmentID:      "a1",
		Required:          []Requirement{RequireCamera, RequireFaceDetection, RequireTabSwitch, RequireCamera},
		SeverityOverrides: map[EventType]Severity{EventTabSwitch: SeverityHigh},
	}
	if got := len(cfg.RequiredDetectors()); got != 3 {
		t.Errorf("RequiredDetectors = %d, want 3", got)
	}
	perm := cfg.PermissionDetectors()
	if len(perm) != 1 || perm[0] != DetectorCamera {
		t.Errorf("PermissionDetectors = %v", perm)
	}
	if cfg.SeverityFor(EventTabSwitch) != SeverityHigh {
		t.Error("override ignored")
	}
	if cfg.SeverityFor(EventFullscreenExit) != SeverityMedium {
		t.Error("default severity not used")
	}
	if cfg.DebounceWindow(4*time.Second) != 4*time.Second {
		t.Error("fallback debounce not used")
	}
	if cfg.WithDefaults().Thresholds.FaceConfidenceMin != 0.6 {
		t.Error("threshold defaults not applied")
	}

	clone := cfg.Clone()
	clone.SeverityOverrides[EventTabSwitch] = SeverityLow
	if cfg.SeverityOverrides[EventTabSwitch] != SeverityHigh {
		t.Error("Clone shares override map")
	}
}

func TestExamSession_RoundTrip(t *testing.T) {
	s := &ExamSession{
		ID:             "s1",
		AssessmentID:   "a1",
		State:          StateInProgress,
		IntegrityScore: 95,
		Telemetry:      UnknownTelemetry(),
		Violations:     []*SecurityEvent{newEvent(t, EventTabSwitch, SeverityMedium)},
		Deadline:       time.Now().Add(time.Hour),
	}
	data, err := MarshalSession(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalSession(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "s1" || got.State != StateInProgress || len(got.Violations) != 1 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if got.Violations[0].ID() != s.Violations[0].ID() {
		t.Error("violation id changed")
	}
	if got.TimeRemaining(time.Now()) <= 0 {
		t.Error("expected positive time remaining")
	}
}

func TestSequencer(t *testing.T) {
	seq := NewSequencer()
	if seq.Next("a") != 1 || seq.Next("a") != 2 || seq.Next("b") != 1 {
		t.Fatal("unexpected sequence numbers")
	}
	seq.Forget("a")
	if seq.Current("a") != 0 {
		t.Error("Forget did not reset")
	}
	seq.Advance("c", 9)
	seq.Advance("c", 3)
	if seq.Next("c") != 10 {
		t.Error("Advance should only move the counter forward")
	}
}
