// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger()
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	SetLevelString("debug")
	t.Cleanup(func() {
		SetLogger(prev)
		SetLevelString("info")
	})
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"debug", true},
		{"INFO", true},
		{"warning", true},
		{"disabled", true},
		{"verbose", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ValidLevel(tt.in); got != tt.valid {
				t.Errorf("ValidLevel(%q) = %v, want %v", tt.in, got, tt.valid)
			}
		})
	}
}

func TestCtx_AddsSessionAndCorrelation(t *testing.T) {
	buf := captureLogs(t)

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithSessionID(ctx, "sess-1")
	Ctx(ctx).Info().Msg("hello")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["correlation_id"] != "abc12345" {
		t.Errorf("correlation_id = %v", lines[0]["correlation_id"])
	}
	if lines[0]["session_id"] != "sess-1" {
		t.Errorf("session_id = %v", lines[0]["session_id"])
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	if len(id) != 8 {
		t.Errorf("expected 8 chars, got %q", id)
	}
	if CorrelationIDFromContext(context.Background()) != "" {
		t.Error("expected empty correlation id on bare context")
	}
}

func TestSlogHandler_WritesThroughZerolog(t *testing.T) {
	buf := captureLogs(t)

	logger := NewSlogLogger().With("service", "coordinator").WithGroup("sweep")
	logger.Warn("slow sweep", slog.Int("entries", 3))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["level"] != "warn" {
		t.Errorf("level = %v", lines[0]["level"])
	}
	if lines[0]["service"] != "coordinator" {
		t.Errorf("service = %v", lines[0]["service"])
	}
	if lines[0]["sweep.entries"] != float64(3) {
		t.Errorf("sweep.entries = %v", lines[0]["sweep.entries"])
	}
}

func TestSlogHandler_AttrsKeepTheirGroup(t *testing.T) {
	buf := captureLogs(t)

	logger := NewSlogLogger().
		WithGroup("sweep").
		With("page", 2).
		WithGroup("census").
		With("watchers", 4)
	logger.Info("sweep page", slog.String("mode", "normal"))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["sweep.page"] != float64(2) {
		t.Errorf("sweep.page = %v", got["sweep.page"])
	}
	if got["sweep.census.watchers"] != float64(4) {
		t.Errorf("sweep.census.watchers = %v", got["sweep.census.watchers"])
	}
	if got["sweep.census.mode"] != "normal" {
		t.Errorf("sweep.census.mode = %v", got["sweep.census.mode"])
	}
	if _, ok := got["sweep.census.page"]; ok {
		t.Error("page picked up a group opened after it")
	}
}

func TestWatermillAdapter(t *testing.T) {
	buf := captureLogs(t)

	a := NewWatermillAdapter().With(watermill.LogFields{"topic": "proctoring.signals"})
	a.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["topic"] != "proctoring.signals" || got["error"] != "boom" || got["component"] != "eventbus" {
		t.Errorf("unexpected fields: %v", got)
	}
}

func TestInit_ServiceField(t *testing.T) {
	prev := Logger()
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf, Service: "examwatch"})
	Info().Msg("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["service"] != "examwatch" {
		t.Errorf("log lines = %v", lines)
	}
}
