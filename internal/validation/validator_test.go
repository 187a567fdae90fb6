// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package validation

import (
	"strings"
	"testing"

	"github.com/tomtom215/examwatch/internal/models"
)

type signalRequest struct {
	SessionID string  `json:"session_id" validate:"required,identifier"`
	Detector  string  `json:"detector" validate:"required,detector"`
	Severity  string  `json:"severity,omitempty" validate:"omitempty,severity"`
	Kind      string  `json:"kind,omitempty" validate:"omitempty,event_type"`
	Reading   float64 `json:"reading" validate:"gte=0,lte=1"`
	Note      string  `json:"note" validate:"max=10"`
}

func validSignal() signalRequest {
	return signalRequest{
		SessionID: "sess-1",
		Detector:  string(models.DetectorCamera),
		Reading:   0.5,
	}
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator should return the same instance")
	}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*signalRequest)
		wantField string
		wantTag   string
	}{
		{"valid", func(*signalRequest) {}, "", ""},
		{"missing session", func(r *signalRequest) { r.SessionID = "" }, "session_id", "required"},
		{"bad identifier", func(r *signalRequest) { r.SessionID = "a b" }, "session_id", "identifier"},
		{"long identifier", func(r *signalRequest) { r.SessionID = strings.Repeat("a", 129) }, "session_id", "identifier"},
		{"unknown detector", func(r *signalRequest) { r.Detector = "lidar" }, "detector", "detector"},
		{"unknown severity", func(r *signalRequest) { r.Severity = "extreme" }, "severity", "severity"},
		{"known severity", func(r *signalRequest) { r.Severity = "high" }, "", ""},
		{"unknown event type", func(r *signalRequest) { r.Kind = "sneeze" }, "kind", "event_type"},
		{"known event type", func(r *signalRequest) { r.Kind = string(models.EventTabSwitch) }, "", ""},
		{"reading above range", func(r *signalRequest) { r.Reading = 1.5 }, "reading", "lte"},
		{"note too long", func(r *signalRequest) { r.Note = "eleven chars" }, "note", "max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSignal()
			tt.mutate(&req)
			err := ValidateStruct(&req)

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if len(err.Errors()) != 1 {
				t.Fatalf("expected 1 error, got %d: %v", len(err.Errors()), err)
			}
			fe := err.Errors()[0]
			if fe.Field() != tt.wantField || fe.Tag() != tt.wantTag {
				t.Errorf("got %s/%s, want %s/%s", fe.Field(), fe.Tag(), tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	t.Run("single field", func(t *testing.T) {
		req := validSignal()
		req.Detector = ""
		apiErr := ValidateStruct(&req).ToAPIError()

		if apiErr.Code != CodeValidationError {
			t.Errorf("code = %s", apiErr.Code)
		}
		if apiErr.Message != "detector is required" {
			t.Errorf("message = %q", apiErr.Message)
		}
		if apiErr.Details["field"] != "detector" {
			t.Errorf("details = %v", apiErr.Details)
		}
	})

	t.Run("multiple fields", func(t *testing.T) {
		req := signalRequest{Reading: -1}
		apiErr := ValidateStruct(&req).ToAPIError()

		fields, ok := apiErr.Details["fields"].([]map[string]interface{})
		if !ok || len(fields) != 3 {
			t.Fatalf("expected 3 field entries, got %v", apiErr.Details)
		}
		if !strings.Contains(apiErr.Message, "session_id is required") {
			t.Errorf("message = %q", apiErr.Message)
		}
	})
}

func TestProctoringConfigTags(t *testing.T) {
	cfg := models.ProctoringConfig{
		AssessmentID: "exam-101",
		Required:     []models.Requirement{models.RequireCamera, "x-ray"},
	}
	err := ValidateStruct(&cfg)
	if err == nil {
		t.Fatal("expected unknown requirement to be rejected")
	}
	if got := err.Errors()[0].Tag(); got != "oneof" {
		t.Errorf("tag = %s, want oneof", got)
	}
}
