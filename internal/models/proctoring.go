// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package models

import (
	"time"
)

// Requirement is a proctoring capability an assessment author can demand.
type Requirement string

const (
	RequireCamera          Requirement = "camera"
	RequireMicrophone      Requirement = "microphone"
	RequireScreenShare     Requirement = "screen_share"
	RequireTabSwitch       Requirement = "tab_switch"
	RequireFullscreen      Requirement = "fullscreen"
	RequireFaceDetection   Requirement = "face_detection"
	RequireBrowserLockdown Requirement = "browser_lockdown"
)

// Detector returns the detector that satisfies the requirement.
func (r Requirement) Detector() DetectorType {
	switch r {
	case RequireCamera:
		return DetectorCamera
	case RequireMicrophone:
		return DetectorMicrophone
	case RequireScreenShare:
		return DetectorScreenShare
	case RequireTabSwitch:
		return DetectorTabVisibility
	case RequireFullscreen:
		return DetectorFullscreen
	case RequireFaceDetection:
		return DetectorFaceDetection
	case RequireBrowserLockdown:
		return DetectorEnvironment
	default:
		return ""
	}
}

// Thresholds tune when a metric reading counts as a violation.
type Thresholds struct {
	// FaceConfidenceMin is the minimum face-detection confidence for a face to count as present.
	FaceConfidenceMin float64 `json:"face_confidence_min" validate:"gte=0,lte=1"`
	// TypingAnomalyScore at or above which typing is flagged.
	TypingAnomalyScore float64 `json:"typing_anomaly_score" validate:"gte=0,lte=1"`
	// MouseAnomalyScore at or above which mouse movement is flagged.
	MouseAnomalyScore float64 `json:"mouse_anomaly_score" validate:"gte=0,lte=1"`
	// NetworkLossRatio at or above which the connection is unstable.
	NetworkLossRatio float64 `json:"network_loss_ratio" validate:"gte=0,lte=1"`
}

// DefaultThresholds returns the platform thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FaceConfidenceMin:  0.6,
		TypingAnomalyScore: 0.8,
		MouseAnomalyScore:  0.8,
		NetworkLossRatio:   0.3,
	}
}

// ProctoringConfig is the per-assessment proctoring policy. It is set by the
// assessment author and treated as read-only while sessions run; sessions
// carry a snapshot taken when they begin.
type ProctoringConfig struct {
	AssessmentID      string                 `json:"assessment_id" validate:"required,max=128"`
	Required          []Requirement          `json:"required" validate:"dive,oneof=camera microphone screen_share tab_switch fullscreen face_detection browser_lockdown"`
	Thresholds        Thresholds             `json:"thresholds"`
	SeverityOverrides map[EventType]Severity `json:"severity_overrides,omitempty"`
	// Zero values below fall back to the deployment-wide settings.
	DebounceWindowMs   int64     `json:"debounce_window_ms" validate:"gte=0,lte=600000"`
	AccumulationLimit  int       `json:"accumulation_limit" validate:"gte=0,lte=1000"`
	ReadinessTimeoutMs int64     `json:"readiness_timeout_ms" validate:"gte=0,lte=3600000"`
	DetectorTimeoutMs  int64     `json:"detector_timeout_ms" validate:"gte=0,lte=3600000"`
	TimeLimitSeconds   int       `json:"time_limit_seconds" validate:"gte=0"`
	AnonymousAllowed   bool      `json:"anonymous_allowed"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ProctoringRequired reports whether any detector is required.
func (c *ProctoringConfig) ProctoringRequired() bool {
	return len(c.Required) > 0
}

// Requires reports whether r is in the required set.
func (c *ProctoringConfig) Requires(r Requirement) bool {
	for _, x := range c.Required {
		if x == r {
			return true
		}
	}
	return false
}

// RequiredDetectors lists the detectors that must be live before the exam starts.
func (c *ProctoringConfig) RequiredDetectors() []DetectorType {
	seen := make(map[DetectorType]bool, len(c.Required))
	out := make([]DetectorType, 0, len(c.Required))
	for _, r := range c.Required {
		d := r.Detector()
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// PermissionDetectors lists the required detectors gated by a browser permission prompt.
func (c *ProctoringConfig) PermissionDetectors() []DetectorType {
	var out []DetectorType
	for _, d := range c.RequiredDetectors() {
		if d.RequiresDevicePermission() {
			out = append(out, d)
		}
	}
	return out
}

// SeverityFor returns the override for t if one is configured, else its default.
func (c *ProctoringConfig) SeverityFor(t EventType) Severity {
	if s, ok := c.SeverityOverrides[t]; ok && s.Valid() {
		return s
	}
	return t.DefaultSeverity()
}

// WithDefaults fills zero thresholds with the platform defaults.
func (c ProctoringConfig) WithDefaults() ProctoringConfig {
	d := DefaultThresholds()
	if c.Thresholds.FaceConfidenceMin == 0 {
		c.Thresholds.FaceConfidenceMin = d.FaceConfidenceMin
	}
	if c.Thresholds.TypingAnomalyScore == 0 {
		c.Thresholds.TypingAnomalyScore = d.TypingAnomalyScore
	}
	if c.Thresholds.MouseAnomalyScore == 0 {
		c.Thresholds.MouseAnomalyScore = d.MouseAnomalyScore
	}
	if c.Thresholds.NetworkLossRatio == 0 {
		c.Thresholds.NetworkLossRatio = d.NetworkLossRatio
	}
	return c
}

// Clone returns a deep copy.
func (c ProctoringConfig) Clone() ProctoringConfig {
	c.Required = append([]Requirement(nil), c.Required...)
	if c.SeverityOverrides != nil {
		o := make(map[EventType]Severity, len(c.SeverityOverrides))
		for k, v := range c.SeverityOverrides {
			o[k] = v
		}
		c.SeverityOverrides = o
	}
	return c
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// DebounceWindow returns the per-assessment window, or fallback when unset.
func (c *ProctoringConfig) DebounceWindow(fallback time.Duration) time.Duration {
	if c.DebounceWindowMs > 0 {
		return millis(c.DebounceWindowMs)
	}
	return fallback
}

// ReadinessTimeout returns the per-assessment readiness budget, or fallback.
func (c *ProctoringConfig) ReadinessTimeout(fallback time.Duration) time.Duration {
	if c.ReadinessTimeoutMs > 0 {
		return millis(c.ReadinessTimeoutMs)
	}
	return fallback
}

// DetectorTimeout returns the per-assessment silence budget, or fallback.
func (c *ProctoringConfig) DetectorTimeout(fallback time.Duration) time.Duration {
	if c.DetectorTimeoutMs > 0 {
		return millis(c.DetectorTimeoutMs)
	}
	return fallback
}

// AccumulationLimitOr returns the per-assessment limit, or fallback.
func (c *ProctoringConfig) AccumulationLimitOr(fallback int) int {
	if c.AccumulationLimit > 0 {
		return c.AccumulationLimit
	}
	return fallback
}
