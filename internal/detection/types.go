// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package detection

import (
	"errors"
	"time"

	"github.com/tomtom215/examwatch/internal/models"
)

var (
	// ErrDetectorTimeout marks events raised because a required detector
	// went silent. It never aborts an attempt.
	ErrDetectorTimeout = errors.New("detector timeout")
	// ErrUnknownSession is returned for signals of sessions that are not tracked.
	ErrUnknownSession = errors.New("session not tracked by classifier")
	// ErrUnknownDetector is returned for detector types outside the taxonomy.
	ErrUnknownDetector = errors.New("unknown detector type")
)

// Reading is a detector's raw output. Active is true when the detector
// reports its healthy condition.
type Reading struct {
	Active     bool    `json:"active"`
	Score      float64 `json:"score,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Count      int     `json:"count,omitempty"`
}

// Signal is one detector observation for a session.
type Signal struct {
	SessionID string              `json:"session_id"`
	Detector  models.DetectorType `json:"detector"`
	Reading   Reading             `json:"reading"`
	Timestamp time.Time           `json:"timestamp"`
	Origin    string              `json:"origin,omitempty"`
}

// Outcome is the classifier's decision for a signal.
type Outcome string

const (
	OutcomeEmitted     Outcome = "emitted"
	OutcomeCoalesced   Outcome = "coalesced"
	OutcomeSkippedMode Outcome = "skipped_mode"
	OutcomeIgnored     Outcome = "ignored"
)

// EventTypeFor maps a reading to the violation it indicates. ok is false for
// healthy readings.
func EventTypeFor(d models.DetectorType, r Reading, th models.Thresholds) (models.EventType, bool) {
	switch d {
	case models.DetectorCamera:
		return models.EventCameraBlocked, !r.Active
	case models.DetectorMicrophone:
		return models.EventMicMuted, !r.Active
	case models.DetectorScreenShare:
		return models.EventEnvironmentChange, !r.Active
	case models.DetectorEnvironment:
		return models.EventEnvironmentChange, !r.Active
	case models.DetectorTabVisibility:
		return models.EventTabSwitch, !r.Active
	case models.DetectorFullscreen:
		return models.EventFullscreenExit, !r.Active
	case models.DetectorFaceDetection:
		faces := r.Count
		if faces == 0 && r.Active {
			// Boolean-only providers report presence without a count.
			faces = 1
		}
		switch {
		case faces > 1:
			return models.EventMultipleFaces, true
		case faces == 0:
			return models.EventFaceNotDetected, true
		case r.Confidence > 0 && r.Confidence < th.FaceConfidenceMin:
			return models.EventFaceNotDetected, true
		}
		return models.EventFaceNotDetected, false
	case models.DetectorKeystroke:
		return models.EventSuspiciousTyping, r.Score >= th.TypingAnomalyScore
	case models.DetectorMouse:
		return models.EventBotLikeMouse, r.Score >= th.MouseAnomalyScore
	case models.DetectorNetwork:
		return models.EventNetworkInstability, !r.Active || r.Score >= th.NetworkLossRatio
	}
	return "", false
}

func describe(t models.EventType, r Reading) map[string]interface{} {
	ev := map[string]interface{}{"active": r.Active}
	switch t.Class() {
	case models.ClassBehavioral:
		ev["score"] = r.Score
	case models.ClassPresence:
		if r.Count > 0 || r.Confidence > 0 {
			ev["faces"] = r.Count
			ev["confidence"] = r.Confidence
		}
	case models.ClassNetwork:
		ev["loss_ratio"] = r.Score
	}
	return ev
}
