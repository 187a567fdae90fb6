// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package models

import "fmt"

// EventType is the closed taxonomy of security irregularities. Adding a
// value means extending every switch in this file.
type EventType string

const (
	EventTabSwitch          EventType = "tab_switch"
	EventFullscreenExit     EventType = "fullscreen_exit"
	EventCameraBlocked      EventType = "camera_blocked"
	EventMicMuted           EventType = "mic_muted"
	EventFaceNotDetected    EventType = "face_not_detected"
	EventMultipleFaces      EventType = "multiple_faces"
	EventSuspiciousTyping   EventType = "suspicious_typing"
	EventBotLikeMouse       EventType = "bot_like_mouse"
	EventNetworkInstability EventType = "network_instability"
	EventEnvironmentChange  EventType = "environment_change"
)

// AllEventTypes returns every member of the taxonomy.
func AllEventTypes() []EventType {
	return []EventType{
		EventTabSwitch, EventFullscreenExit, EventCameraBlocked, EventMicMuted,
		EventFaceNotDetected, EventMultipleFaces, EventSuspiciousTyping,
		EventBotLikeMouse, EventNetworkInstability, EventEnvironmentChange,
	}
}

// ParseEventType validates v against the taxonomy.
func ParseEventType(v string) (EventType, error) {
	t := EventType(v)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", v)
	}
	return t, nil
}

// Valid reports whether t belongs to the taxonomy.
func (t EventType) Valid() bool {
	return t.Class() != ""
}

// DetectorClass groups event types by what kind of evidence produced them.
type DetectorClass string

const (
	// ClassPresence covers camera, microphone and face checks.
	ClassPresence DetectorClass = "presence"
	// ClassFocus covers tab, fullscreen and environment lockdown checks.
	ClassFocus DetectorClass = "focus"
	// ClassBehavioral covers continuous typing and mouse-pattern analysis.
	// These are the checks shed first under load.
	ClassBehavioral DetectorClass = "behavioral"
	// ClassNetwork covers connectivity.
	ClassNetwork DetectorClass = "network"
)

// Class returns the detector class of t, or "" for unknown types.
func (t EventType) Class() DetectorClass {
	switch t {
	case EventCameraBlocked, EventMicMuted, EventFaceNotDetected, EventMultipleFaces:
		return ClassPresence
	case EventTabSwitch, EventFullscreenExit, EventEnvironmentChange:
		return ClassFocus
	case EventSuspiciousTyping, EventBotLikeMouse:
		return ClassBehavioral
	case EventNetworkInstability:
		return ClassNetwork
	default:
		return ""
	}
}

// DefaultSeverity is the severity used when no per-assessment override exists.
func (t EventType) DefaultSeverity() Severity {
	switch t {
	case EventMultipleFaces:
		return SeverityCritical
	case EventCameraBlocked, EventFaceNotDetected, EventBotLikeMouse:
		return SeverityHigh
	case EventTabSwitch, EventFullscreenExit, EventMicMuted, EventSuspiciousTyping, EventEnvironmentChange:
		return SeverityMedium
	case EventNetworkInstability:
		return SeverityLow
	default:
		return SeverityLow
	}
}

// Description is the human-readable summary attached to new events.
func (t EventType) Description() string {
	switch t {
	case EventTabSwitch:
		return "Participant switched away from the exam tab"
	case EventFullscreenExit:
		return "Participant left fullscreen mode"
	case EventCameraBlocked:
		return "Camera feed unavailable or blocked"
	case EventMicMuted:
		return "Microphone muted or unavailable"
	case EventFaceNotDetected:
		return "No face detected in camera feed"
	case EventMultipleFaces:
		return "Multiple faces detected in camera feed"
	case EventSuspiciousTyping:
		return "Typing pattern deviates from participant baseline"
	case EventBotLikeMouse:
		return "Mouse movement resembles automated input"
	case EventNetworkInstability:
		return "Network connection unstable"
	case EventEnvironmentChange:
		return "Exam environment changed"
	default:
		return string(t)
	}
}

// DetectorType identifies an external detector provider.
type DetectorType string

const (
	DetectorCamera        DetectorType = "camera"
	DetectorMicrophone    DetectorType = "microphone"
	DetectorScreenShare   DetectorType = "screen_share"
	DetectorTabVisibility DetectorType = "tab_visibility"
	DetectorFullscreen    DetectorType = "fullscreen"
	DetectorFaceDetection DetectorType = "face_detection"
	DetectorKeystroke     DetectorType = "keystroke"
	DetectorMouse         DetectorType = "mouse"
	DetectorNetwork       DetectorType = "network"
	DetectorEnvironment   DetectorType = "environment"
)

// AllDetectors lists every detector type.
func AllDetectors() []DetectorType {
	return []DetectorType{
		DetectorCamera, DetectorMicrophone, DetectorScreenShare, DetectorTabVisibility,
		DetectorFullscreen, DetectorFaceDetection, DetectorKeystroke, DetectorMouse,
		DetectorNetwork, DetectorEnvironment,
	}
}

// Valid reports whether d is a known detector.
func (d DetectorType) Valid() bool {
	return d.TimeoutEventType() != ""
}

// TimeoutEventType is the event raised when the detector stops reporting
// (no camera signal yields camera_blocked, and so on).
func (d DetectorType) TimeoutEventType() EventType {
	switch d {
	case DetectorCamera:
		return EventCameraBlocked
	case DetectorMicrophone:
		return EventMicMuted
	case DetectorScreenShare, DetectorEnvironment:
		return EventEnvironmentChange
	case DetectorTabVisibility:
		return EventTabSwitch
	case DetectorFullscreen:
		return EventFullscreenExit
	case DetectorFaceDetection:
		return EventFaceNotDetected
	case DetectorKeystroke:
		return EventSuspiciousTyping
	case DetectorMouse:
		return EventBotLikeMouse
	case DetectorNetwork:
		return EventNetworkInstability
	default:
		return ""
	}
}

// RequiresDevicePermission reports whether the participant's browser must
// grant access before the detector can run.
func (d DetectorType) RequiresDevicePermission() bool {
	switch d {
	case DetectorCamera, DetectorMicrophone, DetectorScreenShare:
		return true
	default:
		return false
	}
}
