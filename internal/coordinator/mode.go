// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package coordinator

import (
	"fmt"
	"time"
)

// Mode is the process-wide monitoring intensity.
type Mode string

const (
	ModeNormal       Mode = "normal"
	ModeResourceSafe Mode = "resource_safe"
	ModeMinimal      Mode = "minimal"
)

// Level orders modes by degradation: 0 normal, 1 resource_safe, 2 minimal.
func (m Mode) Level() int {
	switch m {
	case ModeResourceSafe:
		return 1
	case ModeMinimal:
		return 2
	default:
		return 0
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeResourceSafe, ModeMinimal:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown monitoring mode %q", s)
}

// SummaryLevel controls how much of a session view dashboards receive.
type SummaryLevel string

const (
	SummaryFull    SummaryLevel = "full"
	SummaryReduced SummaryLevel = "reduced"
	SummaryIDsOnly SummaryLevel = "ids_only"
)

// Profile is the cadence and payload budget attached to a mode.
type Profile struct {
	PollInterval         time.Duration `json:"poll_interval"`
	MaxSessionsPerPass   int           `json:"max_sessions_per_pass"`
	AnomalyCheckInterval time.Duration `json:"anomaly_check_interval"`
	AnomalyChecksEnabled bool          `json:"anomaly_checks_enabled"`
	Summary              SummaryLevel  `json:"summary"`
}

// Profile returns the fixed profile for m.
func (m Mode) Profile() Profile {
	switch m {
	case ModeResourceSafe:
		return Profile{
			PollInterval:         10 * time.Second,
			MaxSessionsPerPass:   100,
			AnomalyCheckInterval: 30 * time.Second,
			AnomalyChecksEnabled: true,
			Summary:              SummaryReduced,
		}
	case ModeMinimal:
		return Profile{
			PollInterval:       30 * time.Second,
			MaxSessionsPerPass: 25,
			Summary:            SummaryIDsOnly,
		}
	default:
		return Profile{
			PollInterval:         2 * time.Second,
			MaxSessionsPerPass:   500,
			AnomalyCheckInterval: 5 * time.Second,
			AnomalyChecksEnabled: true,
			Summary:              SummaryFull,
		}
	}
}

// ModeState is an immutable, versioned snapshot of the monitoring mode.
// Consumers read it before every unit of work and never cache it.
type ModeState struct {
	Mode      Mode      `json:"mode"`
	Version   uint64    `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason"`
}

// Profile returns the profile of the snapshot's mode.
func (s ModeState) Profile() Profile {
	return s.Mode.Profile()
}

// ModeReader is the narrow accessor handed to mode consumers.
type ModeReader interface {
	Mode() ModeState
}

// FixedMode is a ModeReader that never changes, for components running
// without a coordinator.
type FixedMode Mode

// Mode implements ModeReader.
func (f FixedMode) Mode() ModeState {
	return ModeState{Mode: Mode(f)}
}

// PollInterval implements eventprocessor.CadenceSource.
func (f FixedMode) PollInterval() time.Duration {
	return Mode(f).Profile().PollInterval
}
