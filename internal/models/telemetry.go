// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// MeasurementStatus distinguishes a reported value from an absent one.
type MeasurementStatus string

const (
	// StatusAvailable means Value holds a reported reading.
	StatusAvailable MeasurementStatus = "available"
	// StatusUnknown means nothing has been reported yet.
	StatusUnknown MeasurementStatus = "unknown"
	// StatusUnavailable means the client reported it cannot measure this.
	StatusUnavailable MeasurementStatus = "unavailable"
)

// Measurement is a telemetry reading that may be absent. Absent readings are
// never filled with placeholder values.
type Measurement[T any] struct {
	Value  T
	Status MeasurementStatus
}

// Known wraps a reported value.
func Known[T any](v T) Measurement[T] {
	return Measurement[T]{Value: v, Status: StatusAvailable}
}

// Unknown returns a measurement with no data.
func Unknown[T any]() Measurement[T] {
	return Measurement[T]{Status: StatusUnknown}
}

// Unavailable returns a measurement the client cannot provide.
func Unavailable[T any]() Measurement[T] {
	return Measurement[T]{Status: StatusUnavailable}
}

// Available reports whether Value is meaningful.
func (m Measurement[T]) Available() bool {
	return m.Status == StatusAvailable
}

// Get returns the value and whether it is available.
func (m Measurement[T]) Get() (T, bool) {
	return m.Value, m.Available()
}

type measurementJSON[T any] struct {
	Value  *T                `json:"value,omitempty"`
	Status MeasurementStatus `json:"status"`
}

// MarshalJSON omits the value unless it is available.
func (m Measurement[T]) MarshalJSON() ([]byte, error) {
	w := measurementJSON[T]{Status: m.Status}
	if w.Status == "" {
		w.Status = StatusUnknown
	}
	if m.Available() {
		v := m.Value
		w.Value = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Measurement[T]) UnmarshalJSON(data []byte) error {
	var w measurementJSON[T]
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var zero T
	m.Value = zero
	m.Status = w.Status
	switch {
	case w.Status == StatusAvailable && w.Value != nil:
		m.Value = *w.Value
	case w.Status == StatusAvailable:
		m.Status = StatusUnknown
	case w.Status == "":
		m.Status = StatusUnknown
	}
	return nil
}

// Telemetry is raw client-side context surfaced on dashboards.
type Telemetry struct {
	// ConnectionStability is the fraction of heartbeats received, 0..1.
	ConnectionStability Measurement[float64] `json:"connection_stability"`
	// Battery is the remaining charge percentage.
	Battery Measurement[float64] `json:"battery"`
	// DeviceClass is desktop, laptop, tablet or phone.
	DeviceClass Measurement[string] `json:"device_class"`
	// NetworkQuality is a coarse label such as good, fair or poor.
	NetworkQuality Measurement[string] `json:"network_quality"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// UnknownTelemetry returns telemetry with every field unknown.
func UnknownTelemetry() Telemetry {
	return Telemetry{
		ConnectionStability: Unknown[float64](),
		Battery:             Unknown[float64](),
		DeviceClass:         Unknown[string](),
		NetworkQuality:      Unknown[string](),
	}
}

// Merge overlays the measurements in update that carry a status, keeping the
// current value for fields the update does not mention.
func (t Telemetry) Merge(update Telemetry) Telemetry {
	if update.ConnectionStability.Status != "" {
		t.ConnectionStability = update.ConnectionStability
	}
	if update.Battery.Status != "" {
		t.Battery = update.Battery
	}
	if update.DeviceClass.Status != "" {
		t.DeviceClass = update.DeviceClass
	}
	if update.NetworkQuality.Status != "" {
		t.NetworkQuality = update.NetworkQuality
	}
	if !update.UpdatedAt.IsZero() {
		t.UpdatedAt = update.UpdatedAt
	}
	return t
}
