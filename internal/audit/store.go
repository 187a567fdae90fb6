// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrEventNotFound is returned by Get for an unknown id.
var ErrEventNotFound = errors.New("audit event not found")

// MemoryStore keeps events in a bounded slice. Data is lost on restart.
type MemoryStore struct {
	events []Event
	mu     sync.RWMutex
	maxLen int
}

// NewMemoryStore creates an in-memory store holding at most maxLen events.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		events: make([]Event, 0, min(maxLen, 1024)),
		maxLen: maxLen,
	}
}

// Save appends an event, evicting the oldest tenth when full.
func (s *MemoryStore) Save(_ context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxLen {
		removeCount := max(s.maxLen/10, 1)
		s.events = append(s.events[:0], s.events[removeCount:]...)
	}
	s.events = append(s.events, *event)
	return nil
}

// Get retrieves an event by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		if s.events[i].ID == id {
			event := s.events[i]
			return &event, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
}

// Query returns matching events newest first unless filter.OrderDesc is
// false and OrderBy is set, in which case insertion order is kept.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ascending := filter.OrderBy != "" && !filter.OrderDesc
	results := make([]Event, 0)
	skipped := 0

	for n := 0; n < len(s.events); n++ {
		i := len(s.events) - 1 - n
		if ascending {
			i = n
		}
		event := s.events[i]
		if !matchesFilter(&event, &filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, event)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

func containsValue[T comparable](values []T, v T) bool {
	if len(values) == 0 {
		return true
	}
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

//nolint:gocyclo // one branch per filter field
func matchesFilter(event *Event, filter *QueryFilter) bool {
	if !containsValue(filter.Types, event.Type) ||
		!containsValue(filter.Severities, event.Severity) ||
		!containsValue(filter.Outcomes, event.Outcome) {
		return false
	}

	if filter.ActorID != "" && event.Actor.ID != filter.ActorID {
		return false
	}
	if filter.ActorType != "" && event.Actor.Type != filter.ActorType {
		return false
	}
	if filter.TargetID != "" && (event.Target == nil || event.Target.ID != filter.TargetID) {
		return false
	}
	if filter.TargetType != "" && (event.Target == nil || event.Target.Type != filter.TargetType) {
		return false
	}

	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}
	if filter.CorrelationID != "" && event.CorrelationID != filter.CorrelationID {
		return false
	}

	if filter.SearchText != "" {
		search := strings.ToLower(filter.SearchText)
		if !strings.Contains(strings.ToLower(event.Description), search) &&
			!strings.Contains(strings.ToLower(event.Action), search) {
			return false
		}
	}
	return true
}

// Count returns the number of events matching the filter.
func (s *MemoryStore) Count(_ context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for i := range s.events {
		if matchesFilter(&s.events[i], &filter) {
			count++
		}
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *MemoryStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for idx := range s.events {
		if s.events[idx].Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, s.events[idx])
	}
	s.events = kept
	return deleted, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// GetStats summarizes the stored events.
func (s *MemoryStore) GetStats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		TotalEvents:      int64(len(s.events)),
		EventsByType:     make(map[string]int64),
		EventsBySeverity: make(map[string]int64),
		EventsByOutcome:  make(map[string]int64),
	}
	for idx := range s.events {
		event := &s.events[idx]
		stats.EventsByType[string(event.Type)]++
		stats.EventsBySeverity[string(event.Severity)]++
		stats.EventsByOutcome[string(event.Outcome)]++

		if stats.OldestEvent == nil || event.Timestamp.Before(*stats.OldestEvent) {
			t := event.Timestamp
			stats.OldestEvent = &t
		}
		if stats.NewestEvent == nil || event.Timestamp.After(*stats.NewestEvent) {
			t := event.Timestamp
			stats.NewestEvent = &t
		}
	}
	return stats, nil
}

// Exporter renders events for download.
type Exporter interface {
	Export(events []Event) ([]byte, error)
	ContentType() string
}

// JSONExporter exports events as an indented JSON array.
type JSONExporter struct{}

func (e *JSONExporter) Export(events []Event) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

func (e *JSONExporter) ContentType() string { return "application/json" }

// CEFExporter exports events in Common Event Format for SIEM ingestion.
type CEFExporter struct {
	DeviceVendor  string
	DeviceProduct string
	DeviceVersion string
}

// NewCEFExporter creates a CEF exporter with ExamWatch device fields.
func NewCEFExporter() *CEFExporter {
	return &CEFExporter{
		DeviceVendor:  "ExamWatch",
		DeviceProduct: "LiveProctoring",
		DeviceVersion: "1.0",
	}
}

func (e *CEFExporter) ContentType() string { return "text/plain; charset=utf-8" }

// Export renders one CEF line per event:
// CEF:Version|Vendor|Product|Version|SignatureID|Name|Severity|Extension
func (e *CEFExporter) Export(events []Event) ([]byte, error) {
	lines := make([]string, 0, len(events))
	for idx := range events {
		event := &events[idx]
		lines = append(lines, fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
			cefEscape(e.DeviceVendor),
			cefEscape(e.DeviceProduct),
			cefEscape(e.DeviceVersion),
			cefEscape(string(event.Type)),
			cefEscape(event.Description),
			cefSeverity(event.Severity),
			cefExtension(event),
		))
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func cefSeverity(severity Severity) int {
	switch severity {
	case SeverityDebug:
		return 0
	case SeverityInfo:
		return 3
	case SeverityWarning:
		return 5
	case SeverityError:
		return 7
	case SeverityCritical:
		return 10
	default:
		return 0
	}
}

func cefExtension(event *Event) string {
	parts := []string{fmt.Sprintf("rt=%d", event.Timestamp.UnixMilli())}
	if event.Actor.ID != "" {
		parts = append(parts, "suser="+cefEscape(event.Actor.Name), "suid="+cefEscape(event.Actor.ID))
	}
	if event.Source.IPAddress != "" {
		parts = append(parts, "src="+cefEscape(event.Source.IPAddress))
	}
	if event.Target != nil {
		parts = append(parts, "duid="+cefEscape(event.Target.ID), "cs1Label=targetType", "cs1="+cefEscape(event.Target.Type))
	}
	parts = append(parts, "act="+cefEscape(event.Action), "outcome="+cefEscape(string(event.Outcome)))
	if event.RequestID != "" {
		parts = append(parts, "externalId="+cefEscape(event.RequestID))
	}
	return strings.Join(parts, " ")
}

func cefEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
