// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package audit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/examwatch/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	Enabled bool `json:"enabled"`

	// LogLevel is the minimum severity written to the store.
	LogLevel Severity `json:"log_level"`

	RetentionDays   int           `json:"retention_days"`
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// BufferSize is the capacity of the async write channel.
	BufferSize int `json:"buffer_size"`

	// LogToStdout mirrors every event to the application log.
	LogToStdout  bool `json:"log_to_stdout"`
	IncludeDebug bool `json:"include_debug"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
	}
}

// Logger is the audit logging service.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	mu        sync.RWMutex
	stopChan  chan struct{}
	stopOnce  sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup
	dropped   atomic.Int64
}

// NewLogger creates an audit logger and starts its writer goroutine.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if config.LogToStdout {
		data, err := json.Marshal(event)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to marshal audit event")
		} else {
			logging.Info().RawJSON("event", data).Msg("Audit event")
		}
	}

	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, event); err != nil {
		logging.Error().Err(err).Str("event_id", event.ID).Str("type", string(event.Type)).Msg("Failed to save audit event")
	}
}

// Log records an audit event. It never blocks.
func (l *Logger) Log(event *Event) {
	if l == nil || event == nil || l.closed.Load() {
		return
	}

	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if !config.Enabled || !shouldLog(event.Severity, config) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case l.eventChan <- event:
	default:
		l.dropped.Add(1)
		logging.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("Audit event buffer full, dropping event")
	}
}

func shouldLog(severity Severity, config *Config) bool {
	if severity == SeverityDebug && !config.IncludeDebug {
		return false
	}
	return severity.rank() >= config.LogLevel.rank()
}

// Dropped returns how many events were discarded because the buffer was full.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close drains the buffer and stops the writer. Safe to call more than once.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopChan)
	})
	l.wg.Wait()
	return nil
}

// Serve runs retention cleanup until ctx is cancelled. It implements
// suture.Service.
func (l *Logger) Serve(ctx context.Context) error {
	l.mu.RLock()
	interval := l.config.CleanupInterval
	retention := l.config.RetentionDays
	l.mu.RUnlock()

	if interval <= 0 || retention <= 0 || l.store == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retention)
			count, err := l.store.Delete(ctx, cutoff)
			if err != nil {
				logging.Error().Err(err).Msg("Audit cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
			}
		}
	}
}

func (l *Logger) String() string { return "audit-retention" }

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return l.store.Count(ctx, filter)
}

// ErrStatsUnsupported is returned by Stats when the store keeps no summary.
var ErrStatsUnsupported = errors.New("audit store does not report statistics")

type statsStore interface {
	GetStats(ctx context.Context) (*Stats, error)
}

// Stats summarizes the stored trail.
func (l *Logger) Stats(ctx context.Context) (*Stats, error) {
	s, ok := l.store.(statsStore)
	if !ok {
		return nil, ErrStatsUnsupported
	}
	return s.GetStats(ctx)
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Enabled = enabled
}

// Enabled returns whether audit logging is enabled.
func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}

func sessionTarget(sessionID string) *Target {
	return &Target{ID: sessionID, Type: "session"}
}

// LogTransition records a lifecycle state change.
func (l *Logger) LogTransition(ctx context.Context, actor Actor, sessionID, from, to, trigger string) {
	l.Log(&Event{
		Type:        EventTypeSessionTransition,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      sessionTarget(sessionID),
		Action:      trigger,
		Description: "Session moved from " + from + " to " + to,
		Metadata: mustJSON(map[string]string{
			"from":    from,
			"to":      to,
			"trigger": trigger,
		}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		RequestID:     getRequestID(ctx),
	})
}

// LogTransitionRejected records a trigger that had no edge from the current state.
func (l *Logger) LogTransitionRejected(ctx context.Context, actor Actor, sessionID, state, trigger string) {
	l.Log(&Event{
		Type:        EventTypeTransitionRejected,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       actor,
		Target:      sessionTarget(sessionID),
		Action:      trigger,
		Description: "Trigger " + trigger + " rejected in state " + state,
		Metadata: mustJSON(map[string]string{
			"state":   state,
			"trigger": trigger,
		}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		RequestID:     getRequestID(ctx),
	})
}

// LogFlag records a visible flag on a session.
func (l *Logger) LogFlag(ctx context.Context, actor Actor, sessionID, reason string) {
	l.Log(&Event{
		Type:          EventTypeSessionFlagged,
		Severity:      SeverityWarning,
		Outcome:       OutcomeSuccess,
		Actor:         actor,
		Target:        sessionTarget(sessionID),
		Action:        "flag",
		Description:   "Session flagged: " + reason,
		Metadata:      mustJSON(map[string]string{"reason": reason}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		RequestID:     getRequestID(ctx),
	})
}

// LogMonitoringStopped records cancellation of a session's monitoring.
func (l *Logger) LogMonitoringStopped(ctx context.Context, actor Actor, sessionID, reason string) {
	l.Log(&Event{
		Type:          EventTypeMonitoringStopped,
		Severity:      SeverityInfo,
		Outcome:       OutcomeSuccess,
		Actor:         actor,
		Target:        sessionTarget(sessionID),
		Action:        "stop_monitoring",
		Description:   "Monitoring stopped: " + reason,
		Metadata:      mustJSON(map[string]string{"reason": reason}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		RequestID:     getRequestID(ctx),
	})
}

// LogPermissionDenied records a refused device permission.
func (l *Logger) LogPermissionDenied(ctx context.Context, sessionID, detector string, at time.Time) {
	l.Log(&Event{
		Type:        EventTypePermissionDenied,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       ParticipantActor(sessionID),
		Target:      sessionTarget(sessionID),
		Action:      "grant_permission",
		Description: "Permission denied for " + detector,
		Metadata: mustJSON(map[string]interface{}{
			"detector": detector,
			"at":       at,
		}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		RequestID:     getRequestID(ctx),
	})
}

// AutoResponse describes what the escalation engine did for one security event.
type AutoResponse struct {
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Severity  string    `json:"severity"`
	Sequence  uint64    `json:"sequence"`
	Detector  string    `json:"detector,omitempty"`
	Actions   []string  `json:"actions"`
	Response  string    `json:"response,omitempty"`
	Stale     bool      `json:"stale,omitempty"`
	At        time.Time `json:"at"`
}

// LogAutoResponse records an automatic escalation response.
func (l *Logger) LogAutoResponse(ctx context.Context, r AutoResponse) {
	sev := SeverityInfo
	if r.Severity == "critical" || r.Severity == "high" {
		sev = SeverityWarning
	}
	desc := "Auto-response for " + r.EventType
	if r.Response != "" {
		desc += ": " + r.Response
	}
	l.Log(&Event{
		Type:          EventTypeAutoResponse,
		Severity:      sev,
		Outcome:       OutcomeSuccess,
		Actor:         SystemActor("escalation", "Escalation Engine"),
		Target:        sessionTarget(r.SessionID),
		Action:        "auto_response",
		Description:   desc,
		Metadata:      mustJSON(r),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	})
}

// LogDuplicateResponse records a rejected second response for an event.
func (l *Logger) LogDuplicateResponse(ctx context.Context, sessionID, eventID string) {
	l.Log(&Event{
		Type:          EventTypeDuplicateResponse,
		Severity:      SeverityInfo,
		Outcome:       OutcomeFailure,
		Actor:         SystemActor("escalation", "Escalation Engine"),
		Target:        sessionTarget(sessionID),
		Action:        "auto_response",
		Description:   "Duplicate response rejected for event " + eventID,
		Metadata:      mustJSON(map[string]string{"event_id": eventID}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	})
}

// LogModeChange records a monitoring mode transition.
func (l *Logger) LogModeChange(ctx context.Context, from, to string, version uint64, reason string) {
	l.Log(&Event{
		Type:        EventTypeModeChanged,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       SystemActor("coordinator", "Monitoring Coordinator"),
		Target:      &Target{ID: "monitoring_mode", Type: "config"},
		Action:      "set_mode",
		Description: "Monitoring mode " + from + " -> " + to + ": " + reason,
		Metadata: mustJSON(map[string]interface{}{
			"from":    from,
			"to":      to,
			"version": version,
			"reason":  reason,
		}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	})
}

// LogAuthSuccess logs a successful login.
func (l *Logger) LogAuthSuccess(ctx context.Context, actor Actor, source Source) {
	l.Log(&Event{
		Type:        EventTypeAuthSuccess,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Source:      source,
		Action:      "authenticate",
		Description: "Supervisor authenticated",
		RequestID:   getRequestID(ctx),
	})
}

// LogAuthFailure logs a failed login attempt.
func (l *Logger) LogAuthFailure(ctx context.Context, username string, source Source, reason string) {
	l.Log(&Event{
		Type:        EventTypeAuthFailure,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       Actor{ID: username, Type: "user", Name: username},
		Source:      source,
		Action:      "authenticate",
		Description: "Authentication failed: " + reason,
		Metadata:    mustJSON(map[string]string{"reason": reason}),
		RequestID:   getRequestID(ctx),
	})
}

// LogAuthzDenied logs an authorization denial.
func (l *Logger) LogAuthzDenied(ctx context.Context, actor Actor, source Source, resource, action string) {
	l.Log(&Event{
		Type:        EventTypeAuthzDenied,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       actor,
		Source:      source,
		Action:      "authorize",
		Target:      &Target{ID: resource, Type: "resource"},
		Description: "Authorization denied for " + action + " on " + resource,
		Metadata: mustJSON(map[string]string{
			"resource":         resource,
			"requested_action": action,
		}),
		RequestID: getRequestID(ctx),
	})
}

// LogConfigChange logs a proctoring configuration change.
func (l *Logger) LogConfigChange(ctx context.Context, actor Actor, source Source, assessmentID string, config interface{}) {
	l.Log(&Event{
		Type:        EventTypeConfigChanged,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Source:      source,
		Action:      "update",
		Target:      &Target{ID: assessmentID, Type: "assessment"},
		Description: "Proctoring configuration changed for " + assessmentID,
		Metadata:    mustJSON(config),
		RequestID:   getRequestID(ctx),
	})
}

// LogAdminAction logs a supervisor action against a session.
func (l *Logger) LogAdminAction(ctx context.Context, actor Actor, source Source, sessionID, action, description string) {
	l.Log(&Event{
		Type:          EventTypeAdminAction,
		Severity:      SeverityWarning,
		Outcome:       OutcomeSuccess,
		Actor:         actor,
		Source:        source,
		Target:        sessionTarget(sessionID),
		Action:        action,
		Description:   description,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		RequestID:     getRequestID(ctx),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

type contextKey string

// RequestIDKey is the context key for the HTTP request ID.
const RequestIDKey contextKey = "request_id"

func getRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// SourceFromRequest creates a Source from an HTTP request.
func SourceFromRequest(r *http.Request) Source {
	ip := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = xff
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}
	return Source{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Hostname:  r.Host,
	}
}

// SystemActor identifies an internal component.
func SystemActor(id, name string) Actor {
	return Actor{ID: id, Type: "system", Name: name}
}

// SupervisorActor identifies an authenticated supervisor.
func SupervisorActor(username, role string) Actor {
	return Actor{ID: username, Type: "user", Name: username, Role: role}
}

// ParticipantActor identifies the test-taker of a session.
func ParticipantActor(sessionID string) Actor {
	return Actor{ID: sessionID, Type: "participant"}
}
