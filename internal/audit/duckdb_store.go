// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"

	"github.com/tomtom215/examwatch/internal/logging"
)

// DuckDBStore persists audit events in a DuckDB database.
type DuckDBStore struct {
	db     *sql.DB
	owned  bool
	mu     sync.RWMutex
	closed bool
}

// NewDuckDBStore wraps an existing connection. The caller owns db and must
// call CreateTable before use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// OpenDuckDBStore opens (or creates) the database file at path and ensures
// the schema exists. An empty path opens an in-memory database.
func OpenDuckDBStore(ctx context.Context, path string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database %s: %w", path, err)
	}
	// DuckDB allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	s := &DuckDBStore{db: db, owned: true}
	if err := s.CreateTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Info().Str("path", path).Msg("Audit store opened")
	return s, nil
}

// Close releases the connection if the store opened it.
func (s *DuckDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.owned {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// CreateTable creates the audit_events table and its indexes if missing.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			outcome TEXT NOT NULL,

			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_name TEXT,
			actor_role TEXT,

			target_id TEXT,
			target_type TEXT,
			target_name TEXT,

			source_ip TEXT,
			source_user_agent TEXT,
			source_hostname TEXT,

			action TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata JSON,

			correlation_id TEXT,
			request_id TEXT,

			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type);
		CREATE INDEX IF NOT EXISTS idx_audit_actor_id ON audit_events(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_target_id ON audit_events(target_id);
		CREATE INDEX IF NOT EXISTS idx_audit_correlation_id ON audit_events(correlation_id);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute audit schema statement: %w", err)
		}
	}
	return nil
}

const insertAuditEvent = `
	INSERT INTO audit_events (
		id, timestamp, type, severity, outcome,
		actor_id, actor_type, actor_name, actor_role,
		target_id, target_type, target_name,
		source_ip, source_user_agent, source_hostname,
		action, description, metadata,
		correlation_id, request_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Save persists an audit event.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var targetID, targetType, targetName *string
	if event.Target != nil {
		targetID, targetType, targetName = &event.Target.ID, &event.Target.Type, &event.Target.Name
	}
	var metadata *string
	if len(event.Metadata) > 0 {
		m := string(event.Metadata)
		metadata = &m
	}

	_, err := s.db.ExecContext(ctx, insertAuditEvent,
		event.ID, event.Timestamp, string(event.Type), string(event.Severity), string(event.Outcome),
		event.Actor.ID, event.Actor.Type, event.Actor.Name, event.Actor.Role,
		targetID, targetType, targetName,
		event.Source.IPAddress, event.Source.UserAgent, event.Source.Hostname,
		event.Action, event.Description, metadata,
		event.CorrelationID, event.RequestID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

const selectAuditEvents = `
	SELECT
		id, timestamp, type, severity, outcome,
		actor_id, actor_type, actor_name, actor_role,
		target_id, target_type, target_name,
		source_ip, source_user_agent, source_hostname,
		action, description,
		CAST(metadata AS VARCHAR) AS metadata,
		correlation_id, request_id
	FROM audit_events
`

// Get retrieves an event by ID.
func (s *DuckDBStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectAuditEvents+" WHERE id = ?", id)
	var data scannedEvent
	if err := row.Scan(data.destinations()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	return data.toEvent(), nil
}

// Query retrieves events matching the filter.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var data scannedEvent
		if err := rows.Scan(data.destinations()...); err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit event row")
			continue
		}
		events = append(events, *data.toEvent())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, true)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return count, nil
}

// GetStats summarizes the stored events.
func (s *DuckDBStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	var err error
	if stats.EventsByType, err = s.countByColumn(ctx, "type"); err != nil {
		return nil, err
	}
	if stats.EventsBySeverity, err = s.countByColumn(ctx, "severity"); err != nil {
		return nil, err
	}
	if stats.EventsByOutcome, err = s.countByColumn(ctx, "outcome"); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM audit_events").Scan(&oldest, &newest); err == nil {
		if oldest.Valid {
			stats.OldestEvent = &oldest.Time
		}
		if newest.Valid {
			stats.NewestEvent = &newest.Time
		}
	}
	return stats, nil
}

// countByColumn runs a GROUP BY on a fixed, non-user-supplied column.
func (s *DuckDBStore) countByColumn(ctx context.Context, column string) (map[string]int64, error) {
	result := make(map[string]int64)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events GROUP BY %s", column, column))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s counts: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err == nil {
			result[key] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return result, nil
}

func buildSliceCondition[T ~string](column string, values []T, args *[]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

var orderableColumns = map[string]bool{
	"timestamp": true, "type": true, "severity": true,
	"outcome": true, "actor_id": true, "created_at": true,
}

func buildQuery(filter QueryFilter, countOnly bool) (string, []interface{}) {
	var args []interface{}
	var conditions []string

	for _, cond := range []string{
		buildSliceCondition("type", filter.Types, &args),
		buildSliceCondition("severity", filter.Severities, &args),
		buildSliceCondition("outcome", filter.Outcomes, &args),
	} {
		if cond != "" {
			conditions = append(conditions, cond)
		}
	}

	for _, eq := range []struct{ column, value string }{
		{"actor_id", filter.ActorID},
		{"actor_type", filter.ActorType},
		{"target_id", filter.TargetID},
		{"target_type", filter.TargetType},
		{"correlation_id", filter.CorrelationID},
	} {
		if eq.value != "" {
			conditions = append(conditions, eq.column+" = ?")
			args = append(args, eq.value)
		}
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filter.EndTime)
	}
	if filter.SearchText != "" {
		pattern := "%" + strings.ToLower(filter.SearchText) + "%"
		conditions = append(conditions, "(LOWER(description) LIKE ? OR LOWER(action) LIKE ?)")
		args = append(args, pattern, pattern)
	}

	query := selectAuditEvents
	if countOnly {
		query = "SELECT COUNT(*) FROM audit_events"
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if countOnly {
		return query, args
	}

	orderBy := "timestamp"
	if orderableColumns[filter.OrderBy] {
		orderBy = filter.OrderBy
	}
	direction := "ASC"
	if filter.OrderDesc || filter.OrderBy == "" {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderBy, direction)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return query, args
}

type scannedEvent struct {
	event      Event
	eventType  string
	severity   string
	outcome    string
	actorName  sql.NullString
	actorRole  sql.NullString
	targetID   sql.NullString
	targetType sql.NullString
	targetName sql.NullString
	sourceIP   sql.NullString
	userAgent  sql.NullString
	hostname   sql.NullString
	metadata   sql.NullString
	corrID     sql.NullString
	requestID  sql.NullString
}

func (d *scannedEvent) destinations() []interface{} {
	return []interface{}{
		&d.event.ID, &d.event.Timestamp, &d.eventType, &d.severity, &d.outcome,
		&d.event.Actor.ID, &d.event.Actor.Type, &d.actorName, &d.actorRole,
		&d.targetID, &d.targetType, &d.targetName,
		&d.sourceIP, &d.userAgent, &d.hostname,
		&d.event.Action, &d.event.Description,
		&d.metadata,
		&d.corrID, &d.requestID,
	}
}

func (d *scannedEvent) toEvent() *Event {
	e := d.event
	e.Type = EventType(d.eventType)
	e.Severity = Severity(d.severity)
	e.Outcome = Outcome(d.outcome)
	e.Actor.Name = d.actorName.String
	e.Actor.Role = d.actorRole.String
	if d.targetID.Valid {
		e.Target = &Target{ID: d.targetID.String, Type: d.targetType.String, Name: d.targetName.String}
	}
	e.Source = Source{IPAddress: d.sourceIP.String, UserAgent: d.userAgent.String, Hostname: d.hostname.String}
	if d.metadata.Valid && d.metadata.String != "" {
		e.Metadata = json.RawMessage(d.metadata.String)
	}
	e.CorrelationID = d.corrID.String
	e.RequestID = d.requestID.String
	return &e
}
