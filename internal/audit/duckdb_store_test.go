// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

//go:build integration

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func openTestDuckDB(t *testing.T) *DuckDBStore {
	t.Helper()
	store, err := OpenDuckDBStore(context.Background(), "")
	if err != nil {
		t.Fatalf("OpenDuckDBStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDuckDBStore_SaveGetQuery(t *testing.T) {
	store := openTestDuckDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	events := []*Event{
		{
			ID: "e1", Timestamp: base, Type: EventTypeSessionTransition, Severity: SeverityInfo, Outcome: OutcomeSuccess,
			Actor: SupervisorActor("proctor1", "supervisor"), Target: &Target{ID: "s1", Type: "session"},
			Action: "resume", Description: "Session moved from paused to in_progress",
			Metadata: json.RawMessage(`{"from":"paused","to":"in_progress"}`), CorrelationID: "c1",
		},
		{
			ID: "e2", Timestamp: base.Add(time.Minute), Type: EventTypeAutoResponse, Severity: SeverityWarning, Outcome: OutcomeSuccess,
			Actor: SystemActor("escalation", "Escalation Engine"), Target: &Target{ID: "s1", Type: "session"},
			Action: "auto_response", Description: "Auto-response for multiple_faces",
		},
		{
			ID: "e3", Timestamp: base.Add(2 * time.Minute), Type: EventTypeAuthFailure, Severity: SeverityWarning, Outcome: OutcomeFailure,
			Actor: Actor{ID: "mallory", Type: "user"}, Source: Source{IPAddress: "10.0.0.1"},
			Action: "authenticate", Description: "Authentication failed: bad password",
		},
	}
	for _, e := range events {
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save %s: %v", e.ID, err)
		}
	}

	got, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Target == nil || got.Target.ID != "s1" || got.Actor.Role != "supervisor" || got.CorrelationID != "c1" {
		t.Errorf("Get = %+v", got)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}

	bySession, err := store.Query(ctx, QueryFilter{TargetID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySession) != 2 || bySession[0].ID != "e2" {
		t.Errorf("session query = %v", bySession)
	}

	n, err := store.Count(ctx, QueryFilter{Outcomes: []Outcome{OutcomeFailure}})
	if err != nil || n != 1 {
		t.Errorf("Count failures = %d, %v", n, err)
	}

	search, _ := store.Query(ctx, QueryFilter{SearchText: "MULTIPLE"})
	if len(search) != 1 || search[0].ID != "e2" {
		t.Errorf("search = %v", search)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 3 || stats.EventsByOutcome["failure"] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	deleted, err := store.Delete(ctx, base.Add(30*time.Second))
	if err != nil || deleted != 1 {
		t.Errorf("Delete = %d, %v", deleted, err)
	}
}
