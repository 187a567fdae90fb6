// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockRunner struct {
	err  error
	runs atomic.Int32
}

func (m *mockRunner) RunWithContext(ctx context.Context) error {
	m.runs.Add(1)
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerService_Interface(t *testing.T) {
	var _ suture.Service = (*RunnerService)(nil)
}

func TestRunnerService_Names(t *testing.T) {
	tests := []struct {
		svc  *RunnerService
		want string
	}{
		{NewHubService(&mockRunner{}), "websocket-hub"},
		{NewSweeperService(&mockRunner{}), "proctoring-sweeper"},
		{NewRunnerService("custom", &mockRunner{}), "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.svc.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunnerService_Serve(t *testing.T) {
	t.Run("returns context error on cancellation", func(t *testing.T) {
		r := &mockRunner{}
		svc := NewSweeperService(r)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return after cancellation")
		}
		if r.runs.Load() != 1 {
			t.Errorf("expected 1 run, got %d", r.runs.Load())
		}
	})

	t.Run("propagates runner errors", func(t *testing.T) {
		want := errors.New("hub failed")
		svc := NewHubService(&mockRunner{err: want})
		if err := svc.Serve(context.Background()); !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})
}

func TestRunnerService_RestartedBySupervisor(t *testing.T) {
	r := &mockRunner{err: errors.New("crash")}
	sup := suture.New("test-sup", suture.Spec{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          100 * time.Millisecond,
	})
	sup.Add(NewSweeperService(r))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(250 * time.Millisecond)
	for r.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.runs.Load() < 2 {
		t.Errorf("expected restart after failure, got %d runs", r.runs.Load())
	}
	cancel()
	<-errCh
}
