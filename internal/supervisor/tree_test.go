// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeService runs until cancelled, failing the first fails calls.
type fakeService struct {
	name   string
	starts atomic.Int32
	mu     sync.Mutex
	fails  int32
}

func (f *fakeService) Serve(ctx context.Context) error {
	n := f.starts.Add(1)
	f.mu.Lock()
	fails := f.fails
	f.mu.Unlock()
	if n <= fails {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeService) String() string { return f.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitStarts(t *testing.T, svc *fakeService, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("%s: expected %d starts, got %d", svc.name, n, svc.starts.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewTree(t *testing.T) {
	tests := []struct {
		name string
		in   TreeConfig
		want TreeConfig
	}{
		{"zero config takes defaults", TreeConfig{}, DefaultTreeConfig()},
		{
			"explicit values are kept",
			TreeConfig{FailureThreshold: 2, FailureDecay: 5, FailureBackoff: time.Second, ShutdownTimeout: 3 * time.Second},
			TreeConfig{FailureThreshold: 2, FailureDecay: 5, FailureBackoff: time.Second, ShutdownTimeout: 3 * time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := NewTree(quietLogger(), tt.in)
			if err != nil {
				t.Fatalf("NewTree: %v", err)
			}
			if tree.Root() == nil {
				t.Fatal("root supervisor is nil")
			}
			if tree.config != tt.want {
				t.Errorf("config = %+v, want %+v", tree.config, tt.want)
			}
		})
	}
}

func TestTree_RunsEveryLayer(t *testing.T) {
	tree, err := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	store := &fakeService{name: "session-store"}
	hub := &fakeService{name: "websocket-hub"}
	http := &fakeService{name: "http-server"}
	tree.AddDataService(store)
	tree.AddMessagingService(hub)
	tree.AddAPIService(http)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range []*fakeService{store, hub, http} {
		waitStarts(t, svc, 1)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}

	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("UnstoppedServiceReport: %v", err)
	}
	if len(report) != 0 {
		t.Errorf("expected all services stopped, got %v", report)
	}
}

func TestTree_RestartIsLayerLocal(t *testing.T) {
	tree, err := NewTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	router := &fakeService{name: "event-router", fails: 2}
	http := &fakeService{name: "http-server"}
	tree.AddMessagingService(router)
	tree.AddAPIService(http)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitStarts(t, router, 3)
	waitStarts(t, http, 1)
	if got := http.starts.Load(); got != 1 {
		t.Errorf("api layer restarted %d times for a messaging failure", got-1)
	}

	cancel()
	<-errCh
}
