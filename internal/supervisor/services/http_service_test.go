// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	block       bool

	listens   atomic.Int32
	shutdowns atomic.Int32
	started   chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
}

func newMockHTTPServer(block bool) *mockHTTPServer {
	return &mockHTTPServer{
		block:   block,
		started: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.listens.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	if m.block {
		<-m.stop
		return http.ErrServerClosed
	}
	return nil
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	m.stopOnce.Do(func() { close(m.stop) })
	return m.shutdownErr
}

func TestHTTPServerService_Interface(t *testing.T) {
	var _ suture.Service = (*HTTPServerService)(nil)
	var _ HTTPServer = (*http.Server)(nil)
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		svc := NewHTTPServerService(newMockHTTPServer(false), d)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("timeout %v: expected default 10s, got %v", d, svc.shutdownTimeout)
		}
	}
	if NewHTTPServerService(newMockHTTPServer(false), time.Second).String() != "http-server" {
		t.Error("unexpected service name")
	}
}

func TestHTTPServerService_Serve(t *testing.T) {
	t.Run("graceful shutdown on cancellation", func(t *testing.T) {
		srv := newMockHTTPServer(true)
		svc := NewHTTPServerService(srv, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		select {
		case <-srv.started:
		case <-time.After(time.Second):
			t.Fatal("server did not start")
		}
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		if srv.shutdowns.Load() != 1 {
			t.Errorf("expected 1 shutdown, got %d", srv.shutdowns.Load())
		}
	})

	t.Run("startup failure is returned", func(t *testing.T) {
		want := errors.New("bind: address already in use")
		srv := newMockHTTPServer(false)
		srv.listenErr = want
		err := NewHTTPServerService(srv, time.Second).Serve(context.Background())
		if !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})

	t.Run("shutdown failure is returned", func(t *testing.T) {
		want := errors.New("drain timeout")
		srv := newMockHTTPServer(true)
		srv.shutdownErr = want
		svc := NewHTTPServerService(srv, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()
		<-srv.started
		cancel()

		if err := <-errCh; !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})
}
