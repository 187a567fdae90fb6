// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package services

import (
	"context"
)

// Runner is a component with a blocking, context-bound run loop.
//
// Satisfied by *websocket.Hub and *monitor.Sweeper.
type Runner interface {
	RunWithContext(ctx context.Context) error
}

// RunnerService supervises a Runner under a fixed name.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps runner. The name identifies it in supervisor logs.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// NewHubService wraps the websocket hub.
func NewHubService(hub Runner) *RunnerService {
	return NewRunnerService("websocket-hub", hub)
}

// NewSweeperService wraps the detector-timeout and expiry sweeper.
func NewSweeperService(sweeper Runner) *RunnerService {
	return NewRunnerService("proctoring-sweeper", sweeper)
}

// Serve implements suture.Service.
func (r *RunnerService) Serve(ctx context.Context) error {
	return r.runner.RunWithContext(ctx)
}

func (r *RunnerService) String() string {
	return r.name
}
