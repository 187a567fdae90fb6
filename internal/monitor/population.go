// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package monitor

import (
	"context"

	"github.com/tomtom215/examwatch/internal/coordinator"
	"github.com/tomtom215/examwatch/internal/registry"
)

// Population exposes the registry to the coordinator.
type Population struct {
	reg *registry.Registry
}

// NewPopulation wraps reg.
func NewPopulation(reg *registry.Registry) *Population {
	return &Population{reg: reg}
}

// Entries returns one page of registry entries.
func (p *Population) Entries(ctx context.Context, offset, limit int) ([]coordinator.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := p.reg.Entries(offset, limit)
	out := make([]coordinator.Member, len(entries))
	for i, e := range entries {
		out[i] = coordinator.Member{
			SessionID: e.SessionID,
			Watcher:   e.Role == registry.RoleWatcher,
			Public:    e.Public,
		}
	}
	return out, nil
}

// Census returns the registry's maintained counters.
func (p *Population) Census(ctx context.Context) (coordinator.Census, error) {
	if err := ctx.Err(); err != nil {
		return coordinator.Census{}, err
	}
	c := p.reg.Counts()
	return coordinator.Census{
		PublicTakers:  c.PublicTakers,
		PrivateTakers: c.PrivateTakers,
		Watchers:      c.Watchers,
	}, nil
}

// Remove unregisters a stale entry.
func (p *Population) Remove(sessionID string) bool {
	return p.reg.Unregister(sessionID)
}
