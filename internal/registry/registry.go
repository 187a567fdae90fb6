// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package registry

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/examwatch/internal/metrics"
)

// Role is a registry participant's role.
type Role string

const (
	RoleExamTaker Role = "exam_taker"
	RoleWatcher   Role = "watcher"
)

// Entry is one registered participant. For watchers SessionID is the
// dashboard connection id.
type Entry struct {
	SessionID    string    `json:"session_id"`
	Role         Role      `json:"role"`
	AssessmentID string    `json:"assessment_id,omitempty"`
	Public       bool      `json:"public"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Counts summarizes the registry.
type Counts struct {
	PublicTakers  int `json:"public_takers"`
	PrivateTakers int `json:"private_takers"`
	Watchers      int `json:"watchers"`
}

// Total returns the number of entries.
func (c Counts) Total() int {
	return c.PublicTakers + c.PrivateTakers + c.Watchers
}

// ChangeListener is called after every Register or Unregister that changed
// the registry.
type ChangeListener func(e Entry, added bool)

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Registry is a sharded set of live entries, safe for concurrent use.
type Registry struct {
	shards []*shard
	now    func() time.Time

	lmu       sync.RWMutex
	listeners []ChangeListener
}

// New creates a registry with n shards (16 if n < 1).
func New(n int) *Registry {
	if n < 1 {
		n = 16
	}
	r := &Registry{shards: make([]*shard, n), now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// OnChange registers a listener.
func (r *Registry) OnChange(l ChangeListener) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(e Entry, added bool) {
	r.lmu.RLock()
	ls := append([]ChangeListener(nil), r.listeners...)
	r.lmu.RUnlock()
	for _, l := range ls {
		l(e, added)
	}
}

// Register adds or replaces e. It reports whether the id was new.
func (r *Registry) Register(e Entry) bool {
	if e.RegisteredAt.IsZero() {
		e.RegisteredAt = r.now().UTC()
	}
	s := r.shardFor(e.SessionID)
	s.mu.Lock()
	old, existed := s.entries[e.SessionID]
	s.entries[e.SessionID] = e
	s.mu.Unlock()

	if existed {
		gauge(old, -1)
	}
	gauge(e, 1)
	r.notify(e, true)
	return !existed
}

// Unregister removes id. It is idempotent and reports whether an entry was removed.
func (r *Registry) Unregister(id string) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	gauge(e, -1)
	r.notify(e, false)
	return true
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (Entry, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Counts returns current totals by role and visibility.
func (r *Registry) Counts() Counts {
	var c Counts
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			switch {
			case e.Role == RoleWatcher:
				c.Watchers++
			case e.Public:
				c.PublicTakers++
			default:
				c.PrivateTakers++
			}
		}
		s.mu.RUnlock()
	}
	return c
}

// Entries returns up to limit entries (all if limit <= 0) after skipping
// offset, ordered by registration time then id.
func (r *Registry) Entries(offset, limit int) []Entry {
	all := r.snapshot()
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// IDs returns the ids registered with role, sorted.
func (r *Registry) IDs(role Role) []string {
	var out []string
	for _, s := range r.shards {
		s.mu.RLock()
		for id, e := range s.entries {
			if e.Role == role {
				out = append(out, id)
			}
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func (r *Registry) snapshot() []Entry {
	var all []Entry
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			all = append(all, e)
		}
		s.mu.RUnlock()
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].RegisteredAt.Equal(all[j].RegisteredAt) {
			return all[i].SessionID < all[j].SessionID
		}
		return all[i].RegisteredAt.Before(all[j].RegisteredAt)
	})
	return all
}

func gauge(e Entry, delta float64) {
	visibility := "private"
	if e.Public {
		visibility = "public"
	}
	metrics.RegistrySessions.WithLabelValues(string(e.Role), visibility).Add(delta)
}
