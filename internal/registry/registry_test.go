// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := New(4)

	if !r.Register(Entry{SessionID: "s1", Role: RoleExamTaker, Public: true}) {
		t.Error("first Register should report new")
	}
	if r.Register(Entry{SessionID: "s1", Role: RoleExamTaker, Public: true}) {
		t.Error("re-register should not report new")
	}
	r.Register(Entry{SessionID: "s2", Role: RoleExamTaker})
	r.Register(Entry{SessionID: "w1", Role: RoleWatcher})

	want := Counts{PublicTakers: 1, PrivateTakers: 1, Watchers: 1}
	if got := r.Counts(); got != want {
		t.Errorf("Counts = %+v, want %+v", got, want)
	}

	if !r.Unregister("s1") {
		t.Error("Unregister should report removal")
	}
	if r.Unregister("s1") {
		t.Error("second Unregister should be a no-op")
	}
	if r.Counts().PublicTakers != 0 || r.Len() != 2 {
		t.Errorf("after unregister: %+v len=%d", r.Counts(), r.Len())
	}

	ids := r.IDs(RoleExamTaker)
	if len(ids) != 1 || ids[0] != "s2" {
		t.Errorf("IDs = %v", ids)
	}
}

func TestRegistry_EntriesPaging(t *testing.T) {
	r := New(16)
	for i := 0; i < 10; i++ {
		r.Register(Entry{SessionID: fmt.Sprintf("s%02d", i), Role: RoleExamTaker})
	}
	tests := []struct {
		offset, limit, want int
	}{
		{0, 0, 10},
		{0, 4, 4},
		{8, 4, 2},
		{10, 4, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d+%d", tt.offset, tt.limit), func(t *testing.T) {
			if got := len(r.Entries(tt.offset, tt.limit)); got != tt.want {
				t.Errorf("Entries = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRegistry_ListenersSeeChanges(t *testing.T) {
	r := New(2)
	var mu sync.Mutex
	var events []string
	r.OnChange(func(e Entry, added bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, fmt.Sprintf("%s:%v", e.SessionID, added))
	})
	r.Register(Entry{SessionID: "s1", Role: RoleExamTaker})
	r.Unregister("s1")
	r.Unregister("s1")

	if len(events) != 2 || events[0] != "s1:true" || events[1] != "s1:false" {
		t.Errorf("events = %v", events)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("g%d-%d", g, i)
				r.Register(Entry{SessionID: id, Role: RoleExamTaker, Public: i%2 == 0})
				_ = r.Counts()
				if i%4 == 0 {
					r.Unregister(id)
				}
			}
		}(g)
	}
	wg.Wait()

	c := r.Counts()
	if c.Total() != 8*150 || r.Len() != 8*150 {
		t.Errorf("total = %d len = %d, want %d", c.Total(), r.Len(), 8*150)
	}
}
