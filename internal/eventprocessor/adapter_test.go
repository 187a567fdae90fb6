// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/examwatch/internal/models"
	"github.com/tomtom215/examwatch/internal/store"
)

type fixedCadence struct {
	mu       sync.Mutex
	interval time.Duration
}

func (c *fixedCadence) PollInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

func (c *fixedCadence) set(d time.Duration) {
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
}

func setupBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewChannelBus(64, nil)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func receive(t *testing.T, ch <-chan *message.Message) *Event {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		e, err := FromMessage(msg)
		if err != nil {
			t.Fatalf("FromMessage: %v", err)
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func expectNone(t *testing.T, ch <-chan *message.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		t.Fatalf("unexpected message %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapter_NormalizesBothOrigins(t *testing.T) {
	bus := setupBus(t)
	a := NewAdapter(bus, nil)
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, TopicSignals)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.IngestPush(ctx, "s1", []byte(`{"type":"signal","data":{"detector":"tab_visibility","active":false}}`)); err != nil {
		t.Fatalf("IngestPush: %v", err)
	}
	push := receive(t, ch)

	change := store.Change{
		Table:    store.PrefixSignal,
		Key:      "signal/s1/00000000000000000001-1",
		EntityID: "s1",
		Value:    []byte(`{"detector":"tab_visibility","active":false}`),
	}
	if err := a.IngestChange(ctx, change); err != nil {
		t.Fatalf("IngestChange: %v", err)
	}
	feed := receive(t, ch)

	for _, e := range []*Event{push, feed} {
		if e.Kind != KindSignal || e.SessionID != "s1" {
			t.Errorf("event = %+v", e)
		}
		sp, err := DecodePayload[SignalPayload](e)
		if err != nil {
			t.Fatal(err)
		}
		if sp.Detector != "tab_visibility" || sp.Active || sp.Timestamp.IsZero() {
			t.Errorf("payload = %+v", sp)
		}
	}
	if push.Origin != OriginPush || feed.Origin != OriginChangeFeed {
		t.Errorf("origins = %s, %s", push.Origin, feed.Origin)
	}
}

func TestAdapter_RejectsBadInput(t *testing.T) {
	a := NewAdapter(setupBus(t), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{`, ErrInvalidEvent},
		{"unknown type", `{"type":"video","data":{}}`, ErrUnknownMessage},
		{"no detector", `{"type":"signal","data":{"active":true}}`, ErrInvalidEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.IngestPush(ctx, "s1", []byte(tt.raw)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	// Deletes and unrelated tables are ignored.
	if err := a.IngestChange(ctx, store.Change{Table: store.PrefixSession, EntityID: "s1", Value: []byte("{}")}); err != nil {
		t.Errorf("session change: %v", err)
	}
	if err := a.IngestChange(ctx, store.Change{Table: store.PrefixSignal, EntityID: "s1", Deleted: true}); err != nil {
		t.Errorf("delete: %v", err)
	}
}

func TestAdapter_TelemetryCoalescedByPollInterval(t *testing.T) {
	bus := setupBus(t)
	cadence := &fixedCadence{interval: 10 * time.Second}
	a := NewAdapter(bus, cadence)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, TopicTelemetry)
	if err != nil {
		t.Fatal(err)
	}

	send := func(body string) {
		t.Helper()
		if err := a.IngestPush(ctx, "s1", []byte(`{"type":"telemetry","data":`+body+`}`)); err != nil {
			t.Fatal(err)
		}
	}

	send(`{"battery":{"value":90,"status":"available"}}`)
	receive(t, ch)

	now = now.Add(2 * time.Second)
	send(`{"network_quality":{"value":"poor","status":"available"}}`)
	expectNone(t, ch)

	now = now.Add(9 * time.Second)
	send(`{"battery":{"value":80,"status":"available"}}`)
	e := receive(t, ch)
	tel, err := DecodePayload[models.Telemetry](e)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := tel.NetworkQuality.Get(); v != "poor" {
		t.Error("coalesced network quality was lost")
	}
	if v, _ := tel.Battery.Get(); v != 80 {
		t.Errorf("battery = %v, want latest 80", v)
	}

	// A faster mode takes effect on the next update.
	cadence.set(0)
	now = now.Add(time.Second)
	send(`{"battery":{"value":79,"status":"available"}}`)
	receive(t, ch)
}

func TestAdapter_FlushDeliversHeldTelemetry(t *testing.T) {
	bus := setupBus(t)
	a := NewAdapter(bus, &fixedCadence{interval: 10 * time.Second})
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, TopicTelemetry)
	if err != nil {
		t.Fatal(err)
	}
	push := func(body string) {
		t.Helper()
		if err := a.IngestPush(ctx, "s1", []byte(`{"type":"telemetry","data":`+body+`}`)); err != nil {
			t.Fatal(err)
		}
	}

	push(`{"battery":{"value":40,"status":"available"}}`)
	receive(t, ch)
	now = now.Add(3 * time.Second)
	push(`{"battery":{"value":12,"status":"available"}}`)
	expectNone(t, ch)

	if n := a.FlushTelemetry(ctx); n != 0 {
		t.Errorf("flush before interval = %d, want 0", n)
	}

	now = now.Add(8 * time.Second)
	if n := a.FlushTelemetry(ctx); n != 1 {
		t.Fatalf("flush = %d, want 1", n)
	}
	e := receive(t, ch)
	if e.Origin != OriginPush {
		t.Errorf("origin = %s", e.Origin)
	}
	tel, err := DecodePayload[models.Telemetry](e)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := tel.Battery.Get(); v != 12 {
		t.Errorf("battery = %v, want 12", v)
	}

	if n := a.FlushTelemetry(ctx); n != 0 {
		t.Errorf("second flush = %d, want 0", n)
	}
}

func TestAdapter_SessionSubscriptions(t *testing.T) {
	bus := setupBus(t)
	a := NewAdapter(bus, nil)
	ctx := context.Background()

	got := make(chan *Event, 4)
	if err := a.SubscribeSession(ctx, "s1", []Kind{KindTransition}, func(e *Event) { got <- e }); err != nil {
		t.Fatal(err)
	}
	if a.Subscriptions("s1") != 1 {
		t.Fatalf("Subscriptions = %d", a.Subscriptions("s1"))
	}

	if err := a.Emit(ctx, KindTransition, "other", TransitionPayload{From: "a", To: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Emit(ctx, KindTransition, "s1", TransitionPayload{From: "in_progress", To: "paused"}); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-got:
		if e.SessionID != "s1" {
			t.Errorf("delivered event for %q", e.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	if n := a.UnsubscribeSession("s1"); n != 1 {
		t.Errorf("UnsubscribeSession = %d, want 1", n)
	}
	if n := a.UnsubscribeSession("s1"); n != 0 {
		t.Errorf("second UnsubscribeSession = %d, want 0", n)
	}
}
