// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package monitor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/tomtom215/examwatch/internal/config"
	"github.com/tomtom215/examwatch/internal/escalation"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/lifecycle"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/models"
	"github.com/tomtom215/examwatch/internal/registry"
	"github.com/tomtom215/examwatch/internal/store"
	"github.com/tomtom215/examwatch/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

type fixture struct {
	sys  *System
	hub  *websocket.Hub
	base time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return newFixtureOn(t, st)
}

func newFixtureOn(t *testing.T, st *store.Store) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Proctoring.DebounceWindow = 4 * time.Second
	cfg.Escalation.AccumulationLimit = 5

	bus := eventprocessor.NewChannelBus(64, nil)
	t.Cleanup(func() { _ = bus.Close() })

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()

	sys, err := NewSystem(cfg, Options{Store: st, Bus: bus, Hub: hub})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	t.Cleanup(func() {
		sys.Escalation.Wait()
		cancel()
		<-done
	})
	return &fixture{sys: sys, hub: hub, base: time.Now().UTC()}
}

func proctored(required ...models.Requirement) *models.ProctoringConfig {
	return &models.ProctoringConfig{AssessmentID: "a1", Required: required, TimeLimitSeconds: 3600}
}

func (f *fixture) begin(t *testing.T, id string, cfg *models.ProctoringConfig) {
	t.Helper()
	if _, err := f.sys.Controller.Begin(context.Background(), lifecycle.BeginRequest{
		SessionID:    id,
		AssessmentID: cfg.AssessmentID,
		Config:       cfg,
	}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
}

// signal feeds one detector reading through the signal handler, offset from
// the fixture's base time.
func (f *fixture) signal(t *testing.T, sid string, d models.DetectorType, at time.Duration, sp eventprocessor.SignalPayload) {
	t.Helper()
	sp.Detector = string(d)
	sp.Timestamp = f.base.Add(at)
	e, err := eventprocessor.NewEvent(eventprocessor.KindSignal, eventprocessor.OriginPush, sid, sp)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sys.Pipeline.HandleSignal(context.Background(), e); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}
}

// startProctored moves a session with the given requirements to in_progress.
func (f *fixture) startProctored(t *testing.T, sid string, d models.DetectorType, healthy eventprocessor.SignalPayload, required ...models.Requirement) {
	t.Helper()
	ctx := context.Background()
	f.begin(t, sid, proctored(required...))
	granted := map[models.DetectorType]bool{}
	for _, r := range required {
		granted[r.Detector()] = true
	}
	if _, err := f.sys.Controller.GrantPermissions(ctx, sid, granted); err != nil {
		t.Fatalf("GrantPermissions: %v", err)
	}
	f.signal(t, sid, d, -time.Second, healthy)
	if _, err := f.sys.Controller.AwaitMonitoring(ctx, sid); err != nil {
		t.Fatalf("AwaitMonitoring: %v", err)
	}
}

func (f *fixture) snapshot(t *testing.T, sid string) *models.ExamSession {
	t.Helper()
	s, err := f.sys.Controller.Snapshot(sid)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func TestPipeline_DeniedCameraStaysInSetup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.begin(t, "s1", proctored(models.RequireCamera))

	_, err := f.sys.Controller.GrantPermissions(ctx, "s1", map[models.DetectorType]bool{models.DetectorCamera: false})
	var perr *lifecycle.PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("GrantPermissions err = %v, want PermissionError", err)
	}

	s := f.snapshot(t, "s1")
	if s.State != models.StateProctoringSetup {
		t.Errorf("state = %s, want proctoring_setup", s.State)
	}
	if len(s.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(s.Violations))
	}
	ev := s.Violations[0]
	if ev.Severity() != models.SeverityCritical || !ev.AutoHandled() {
		t.Errorf("event severity=%s auto_handled=%v", ev.Severity(), ev.AutoHandled())
	}

	v, ok := f.sys.Aggregator.View("s1")
	if !ok || len(v.Violations) != 1 {
		t.Errorf("aggregator view = %+v", v)
	}
}

func TestPipeline_ResolutionIsPersisted(t *testing.T) {
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	f := newFixtureOn(t, st)
	f.begin(t, "s1", proctored(models.RequireCamera))
	if _, err := f.sys.Controller.GrantPermissions(ctx, "s1", map[models.DetectorType]bool{}); err == nil {
		t.Fatal("expected a permission error")
	}
	want := f.snapshot(t, "s1").Violations[0].Response()
	if want == "" {
		t.Fatal("event not resolved in memory")
	}

	events, err := st.Events(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || !events[0].AutoHandled() || events[0].Response() != want {
		t.Fatalf("stored events = %+v", events)
	}
	stored, err := st.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Violations) != 1 || !stored.Violations[0].AutoHandled() || stored.Violations[0].Response() != want {
		t.Errorf("stored session violations = %+v", stored.Violations)
	}

	restored := newFixtureOn(t, st)
	if _, err := restored.sys.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if got := restored.snapshot(t, "s1").Violations[0]; !got.AutoHandled() || got.Response() != want {
		t.Errorf("restored event auto_handled=%v response=%q", got.AutoHandled(), got.Response())
	}
}

func TestPipeline_AccumulationFlagsSession(t *testing.T) {
	f := newFixture(t)
	f.startProctored(t, "s1", models.DetectorTabVisibility, eventprocessor.SignalPayload{Active: true}, models.RequireTabSwitch)

	for i := 0; i < 6; i++ {
		f.signal(t, "s1", models.DetectorTabVisibility, time.Duration(i)*5*time.Second, eventprocessor.SignalPayload{Active: false})
	}

	s := f.snapshot(t, "s1")
	if len(s.Violations) != 6 {
		t.Fatalf("violations = %d, want 6", len(s.Violations))
	}
	for _, v := range s.Violations {
		if v.Severity() != models.SeverityMedium {
			t.Errorf("severity = %s, want medium", v.Severity())
		}
	}
	if !s.Flagged || !s.HasFlag(escalation.ReasonAccumulation) {
		t.Errorf("flagged=%v reasons=%v", s.Flagged, s.FlagReasons)
	}
	if s.State != models.StateInProgress {
		t.Errorf("state = %s, want in_progress", s.State)
	}

	v, _ := f.sys.Aggregator.View("s1")
	if !v.Flagged {
		t.Error("aggregator view not flagged")
	}
}

func TestPipeline_DebounceCoalescesRepeatedSignals(t *testing.T) {
	f := newFixture(t)
	f.startProctored(t, "s1", models.DetectorFaceDetection, eventprocessor.SignalPayload{Active: true, Count: 1}, models.RequireFaceDetection)

	for i := 0; i < 5; i++ {
		f.signal(t, "s1", models.DetectorFaceDetection, time.Duration(i)*2*time.Second, eventprocessor.SignalPayload{Active: false})
	}

	s := f.snapshot(t, "s1")
	if len(s.Violations) != 3 {
		t.Fatalf("violations = %d, want 3", len(s.Violations))
	}
	for i, v := range s.Violations {
		if v.Type() != models.EventFaceNotDetected {
			t.Errorf("event %d type = %s", i, v.Type())
		}
		if i > 0 && v.Sequence() <= s.Violations[i-1].Sequence() {
			t.Errorf("sequence not increasing at %d", i)
		}
	}
}

func TestPipeline_CriticalPausesAndStaysPaused(t *testing.T) {
	f := newFixture(t)
	f.startProctored(t, "s1", models.DetectorFaceDetection, eventprocessor.SignalPayload{Active: true, Count: 1}, models.RequireFaceDetection)

	f.signal(t, "s1", models.DetectorFaceDetection, 0, eventprocessor.SignalPayload{Active: true, Count: 2})
	if s := f.snapshot(t, "s1"); s.State != models.StatePaused {
		t.Fatalf("state = %s, want paused", s.State)
	}

	f.signal(t, "s1", models.DetectorFaceDetection, 10*time.Second, eventprocessor.SignalPayload{Active: true, Count: 3})
	s := f.snapshot(t, "s1")
	if s.State != models.StatePaused {
		t.Errorf("state = %s, want paused", s.State)
	}
	if len(s.Violations) != 2 {
		t.Errorf("violations = %d, want 2", len(s.Violations))
	}
}

func TestPipeline_UnknownSessionSignalIsDropped(t *testing.T) {
	f := newFixture(t)
	f.signal(t, "ghost", models.DetectorCamera, 0, eventprocessor.SignalPayload{Active: false})

	e, err := eventprocessor.NewEvent(eventprocessor.KindSignal, eventprocessor.OriginAPI, "ghost", eventprocessor.SignalPayload{Detector: "sonar"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sys.Pipeline.HandleSignal(context.Background(), e); err != nil {
		t.Errorf("unknown detector should be dropped, got %v", err)
	}
}

func TestPipeline_TelemetryReachesView(t *testing.T) {
	f := newFixture(t)
	f.begin(t, "s1", proctored())

	tel := models.UnknownTelemetry()
	tel.Battery = models.Known(42.0)
	e, err := eventprocessor.NewEvent(eventprocessor.KindTelemetry, eventprocessor.OriginPush, "s1", tel)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sys.Pipeline.HandleTelemetry(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	v, ok := f.sys.Aggregator.View("s1")
	if !ok {
		t.Fatal("no view")
	}
	if b, ok := v.Telemetry.Battery.Get(); !ok || b != 42.0 {
		t.Errorf("battery = %v, %v", b, ok)
	}
	if v.Telemetry.DeviceClass.Available() {
		t.Error("device class should stay unknown")
	}
}

// participantConn opens a participant websocket for sid against the hub.
func participantConn(t *testing.T, f *fixture, sid string) *gws.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := gws.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := websocket.NewClient(f.hub, conn, websocket.ClientOptions{Channel: websocket.ChannelParticipant, SessionID: sid})
		f.hub.Register <- c
		c.Start(context.Background())
	}))
	t.Cleanup(srv.Close)

	conn, resp, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func TestPipeline_SubmitStopsMonitoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.begin(t, "s1", proctored())

	if _, ok := f.sys.Registry.Get("s1"); !ok {
		t.Fatal("session not registered")
	}
	if n := f.sys.Adapter.Subscriptions("s1"); n != 1 {
		t.Fatalf("subscriptions = %d, want 1", n)
	}
	conn := participantConn(t, f, "s1")
	waitFor(t, func() bool { return f.hub.SessionClientCount("s1") == 1 }, "participant registration")

	if _, err := f.sys.Controller.Submit(ctx, "s1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, ok := f.sys.Registry.Get("s1"); ok {
		t.Error("session still registered")
	}
	if n := f.sys.Adapter.Subscriptions("s1"); n != 0 {
		t.Errorf("subscriptions = %d, want 0", n)
	}
	if f.sys.Classifier.Tracked("s1") {
		t.Error("classifier still tracks the session")
	}
	if !f.snapshot(t, "s1").MonitoringStopped {
		t.Error("controller monitoring not stopped")
	}

	// Everything before the close is allowed; the last message must be the stop.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last websocket.Message
	for {
		var m websocket.Message
		if err := conn.ReadJSON(&m); err != nil {
			break
		}
		last = m
	}
	if last.Type != websocket.MessageTypeMonitoringStopped {
		t.Errorf("last message = %q, want monitoring_stopped", last.Type)
	}

	ran, err := f.sys.Pipeline.StopMonitoring(ctx, "s1", "again", "supervisor")
	if ran || err != nil {
		t.Errorf("second StopMonitoring = %v, %v; want false, nil", ran, err)
	}
	if f.sys.Registry.Unregister("s1") {
		t.Error("second unregister should be a no-op")
	}
}

func TestPipeline_StopMonitoringDropsLaterSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startProctored(t, "s1", models.DetectorTabVisibility, eventprocessor.SignalPayload{Active: true}, models.RequireTabSwitch)

	ran, err := f.sys.Pipeline.StopMonitoring(ctx, "s1", "supervisor ended", "alice")
	if !ran || err != nil {
		t.Fatalf("StopMonitoring = %v, %v", ran, err)
	}
	f.signal(t, "s1", models.DetectorTabVisibility, time.Second, eventprocessor.SignalPayload{Active: false})

	if _, err := f.sys.Pipeline.ReportViolation(ctx, models.SecurityEventParams{
		SessionID: "s1",
		Type:      models.EventMultipleFaces,
		Severity:  models.SeverityCritical,
		Timestamp: f.base,
	}); err != nil {
		t.Errorf("ReportViolation after stop = %v", err)
	}

	s := f.snapshot(t, "s1")
	if len(s.Violations) != 0 || s.State != models.StateInProgress {
		t.Errorf("violations=%d state=%s", len(s.Violations), s.State)
	}
}

func TestPipeline_EvaluateRemovesView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.begin(t, "s1", proctored())
	if _, err := f.sys.Controller.Submit(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.sys.Aggregator.View("s1"); !ok {
		t.Fatal("submitted session should stay visible until evaluated")
	}
	if _, err := f.sys.Controller.Evaluate(ctx, "s1", 87, "alice"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, ok := f.sys.Aggregator.View("s1"); ok {
		t.Error("evaluated session still in aggregator")
	}
}

func TestPipeline_EvaluatedIDCanBeMonitoredAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.begin(t, "s1", proctored())
	if _, err := f.sys.Controller.Submit(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if !f.sys.Pipeline.Stopped("s1") {
		t.Fatal("submit did not stop monitoring")
	}
	if _, err := f.sys.Controller.Evaluate(ctx, "s1", 70, "alice"); err != nil {
		t.Fatal(err)
	}
	if f.sys.Pipeline.Stopped("s1") {
		t.Error("stop record kept after evaluation")
	}

	f.begin(t, "s1", proctored())
	if _, ok := f.sys.Registry.Get("s1"); !ok {
		t.Fatal("reused id not registered")
	}
	ran, err := f.sys.Pipeline.StopMonitoring(ctx, "s1", "supervisor ended", "alice")
	if !ran || err != nil {
		t.Fatalf("StopMonitoring = %v, %v; want true, nil", ran, err)
	}
	if _, ok := f.sys.Registry.Get("s1"); ok {
		t.Error("reused id still registered after stop")
	}
	if !f.snapshot(t, "s1").MonitoringStopped {
		t.Error("controller monitoring not stopped for reused id")
	}
}

func TestPipeline_SweepTimeouts(t *testing.T) {
	f := newFixture(t)
	f.startProctored(t, "s1", models.DetectorTabVisibility, eventprocessor.SignalPayload{Active: true}, models.RequireTabSwitch)

	n := f.sys.Pipeline.SweepTimeouts(context.Background(), f.base.Add(time.Hour))
	if n != 1 {
		t.Fatalf("timeouts = %d, want 1", n)
	}
	s := f.snapshot(t, "s1")
	if len(s.Violations) != 1 || s.Violations[0].Severity() != models.SeverityMedium {
		t.Errorf("violations = %+v", s.Violations)
	}
	if n := f.sys.Pipeline.SweepTimeouts(context.Background(), f.base.Add(2*time.Hour)); n != 0 {
		t.Errorf("repeat sweep = %d, want 0", n)
	}
}

func TestPipeline_TimeoutAfterPauseIsNotStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startProctored(t, "s1", models.DetectorTabVisibility, eventprocessor.SignalPayload{Active: true}, models.RequireTabSwitch)

	critical, err := f.sys.Pipeline.ReportViolation(ctx, models.SecurityEventParams{
		SessionID: "s1",
		Type:      models.EventMultipleFaces,
		Severity:  models.SeverityCritical,
		Timestamp: f.base,
	})
	if err != nil {
		t.Fatal(err)
	}
	if s := f.snapshot(t, "s1"); s.State != models.StatePaused {
		t.Fatalf("state = %s, want paused", s.State)
	}

	if n := f.sys.Pipeline.SweepTimeouts(ctx, f.base.Add(time.Hour)); n != 1 {
		t.Fatalf("timeouts = %d, want 1", n)
	}
	s := f.snapshot(t, "s1")
	timeout := s.Violations[len(s.Violations)-1]
	if timeout.Sequence() <= critical.Sequence() {
		t.Errorf("timeout sequence %d not after pause %d", timeout.Sequence(), critical.Sequence())
	}
	if strings.Contains(timeout.Response(), "older than") {
		t.Errorf("timeout treated as stale: %q", timeout.Response())
	}
}

func TestPipeline_SequenceFollowsRecordingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startProctored(t, "s1", models.DetectorTabVisibility, eventprocessor.SignalPayload{Active: true}, models.RequireTabSwitch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.sys.Pipeline.ReportViolation(ctx, models.SecurityEventParams{
				SessionID: "s1",
				Type:      models.EventFullscreenExit,
				Severity:  models.SeverityLow,
				Timestamp: f.base.Add(time.Duration(i) * time.Second),
			})
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.sys.Pipeline.SweepTimeouts(ctx, f.base.Add(time.Hour))
	}()
	wg.Wait()

	s := f.snapshot(t, "s1")
	if len(s.Violations) != 9 {
		t.Fatalf("violations = %d, want 9", len(s.Violations))
	}
	for i := 1; i < len(s.Violations); i++ {
		if s.Violations[i].Sequence() <= s.Violations[i-1].Sequence() {
			t.Errorf("violation %d has sequence %d after %d", i, s.Violations[i].Sequence(), s.Violations[i-1].Sequence())
		}
	}
}

func TestSystem_DashboardsAreWatchers(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&gws.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := websocket.NewClient(f.hub, conn, websocket.ClientOptions{Channel: websocket.ChannelDashboard})
		f.hub.Register <- c
		c.Start(context.Background())
	}))
	defer srv.Close()

	conn, resp, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return f.sys.Registry.Counts().Watchers == 1 }, "watcher registration")

	_ = conn.Close()
	waitFor(t, func() bool { return f.sys.Registry.Counts().Watchers == 0 }, "watcher removal")
}

func TestSystem_RestorePutsSessionsBackUnderMonitoring(t *testing.T) {
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	first := newFixtureOn(t, st)
	first.begin(t, "s1", proctored(models.RequireTabSwitch))

	second := newFixtureOn(t, st)
	n, err := second.sys.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if e, ok := second.sys.Registry.Get("s1"); !ok || e.Role != registry.RoleExamTaker {
		t.Errorf("registry entry = %+v, %v", e, ok)
	}
	if !second.sys.Classifier.Tracked("s1") {
		t.Error("classifier does not track restored session")
	}
	if _, ok := second.sys.Aggregator.View("s1"); !ok {
		t.Error("aggregator has no view for restored session")
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.lock("a")
	acquired := make(chan struct{})
	go func() {
		unlock := k.lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlockB := k.lock("b")
	unlockB()

	unlockA()
	<-acquired
	waitFor(t, func() bool { return k.len() == 0 }, "entry cleanup")
}
