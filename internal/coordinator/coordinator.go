// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
)

// ErrResourceContention reports that the primary sweep query did not finish
// inside its budget (or its breaker is open) and the sweep fell back to the
// reduced count query.
var ErrResourceContention = errors.New("resource contention")

// Member is one registered session as seen by the coordinator.
type Member struct {
	SessionID string
	Watcher   bool
	Public    bool
}

// Census is the population the mode rules are evaluated against.
type Census struct {
	PublicTakers  int `json:"public_takers"`
	PrivateTakers int `json:"private_takers"`
	Watchers      int `json:"watchers"`
}

// Population is the registry as seen by the coordinator. Entries is the
// primary sweep query; Census is the cheap fallback.
type Population interface {
	Entries(ctx context.Context, offset, limit int) ([]Member, error)
	Census(ctx context.Context) (Census, error)
	Remove(sessionID string) bool
}

// LiveSet answers whether a session is still live in the lifecycle controller.
type LiveSet interface {
	IsLive(sessionID string) bool
}

// Emitter publishes mode changes on the event bus.
type Emitter interface {
	Emit(ctx context.Context, kind eventprocessor.Kind, sessionID string, payload interface{}) error
}

// Config tunes the mode rules and the sweep.
type Config struct {
	SweepInterval      time.Duration
	QueryTimeout       time.Duration
	PublicThreshold    int
	TimeoutThreshold   int
	Cooldown           time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:      5 * time.Second,
		QueryTimeout:       2 * time.Second,
		PublicThreshold:    1,
		TimeoutThreshold:   1,
		Cooldown:           60 * time.Second,
		BreakerMaxFailures: 3,
		BreakerTimeout:     30 * time.Second,
	}
}

// Deps are the coordinator's collaborators. Live, Emitter and Audit are
// optional.
type Deps struct {
	Population Population
	Live       LiveSet
	Emitter    Emitter
	Audit      *audit.Logger
}

// SweepResult describes one sweep.
type SweepResult struct {
	Census     Census
	Reconciled int
	// Contention wraps ErrResourceContention when the sweep fell back.
	Contention error
	Mode       ModeState
}

// Coordinator owns the process-wide monitoring mode.
type Coordinator struct {
	cfg     Config
	deps    Deps
	breaker *gobreaker.CircuitBreaker[interface{}]
	now     func() time.Time

	state atomic.Pointer[ModeState]

	// evalMu serializes rule evaluation; fields below are guarded by it.
	evalMu         sync.Mutex
	timeouts       int
	lastPublic     time.Time
	lastContention time.Time

	listenersMu sync.RWMutex
	listeners   []func(ModeState)

	changed chan struct{}
}

// New creates a coordinator in normal mode.
func New(cfg Config, deps Deps) *Coordinator {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.PublicThreshold < 1 {
		cfg.PublicThreshold = def.PublicThreshold
	}
	if cfg.TimeoutThreshold < 1 {
		cfg.TimeoutThreshold = def.TimeoutThreshold
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = def.BreakerMaxFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	c := &Coordinator{
		cfg:  cfg,
		deps: deps,
		breaker: eventprocessor.NewCircuitBreaker(eventprocessor.CircuitBreakerConfig{
			Name:             "coordinator-sweep",
			Timeout:          cfg.BreakerTimeout,
			FailureThreshold: cfg.BreakerMaxFailures,
		}),
		now:     time.Now,
		changed: make(chan struct{}, 1),
	}
	c.state.Store(&ModeState{Mode: ModeNormal, ChangedAt: c.now().UTC(), Reason: "initialized"})
	metrics.MonitoringMode.Set(0)
	return c
}

// Mode returns the current mode snapshot.
func (c *Coordinator) Mode() ModeState {
	return *c.state.Load()
}

// SetEmitter sets the bus publisher for mode changes. It must be called
// before Serve; the event adapter itself reads its cadence from the
// coordinator, so the two are wired in two steps.
func (c *Coordinator) SetEmitter(e Emitter) {
	c.deps.Emitter = e
}

// PollInterval implements eventprocessor.CadenceSource.
func (c *Coordinator) PollInterval() time.Duration {
	return c.Mode().Profile().PollInterval
}

// Subscribe registers fn for mode changes. Listeners run synchronously on the
// goroutine that changed the mode.
func (c *Coordinator) Subscribe(fn func(ModeState)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// CompareAndSwap moves to mode if the current version is expectedVersion.
// It returns the resulting state and whether a change was made; switching to
// the current mode is not a change.
func (c *Coordinator) CompareAndSwap(ctx context.Context, expectedVersion uint64, mode Mode, reason string) (ModeState, bool) {
	cur := c.state.Load()
	if cur.Version != expectedVersion || cur.Mode == mode {
		return *cur, false
	}
	next := &ModeState{
		Mode:      mode,
		Version:   cur.Version + 1,
		ChangedAt: c.now().UTC(),
		Reason:    reason,
	}
	if !c.state.CompareAndSwap(cur, next) {
		return *c.state.Load(), false
	}
	c.announce(ctx, *cur, *next)
	return *next, true
}

func (c *Coordinator) announce(ctx context.Context, from, to ModeState) {
	metrics.RecordModeChange(string(from.Mode), string(to.Mode), to.Mode.Level())
	if c.deps.Audit != nil {
		c.deps.Audit.LogModeChange(ctx, string(from.Mode), string(to.Mode), to.Version, to.Reason)
	}
	if c.deps.Emitter != nil {
		payload := eventprocessor.ModePayload{Mode: string(to.Mode), Version: to.Version, Reason: to.Reason, At: to.ChangedAt}
		if err := c.deps.Emitter.Emit(ctx, eventprocessor.KindModeChange, "", payload); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to publish mode change")
		}
	}
	logging.Ctx(ctx).Info().
		Str("from", string(from.Mode)).
		Str("to", string(to.Mode)).
		Uint64("version", to.Version).
		Str("reason", to.Reason).
		Msg("Monitoring mode changed")

	c.listenersMu.RLock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(to)
	}
}

// Notify schedules an evaluation after a registry change. It never blocks.
func (c *Coordinator) Notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Evaluate applies the mode rules to the cheap census. It is what runs on
// registry changes between sweeps.
func (c *Coordinator) Evaluate(ctx context.Context) (ModeState, error) {
	census, err := c.deps.Population.Census(ctx)
	if err != nil {
		return c.Mode(), fmt.Errorf("census: %w", err)
	}
	c.evalMu.Lock()
	defer c.evalMu.Unlock()
	return c.decide(ctx, census, sweepNone), nil
}

// Sweep runs the primary query through the breaker, reconciles stale
// entries and re-evaluates the mode. When the primary query times out or
// the breaker is open it falls back to the census query; the result then
// carries ErrResourceContention and the error stays nil.
func (c *Coordinator) Sweep(ctx context.Context) (SweepResult, error) {
	start := c.now()
	var res SweepResult

	members, err := c.primary(ctx)
	fallback := ""
	switch {
	case err == nil:
		res.Census, res.Reconciled = c.reconcile(members)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		fallback = "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		fallback = "breaker_open"
	default:
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		fallback = "error"
	}

	if fallback != "" {
		res.Contention = fmt.Errorf("%w: primary sweep query: %v", ErrResourceContention, err)
		census, cerr := c.deps.Population.Census(ctx)
		if cerr != nil {
			metrics.RecordSweep(c.now().Sub(start), fallback)
			return res, fmt.Errorf("fallback census: %w", cerr)
		}
		res.Census = census
		logging.Ctx(ctx).Debug().
			Err(err).
			Str("reason", fallback).
			Msg("Sweep fell back to census query")
	}
	metrics.RecordSweep(c.now().Sub(start), fallback)

	outcome := sweepOK
	if fallback != "" {
		outcome = sweepContended
	}
	c.evalMu.Lock()
	res.Mode = c.decide(ctx, res.Census, outcome)
	c.evalMu.Unlock()
	return res, nil
}

// primary pages through every entry under the query budget. The query runs
// on its own goroutine so a stuck population cannot hold the sweep past the
// budget.
func (c *Coordinator) primary(ctx context.Context) ([]Member, error) {
	qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		type result struct {
			members []Member
			err     error
		}
		done := make(chan result, 1)
		go func() {
			m, err := c.page(qctx)
			done <- result{m, err}
		}()
		select {
		case r := <-done:
			return r.members, r.err
		case <-qctx.Done():
			return nil, qctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	members, _ := out.([]Member)
	return members, nil
}

func (c *Coordinator) page(ctx context.Context) ([]Member, error) {
	size := c.Mode().Profile().MaxSessionsPerPass
	var all []Member
	for offset := 0; ; offset += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := c.deps.Population.Entries(ctx, offset, size)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < size {
			return all, nil
		}
	}
}

// reconcile removes exam-taker entries whose session is no longer live and
// counts the rest.
func (c *Coordinator) reconcile(members []Member) (Census, int) {
	var census Census
	removed := 0
	for _, m := range members {
		if m.Watcher {
			census.Watchers++
			continue
		}
		if c.deps.Live != nil && !c.deps.Live.IsLive(m.SessionID) {
			if c.deps.Population.Remove(m.SessionID) {
				removed++
				metrics.ReconciledEntries.Inc()
			}
			continue
		}
		if m.Public {
			census.PublicTakers++
		} else {
			census.PrivateTakers++
		}
	}
	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("Reconciled stale registry entries")
	}
	return census, removed
}

type sweepOutcome int

const (
	sweepNone sweepOutcome = iota
	sweepOK
	sweepContended
)

// decide applies the mode rules. The caller holds evalMu.
//
//   - public >= PublicThreshold with watchers present: at least resource_safe
//   - TimeoutThreshold consecutive contended sweeps while degraded: minimal
//   - minimal without contention for Cooldown while still under pressure:
//     resource_safe
//   - no public exam-takers for Cooldown: normal
func (c *Coordinator) decide(ctx context.Context, census Census, outcome sweepOutcome) ModeState {
	now := c.now()
	cur := c.Mode()

	if census.PublicTakers > 0 {
		c.lastPublic = now
	}
	contended := outcome == sweepContended
	switch outcome {
	case sweepContended:
		c.timeouts++
		c.lastContention = now
	case sweepOK:
		c.timeouts = 0
	}

	pressure := census.PublicTakers >= c.cfg.PublicThreshold && census.Watchers > 0
	target, reason := cur.Mode, ""
	switch {
	case contended && cur.Mode.Level() >= 1 && c.timeouts >= c.cfg.TimeoutThreshold:
		target = ModeMinimal
		reason = fmt.Sprintf("%d consecutive sweep timeouts", c.timeouts)
	case pressure && cur.Mode == ModeNormal:
		target = ModeResourceSafe
		reason = fmt.Sprintf("%d public exam-takers with %d watchers", census.PublicTakers, census.Watchers)
	case pressure && cur.Mode == ModeMinimal && !contended && now.Sub(c.lastContention) >= c.cfg.Cooldown:
		target = ModeResourceSafe
		reason = "contention cleared"
	case census.PublicTakers == 0 && cur.Mode != ModeNormal && now.Sub(c.lastPublic) >= c.cfg.Cooldown:
		target = ModeNormal
		reason = "no public exam-takers"
	}
	if target == cur.Mode {
		return cur
	}
	next, _ := c.CompareAndSwap(ctx, cur.Version, target, reason)
	return next
}

// Serve implements suture.Service: it sweeps on the interval and evaluates
// on registry changes. The mode is reset to normal when Serve returns.
func (c *Coordinator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	defer c.reset()

	logging.Info().
		Dur("sweep_interval", c.cfg.SweepInterval).
		Dur("query_timeout", c.cfg.QueryTimeout).
		Msg("Monitoring coordinator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.changed:
			if _, err := c.Evaluate(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("Mode evaluation failed")
			}
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("Coordinator sweep failed")
			}
		}
	}
}

func (c *Coordinator) reset() {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()
	c.timeouts = 0
	cur := c.Mode()
	c.CompareAndSwap(context.Background(), cur.Version, ModeNormal, "coordinator stopped")
}

// BreakerState reports the sweep breaker state for health output.
func (c *Coordinator) BreakerState() string {
	return eventprocessor.CircuitBreakerState(c.breaker)
}

// String implements fmt.Stringer for supervisor logs.
func (c *Coordinator) String() string {
	return "monitoring-coordinator"
}
