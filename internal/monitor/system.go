// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package monitor

import (
	"context"
	"fmt"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/config"
	"github.com/tomtom215/examwatch/internal/coordinator"
	"github.com/tomtom215/examwatch/internal/detection"
	"github.com/tomtom215/examwatch/internal/escalation"
	"github.com/tomtom215/examwatch/internal/eventprocessor"
	"github.com/tomtom215/examwatch/internal/lifecycle"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/models"
	"github.com/tomtom215/examwatch/internal/registry"
	"github.com/tomtom215/examwatch/internal/store"
	"github.com/tomtom215/examwatch/internal/websocket"
)

// System is the wired monitoring core.
type System struct {
	Store       *store.Store
	Bus         *eventprocessor.Bus
	Hub         *websocket.Hub
	Audit       *audit.Logger
	Sequencer   *models.Sequencer
	Registry    *registry.Registry
	Aggregator  *registry.Aggregator
	Coordinator *coordinator.Coordinator
	Adapter     *eventprocessor.Adapter
	Classifier  *detection.Classifier
	Controller  *lifecycle.Controller
	Escalation  *escalation.Engine
	Webhook     *escalation.WebhookNotifier
	Pipeline    *Pipeline
	Sweeper     *Sweeper
	Router      *eventprocessor.Router
	Feed        *eventprocessor.ChangeFeedSource
}

// Options carry the externally owned parts of a System.
type Options struct {
	Store *store.Store
	Bus   *eventprocessor.Bus
	Hub   *websocket.Hub
	Audit *audit.Logger
}

// NewSystem builds every monitoring component from cfg and connects them.
// The classifier and the controller share one sequencer so event order is
// the same wherever a session's events are numbered.
func NewSystem(cfg *config.Config, opts Options) (*System, error) {
	if opts.Store == nil || opts.Bus == nil {
		return nil, fmt.Errorf("monitor: store and bus are required")
	}
	if opts.Hub == nil {
		opts.Hub = websocket.NewHub()
	}

	s := &System{
		Store:     opts.Store,
		Bus:       opts.Bus,
		Hub:       opts.Hub,
		Audit:     opts.Audit,
		Sequencer: models.NewSequencer(),
	}

	s.Registry = registry.New(cfg.Registry.Shards)

	p := cfg.Proctoring.Penalties
	s.Controller = lifecycle.NewController(lifecycle.Config{
		ReadinessTimeout: cfg.Proctoring.ReadinessTimeout,
		Penalties:        lifecycle.Penalties{Low: p.Low, Medium: p.Medium, High: p.High, Critical: p.Critical},
	}, lifecycle.Deps{
		Store:     opts.Store,
		Audit:     opts.Audit,
		Sequencer: s.Sequencer,
	})

	cc := cfg.Coordinator
	s.Coordinator = coordinator.New(coordinator.Config{
		SweepInterval:      cc.SweepInterval,
		QueryTimeout:       cc.QueryTimeout,
		PublicThreshold:    cc.PublicThreshold,
		TimeoutThreshold:   cc.TimeoutThreshold,
		Cooldown:           cc.Cooldown,
		BreakerMaxFailures: cc.BreakerMaxFailures,
		BreakerTimeout:     cc.BreakerTimeout,
	}, coordinator.Deps{
		Population: NewPopulation(s.Registry),
		Live:       s.Controller,
		Audit:      opts.Audit,
	})

	s.Adapter = eventprocessor.NewAdapter(opts.Bus, s.Coordinator)
	s.Coordinator.SetEmitter(s.Adapter)
	s.Controller.SetEmitter(s.Adapter)

	s.Classifier = detection.NewClassifier(detection.Config{
		DebounceWindow:  cfg.Proctoring.DebounceWindow,
		DetectorTimeout: cfg.Proctoring.DetectorTimeout,
	}, s.Coordinator, s.Sequencer)
	s.Controller.SetReadiness(s.Classifier)

	engine, webhook, err := newEscalation(cfg.Escalation, s.Controller, opts.Audit, s.Hub)
	if err != nil {
		return nil, err
	}
	s.Escalation = engine
	s.Webhook = webhook

	s.Aggregator = registry.NewAggregator(s.Controller, cfg.Registry.RecentEvents)

	s.Pipeline = NewPipeline(PipelineDeps{
		Controller:  s.Controller,
		Sequencer:   s.Sequencer,
		Classifier:  s.Classifier,
		Escalation:  s.Escalation,
		Registry:    s.Registry,
		Aggregator:  s.Aggregator,
		Adapter:     s.Adapter,
		Hub:         s.Hub,
		Coordinator: s.Coordinator,
	})
	s.Controller.SetViolationSink(s.Pipeline)
	s.Pipeline.Listen()

	s.Sweeper = NewSweeper(s.Pipeline, s.Controller, cfg.Proctoring.TimeoutSweepInterval, cfg.Proctoring.ExpirySweepInterval)

	router, err := eventprocessor.NewRouter(nil, opts.Bus, logging.NewWatermillAdapter())
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	s.Pipeline.Register(router)
	s.Router = router
	s.Feed = eventprocessor.NewChangeFeedSource(opts.Store, s.Adapter)

	s.connect()
	return s, nil
}

func newEscalation(cfg config.EscalationConfig, ctl *lifecycle.Controller, auditLog *audit.Logger, hub *websocket.Hub) (*escalation.Engine, *escalation.WebhookNotifier, error) {
	policy, err := escalation.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, nil, err
	}
	ecfg := escalation.Config{
		Policy:            policy,
		AccumulationLimit: cfg.AccumulationLimit,
		DedupCapacity:     cfg.DedupCapacity,
	}
	if cfg.AccumulationMinSeverity != "" {
		sev, err := models.ParseSeverity(cfg.AccumulationMinSeverity)
		if err != nil {
			return nil, nil, fmt.Errorf("escalation: %w", err)
		}
		ecfg.AccumulationMinSeverity = sev
	}

	engine := escalation.NewEngine(ecfg, ctl, auditLog)
	engine.RegisterNotifier(escalation.NewHubNotifier(hub, hub))

	var webhook *escalation.WebhookNotifier
	if cfg.Webhook.Enabled {
		webhook = escalation.NewWebhookNotifier(escalation.WebhookConfig{
			URL:                cfg.Webhook.URL,
			Headers:            cfg.Webhook.Headers,
			Enabled:            cfg.Webhook.Enabled,
			RateLimit:          cfg.Webhook.RateLimit,
			Timeout:            cfg.Webhook.Timeout,
			BreakerMaxFailures: cfg.Webhook.BreakerMaxFailures,
			BreakerTimeout:     cfg.Webhook.BreakerTimeout,
		})
		engine.RegisterNotifier(webhook)
	}
	return engine, webhook, nil
}

// connect installs the cross-component listeners.
func (s *System) connect() {
	s.Registry.OnChange(func(registry.Entry, bool) {
		s.Coordinator.Notify()
	})

	s.Hub.OnDashboardChange(func(c *websocket.Client, added bool) {
		if added {
			s.Registry.Register(registry.Entry{
				SessionID: c.ConnID(),
				Role:      registry.RoleWatcher,
			})
			return
		}
		s.Registry.Unregister(c.ConnID())
	})

	s.Coordinator.Subscribe(func(ms coordinator.ModeState) {
		s.Hub.BroadcastJSON(websocket.MessageTypeMonitoringMode, ms)
	})
}

// Restore reloads live sessions from the store and puts them back under
// monitoring.
func (s *System) Restore(ctx context.Context) (int, error) {
	n, err := s.Controller.Restore(ctx)
	if err != nil {
		return 0, err
	}
	for _, live := range s.Controller.LiveSessions() {
		snap, err := s.Controller.Snapshot(live.ID)
		if err != nil {
			continue
		}
		s.Pipeline.startMonitoring(ctx, snap)
	}
	return n, nil
}
