// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package metrics holds the Prometheus instruments for ExamWatch. Metrics are
// registered on the default registry via promauto and exposed at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signals and classification
	SignalsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_signals_received_total",
			Help: "Detector signals received, by detector and origin",
		},
		[]string{"detector", "origin"},
	)

	SignalOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_signal_outcomes_total",
			Help: "Classifier outcome per signal (emitted, coalesced, skipped_mode, ignored)",
		},
		[]string{"outcome"},
	)

	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_security_events_total",
			Help: "Security events created, by type and severity",
		},
		[]string{"type", "severity"},
	)

	DetectorTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_detector_timeouts_total",
			Help: "Required detectors that went silent past their timeout",
		},
		[]string{"detector"},
	)

	// Escalation
	EscalationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_escalation_actions_total",
			Help: "Automatic responses issued, by action",
		},
		[]string{"action"},
	)

	DuplicateResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examwatch_duplicate_responses_total",
			Help: "Escalation attempts rejected because the event was already handled",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_notification_failures_total",
			Help: "Failed notification deliveries, by notifier",
		},
		[]string{"notifier"},
	)

	// Lifecycle
	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_lifecycle_transitions_total",
			Help: "Applied session state transitions",
		},
		[]string{"from", "to"},
	)

	TransitionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_transition_rejections_total",
			Help: "Lifecycle triggers rejected for the current state",
		},
		[]string{"state", "trigger"},
	)

	ReadinessWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examwatch_readiness_wait_seconds",
			Help:    "Time participants spent waiting for the monitoring stack to become active",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"result"},
	)

	// Coordinator
	MonitoringMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examwatch_monitoring_mode",
			Help: "Current monitoring mode (0=normal, 1=resource_safe, 2=minimal)",
		},
	)

	ModeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_monitoring_mode_changes_total",
			Help: "Monitoring mode transitions",
		},
		[]string{"from", "to"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examwatch_coordinator_sweep_duration_seconds",
			Help:    "Duration of coordinator registry sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_coordinator_sweep_fallbacks_total",
			Help: "Sweeps that fell back to the reduced query, by reason",
		},
		[]string{"reason"},
	)

	ReconciledEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examwatch_registry_reconciled_entries_total",
			Help: "Stale registry entries removed by reconciliation",
		},
	)

	// Registry and aggregator
	RegistrySessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "examwatch_registry_sessions",
			Help: "Registered live sessions, by role and visibility",
		},
		[]string{"role", "visibility"},
	)

	AggregatorGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examwatch_aggregator_sequence_gaps_total",
			Help: "Incremental updates that detected a sequence gap and forced a reload",
		},
	)

	// Event bus
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_bus_messages_total",
			Help: "Messages handled by the event bus adapter, by kind and result",
		},
		[]string{"kind", "result"},
	)

	// WebSocket
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "examwatch_websocket_connections",
			Help: "Open WebSocket connections, by channel",
		},
		[]string{"channel"},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examwatch_websocket_messages_sent_total",
			Help: "WebSocket messages broadcast to dashboards",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examwatch_websocket_messages_dropped_total",
			Help: "WebSocket messages dropped because a buffer was full",
		},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_api_requests_total",
			Help: "HTTP requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examwatch_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_login_attempts_total",
			Help: "Supervisor login attempts, by result",
		},
		[]string{"result"},
	)

	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examwatch_authz_decisions_total",
			Help: "Authorization decisions, by result (allowed, denied, error)",
		},
		[]string{"result"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "examwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordSignal counts an inbound detector signal.
func RecordSignal(detector, origin string) {
	SignalsReceived.WithLabelValues(detector, origin).Inc()
}

// RecordSignalOutcome counts a classifier decision.
func RecordSignalOutcome(outcome string) {
	SignalOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSecurityEvent counts a created event.
func RecordSecurityEvent(eventType, severity string) {
	SecurityEvents.WithLabelValues(eventType, severity).Inc()
}

// RecordEscalationAction counts an issued response.
func RecordEscalationAction(action string) {
	EscalationActions.WithLabelValues(action).Inc()
}

// RecordTransition counts an applied lifecycle transition.
func RecordTransition(from, to string) {
	LifecycleTransitions.WithLabelValues(from, to).Inc()
}

// RecordTransitionRejected counts a rejected trigger.
func RecordTransitionRejected(state, trigger string) {
	TransitionRejections.WithLabelValues(state, trigger).Inc()
}

// RecordReadinessWait observes how long a readiness wait took.
func RecordReadinessWait(d time.Duration, ready bool) {
	result := "ready"
	if !ready {
		result = "timeout"
	}
	ReadinessWait.WithLabelValues(result).Observe(d.Seconds())
}

// RecordModeChange updates the mode gauge and transition counter.
// level is 0 for normal, 1 for resource_safe, 2 for minimal.
func RecordModeChange(from, to string, level int) {
	ModeChanges.WithLabelValues(from, to).Inc()
	MonitoringMode.Set(float64(level))
}

// RecordSweep observes a coordinator sweep; fallbackReason is "" when the
// primary query succeeded.
func RecordSweep(d time.Duration, fallbackReason string) {
	SweepDuration.Observe(d.Seconds())
	if fallbackReason != "" {
		SweepFallbacks.WithLabelValues(fallbackReason).Inc()
	}
}

// RecordBusMessage counts a message handled by the bus adapter.
func RecordBusMessage(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BusMessages.WithLabelValues(kind, result).Inc()
}

// RecordAPIRequest records a completed HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordLogin counts a login attempt.
func RecordLogin(success bool) {
	if success {
		LoginAttempts.WithLabelValues("success").Inc()
		return
	}
	LoginAttempts.WithLabelValues("failure").Inc()
}

// RecordAuthzDecision counts an authorization decision.
func RecordAuthzDecision(result string) {
	AuthzDecisions.WithLabelValues(result).Inc()
}
