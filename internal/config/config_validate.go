// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package config

import (
	"fmt"
	"strings"
)

// Known escalation actions accepted in escalation.policy.
var validActions = map[string]bool{
	"pause":             true,
	"notify_supervisor": true,
	"flag":              true,
	"alert_dashboard":   true,
	"warn_participant":  true,
	"record":            true,
}

var validSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateProctoring(); err != nil {
		return err
	}
	if err := c.validateEscalation(); err != nil {
		return err
	}
	if err := c.validateCoordinator(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateProctoring() error {
	p := c.Proctoring
	if p.DebounceWindow <= 0 {
		return fmt.Errorf("DEBOUNCE_WINDOW must be positive, got %v", p.DebounceWindow)
	}
	if p.DetectorTimeout <= 0 || p.ReadinessTimeout <= 0 {
		return fmt.Errorf("DETECTOR_TIMEOUT and READINESS_TIMEOUT must be positive")
	}
	if p.TimeoutSweepInterval <= 0 || p.ExpirySweepInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	if p.SignalBuffer < 1 {
		return fmt.Errorf("proctoring.signal_buffer must be at least 1")
	}
	pen := p.Penalties
	if pen.Low < 0 || pen.Medium < 0 || pen.High < 0 || pen.Critical < 0 {
		return fmt.Errorf("integrity penalties cannot be negative")
	}
	return nil
}

func (c *Config) validateEscalation() error {
	e := c.Escalation
	if e.AccumulationLimit < 1 {
		return fmt.Errorf("ACCUMULATION_LIMIT must be at least 1, got %d", e.AccumulationLimit)
	}
	if !validSeverities[strings.ToLower(e.AccumulationMinSeverity)] {
		return fmt.Errorf("ACCUMULATION_MIN_SEVERITY %q is not a severity", e.AccumulationMinSeverity)
	}
	for sev, actions := range e.Policy {
		if !validSeverities[strings.ToLower(sev)] {
			return fmt.Errorf("escalation.policy: unknown severity %q", sev)
		}
		for _, a := range actions {
			if !validActions[a] {
				return fmt.Errorf("escalation.policy.%s: unknown action %q", sev, a)
			}
		}
	}
	if e.Webhook.Enabled && e.Webhook.URL == "" {
		return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_ENABLED=true")
	}
	return nil
}

func (c *Config) validateCoordinator() error {
	co := c.Coordinator
	if co.SweepInterval <= 0 || co.QueryTimeout <= 0 {
		return fmt.Errorf("coordinator sweep_interval and query_timeout must be positive")
	}
	if co.QueryTimeout >= co.SweepInterval {
		return fmt.Errorf("COORDINATOR_QUERY_TIMEOUT (%v) must be shorter than COORDINATOR_SWEEP_INTERVAL (%v)",
			co.QueryTimeout, co.SweepInterval)
	}
	if co.PublicThreshold < 1 || co.TimeoutThreshold < 1 {
		return fmt.Errorf("coordinator thresholds must be at least 1")
	}
	if co.Cooldown < 0 {
		return fmt.Errorf("COORDINATOR_COOLDOWN cannot be negative")
	}
	if c.Registry.Shards < 1 || c.Registry.RecentEvents < 1 {
		return fmt.Errorf("registry shards and recent_events must be at least 1")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	s := c.Security
	switch s.AuthMode {
	case "none":
		if c.Server.Environment == "production" {
			return fmt.Errorf("AUTH_MODE=none is not allowed when ENVIRONMENT=production")
		}
	case "jwt":
		if len(s.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters when AUTH_MODE=jwt")
		}
		if s.TokenTTL <= 0 {
			return fmt.Errorf("TOKEN_TTL must be positive")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be jwt or none, got %q", s.AuthMode)
	}
	for i, acct := range s.Supervisors {
		if acct.Username == "" || acct.PasswordHash == "" {
			return fmt.Errorf("security.supervisors[%d]: username and password_hash are required", i)
		}
		switch acct.Role {
		case "supervisor", "admin":
		default:
			return fmt.Errorf("security.supervisors[%d]: role must be supervisor or admin", i)
		}
	}
	if !s.RateLimitDisabled && (s.RateLimitReqs < 1 || s.RateLimitWindow <= 0) {
		return fmt.Errorf("rate limit requires RATE_LIMIT_REQUESTS >= 1 and a positive RATE_LIMIT_WINDOW")
	}
	if s.PushRate <= 0 || s.PushBurst < 1 {
		return fmt.Errorf("security.push_rate and security.push_burst must be positive")
	}
	return nil
}

func (c *Config) validateAudit() error {
	switch c.Audit.Store {
	case "memory":
	case "duckdb":
		if c.Audit.Path == "" {
			return fmt.Errorf("AUDIT_PATH is required when AUDIT_STORE=duckdb")
		}
	default:
		return fmt.Errorf("AUDIT_STORE must be memory or duckdb, got %q", c.Audit.Store)
	}
	if c.Audit.BufferSize < 1 || c.Audit.MaxEvents < 1 {
		return fmt.Errorf("audit buffer_size and max_events must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is invalid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}
