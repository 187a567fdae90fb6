// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package config loads ExamWatch configuration with Koanf v2.
//
// Sources are layered, later ones winning:
//  1. Defaults from defaultConfig()
//  2. Optional YAML file (config.yaml, or the path in CONFIG_PATH)
//  3. Environment variables mapped by envTransformFunc
//
// Config is immutable after Load and safe for concurrent reads.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Store       StoreConfig       `koanf:"store"`
	NATS        NATSConfig        `koanf:"nats"`
	Proctoring  ProctoringConfig  `koanf:"proctoring"`
	Escalation  EscalationConfig  `koanf:"escalation"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Registry    RegistryConfig    `koanf:"registry"`
	Security    SecurityConfig    `koanf:"security"`
	Audit       AuditConfig       `koanf:"audit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// LoggingConfig configures the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig configures the badger-backed session store.
type StoreConfig struct {
	Path string `koanf:"path"`
	// InMemory keeps everything in RAM; nothing survives a restart.
	InMemory   bool          `koanf:"in_memory"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`
	// ArchiveTTL is how long evaluated sessions are retained. Zero keeps them forever.
	ArchiveTTL time.Duration `koanf:"archive_ttl"`
}

// NATSConfig configures the optional NATS JetStream transport for the event
// bus. It is only honoured in binaries built with -tags=nats.
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
	SubscribersCount int           `koanf:"subscribers_count"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
}

// ProctoringConfig holds deployment-wide proctoring defaults. Assessments may
// override the debounce window, detector timeout and readiness timeout.
type ProctoringConfig struct {
	DebounceWindow       time.Duration `koanf:"debounce_window"`
	DetectorTimeout      time.Duration `koanf:"detector_timeout"`
	ReadinessTimeout     time.Duration `koanf:"readiness_timeout"`
	TimeoutSweepInterval time.Duration `koanf:"timeout_sweep_interval"`
	ExpirySweepInterval  time.Duration `koanf:"expiry_sweep_interval"`
	SignalBuffer         int           `koanf:"signal_buffer"`
	Penalties            PenaltyConfig `koanf:"penalties"`
}

// PenaltyConfig maps severities to integrity-score deductions.
type PenaltyConfig struct {
	Low      int `koanf:"low"`
	Medium   int `koanf:"medium"`
	High     int `koanf:"high"`
	Critical int `koanf:"critical"`
}

// EscalationConfig configures the auto-response engine.
type EscalationConfig struct {
	// Policy overrides the severity -> actions table, e.g. high: [flag, alert_dashboard].
	Policy                  map[string][]string `koanf:"policy"`
	AccumulationLimit       int                 `koanf:"accumulation_limit"`
	AccumulationMinSeverity string              `koanf:"accumulation_min_severity"`
	DedupCapacity           int                 `koanf:"dedup_capacity"`
	Webhook                 WebhookConfig       `koanf:"webhook"`
}

// WebhookConfig configures supervisor webhook notifications.
type WebhookConfig struct {
	Enabled            bool              `koanf:"enabled"`
	URL                string            `koanf:"url"`
	Headers            map[string]string `koanf:"headers"`
	RateLimit          time.Duration     `koanf:"rate_limit"`
	Timeout            time.Duration     `koanf:"timeout"`
	BreakerMaxFailures uint32            `koanf:"breaker_max_failures"`
	BreakerTimeout     time.Duration     `koanf:"breaker_timeout"`
}

// CoordinatorConfig configures monitoring-mode selection.
type CoordinatorConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	QueryTimeout  time.Duration `koanf:"query_timeout"`
	// PublicThreshold is the number of public exam-takers that, with any
	// watcher present, downgrades to resource_safe.
	PublicThreshold int `koanf:"public_threshold"`
	// TimeoutThreshold is the number of consecutive sweep timeouts that
	// downgrades a degraded coordinator to minimal.
	TimeoutThreshold   int           `koanf:"timeout_threshold"`
	Cooldown           time.Duration `koanf:"cooldown"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// RegistryConfig configures the live-session registry and aggregator.
type RegistryConfig struct {
	Shards       int `koanf:"shards"`
	RecentEvents int `koanf:"recent_events"`
}

// SupervisorAccount is a dashboard login. PasswordHash is a bcrypt hash
// (see `examwatch hash-password`).
type SupervisorAccount struct {
	Username     string `koanf:"username"`
	PasswordHash string `koanf:"password_hash"`
	Role         string `koanf:"role"`
}

// SecurityConfig configures authentication, authorization and rate limits.
type SecurityConfig struct {
	// AuthMode is jwt or none.
	AuthMode          string              `koanf:"auth_mode"`
	JWTSecret         string              `koanf:"jwt_secret"`
	TokenTTL          time.Duration       `koanf:"token_ttl"`
	Supervisors       []SupervisorAccount `koanf:"supervisors"`
	CORSOrigins       []string            `koanf:"cors_origins"`
	RateLimitReqs     int                 `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration       `koanf:"rate_limit_window"`
	RateLimitDisabled bool                `koanf:"rate_limit_disabled"`
	// PushRate and PushBurst bound detector messages per participant connection.
	PushRate  float64 `koanf:"push_rate"`
	PushBurst int     `koanf:"push_burst"`
	// AuthzPolicyPath replaces the built-in route policy with a Casbin CSV,
	// re-read every AuthzReloadInterval.
	AuthzPolicyPath     string        `koanf:"authz_policy_path"`
	AuthzReloadInterval time.Duration `koanf:"authz_reload_interval"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Store is memory or duckdb.
	Store      string `koanf:"store"`
	Path       string `koanf:"path"`
	BufferSize int    `koanf:"buffer_size"`
	MaxEvents  int    `koanf:"max_events"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
