// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/examwatch/config.yaml",
	"/etc/examwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path:       "/data/examwatch",
			GCInterval: 10 * time.Minute,
			ArchiveTTL: 90 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			MaxMemory:        256 << 20,
			MaxStore:         2 << 30,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			SubscribersCount: 2,
			DurableName:      "examwatch",
			QueueGroup:       "proctoring",
			AckWaitTimeout:   30 * time.Second,
		},
		Proctoring: ProctoringConfig{
			DebounceWindow:       4 * time.Second,
			DetectorTimeout:      15 * time.Second,
			ReadinessTimeout:     60 * time.Second,
			TimeoutSweepInterval: 5 * time.Second,
			ExpirySweepInterval:  30 * time.Second,
			SignalBuffer:         1024,
			Penalties: PenaltyConfig{
				Low:      1,
				Medium:   5,
				High:     10,
				Critical: 25,
			},
		},
		Escalation: EscalationConfig{
			AccumulationLimit:       5,
			AccumulationMinSeverity: "medium",
			DedupCapacity:           100000,
			Webhook: WebhookConfig{
				RateLimit:          500 * time.Millisecond,
				Timeout:            10 * time.Second,
				BreakerMaxFailures: 5,
				BreakerTimeout:     60 * time.Second,
			},
		},
		Coordinator: CoordinatorConfig{
			SweepInterval:      5 * time.Second,
			QueryTimeout:       2 * time.Second,
			PublicThreshold:    1,
			TimeoutThreshold:   1,
			Cooldown:           60 * time.Second,
			BreakerMaxFailures: 3,
			BreakerTimeout:     30 * time.Second,
		},
		Registry: RegistryConfig{
			Shards:       16,
			RecentEvents: 200,
		},
		Security: SecurityConfig{
			AuthMode:        "jwt",
			TokenTTL:        8 * time.Hour,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			PushRate:        20,
			PushBurst:       40,

			AuthzReloadInterval: time.Minute,
		},
		Audit: AuditConfig{
			Store:      "memory",
			Path:       "/data/audit.duckdb",
			BufferSize: 1000,
			MaxEvents:  10000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_port":        "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"store_path":        "store.path",
	"store_in_memory":   "store.in_memory",
	"store_sync_writes": "store.sync_writes",
	"store_gc_interval": "store.gc_interval",
	"archive_ttl":       "store.archive_ttl",

	"nats_enabled":    "nats.enabled",
	"nats_url":        "nats.url",
	"nats_embedded":   "nats.embedded_server",
	"nats_store_dir":  "nats.store_dir",
	"nats_max_memory": "nats.max_memory",
	"nats_max_store":  "nats.max_store",

	"debounce_window":        "proctoring.debounce_window",
	"detector_timeout":       "proctoring.detector_timeout",
	"readiness_timeout":      "proctoring.readiness_timeout",
	"timeout_sweep_interval": "proctoring.timeout_sweep_interval",
	"expiry_sweep_interval":  "proctoring.expiry_sweep_interval",

	"accumulation_limit":        "escalation.accumulation_limit",
	"accumulation_min_severity": "escalation.accumulation_min_severity",
	"webhook_enabled":           "escalation.webhook.enabled",
	"webhook_url":               "escalation.webhook.url",

	"coordinator_sweep_interval":    "coordinator.sweep_interval",
	"coordinator_query_timeout":     "coordinator.query_timeout",
	"coordinator_public_threshold":  "coordinator.public_threshold",
	"coordinator_timeout_threshold": "coordinator.timeout_threshold",
	"coordinator_cooldown":          "coordinator.cooldown",

	"registry_shards":        "registry.shards",
	"registry_recent_events": "registry.recent_events",

	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"token_ttl":           "security.token_ttl",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"authz_policy_path":   "security.authz_policy_path",
	"authz_reload":        "security.authz_reload_interval",

	"audit_store":      "audit.store",
	"audit_path":       "audit.path",
	"audit_max_events": "audit.max_events",
}

// envTransformFunc maps flat environment names onto koanf paths, e.g.
// HTTP_PORT -> server.port. Unmapped variables are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
