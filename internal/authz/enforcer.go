// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package authz decides which roles may call which API routes, using a
// Casbin RBAC model keyed on request path and method.
//
// The model and policy are embedded. A deployment may point
// EnforcerConfig.PolicyPath at its own CSV; the file is then reloaded
// periodically.
package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// EnforcerConfig selects the model and policy sources.
type EnforcerConfig struct {
	// ModelPath overrides the embedded model when the file exists.
	ModelPath string
	// PolicyPath overrides the embedded policy when the file exists.
	PolicyPath string
	// ReloadInterval re-reads PolicyPath. Zero disables reloading.
	ReloadInterval time.Duration
}

// Enforcer wraps a synced Casbin enforcer.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads the model and policy. A nil config uses the embedded
// files.
func NewEnforcer(cfg *EnforcerConfig) (*Enforcer, error) {
	if cfg == nil {
		cfg = &EnforcerConfig{}
	}

	var (
		m   model.Model
		err error
	)
	if cfg.ModelPath != "" && fileExists(cfg.ModelPath) {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	fromFile := cfg.PolicyPath != "" && fileExists(cfg.PolicyPath)
	if fromFile {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if fromFile && cfg.ReloadInterval > 0 {
		enforcer.StartAutoLoadPolicy(cfg.ReloadInterval)
	}
	return &Enforcer{enforcer: enforcer}, nil
}

// loadPolicy adds the p and g lines of a policy CSV.
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch rule := parts[1:]; parts[0] {
		case "p":
			if len(rule) != 3 {
				return fmt.Errorf("malformed policy line %q", line)
			}
			if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", rule, err)
			}
		case "g":
			if len(rule) != 2 {
				return fmt.Errorf("malformed grouping line %q", line)
			}
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
			}
		default:
			return fmt.Errorf("unknown policy type in %q", line)
		}
	}
	return nil
}

// ErrNoRole is returned when a request carries no role to check.
var ErrNoRole = errors.New("no role")

// Enforce reports whether role may perform method on path.
func (e *Enforcer) Enforce(role, path, method string) (bool, error) {
	if role == "" {
		return false, ErrNoRole
	}
	allowed, err := e.enforcer.Enforce(role, path, method)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	return allowed, nil
}

// Close stops policy auto-reload.
func (e *Enforcer) Close() {
	e.enforcer.StopAutoLoadPolicy()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
