// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

// Package main is the examwatch command.
//
// # Commands
//
//	examwatch serve           run the monitoring server
//	examwatch token           issue a participant, detector or supervisor token
//	examwatch hash-password   print a bcrypt hash for security.supervisors
//
// # Configuration
//
// Settings are layered with Koanf (highest priority wins):
//   - Environment variables (HTTP_PORT, AUTH_MODE, JWT_SECRET, STORE_PATH, ...)
//   - Config file (--config, CONFIG_PATH, or ./config.yaml)
//   - Built-in defaults
//
// # Build Tags
//
//	go build -tags nats ./cmd/examwatch   # NATS JetStream event bus
//
// Without the tag the event bus is an in-process Go channel and
// NATS_ENABLED=true fails at startup.
//
// # Signal Handling
//
// serve stops on SIGINT or SIGTERM: the HTTP server drains, the supervisor
// tree stops every service, then the bus, audit trail and session store are
// closed in that order.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/examwatch/internal/api"
	"github.com/tomtom215/examwatch/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "examwatch",
		Short: "ExamWatch - live proctoring and real-time exam monitoring",
		Long: `ExamWatch watches online exam sessions as they happen: it ingests
detector signals from exam clients, classifies them into security events,
applies the escalation policy and streams live views to supervisor
dashboards.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			api.Version = Version
			if configPath != "" {
				return os.Setenv(config.ConfigPathEnvVar, configPath)
			}
			return nil
		},
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"ExamWatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (overrides CONFIG_PATH)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newHashPasswordCmd())
	return root
}
