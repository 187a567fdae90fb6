// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/examwatch/internal/api"
	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/authz"
	"github.com/tomtom215/examwatch/internal/config"
	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/monitor"
	"github.com/tomtom215/examwatch/internal/store"
	"github.com/tomtom215/examwatch/internal/supervisor"
	"github.com/tomtom215/examwatch/internal/supervisor/services"
	"github.com/tomtom215/examwatch/internal/websocket"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

//nolint:gocyclo // Sequential startup steps
func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Service:   "examwatch",
	})
	logging.Info().
		Str("version", Version).
		Str("environment", cfg.Server.Environment).
		Str("auth_mode", cfg.Security.AuthMode).
		Str("audit_store", cfg.Audit.Store).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting ExamWatch")

	st, err := store.Open(store.Config{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
		GCInterval: cfg.Store.GCInterval,
		ArchiveTTL: cfg.Store.ArchiveTTL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}()

	auditLog, closeAuditStore, err := openAudit(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	defer closeAuditStore()
	defer func() { _ = auditLog.Close() }()

	transport, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	hub := websocket.NewHub()
	sys, err := monitor.NewSystem(cfg, monitor.Options{
		Store: st,
		Bus:   transport.bus,
		Hub:   hub,
		Audit: auditLog,
	})
	if err != nil {
		return err
	}
	restored, err := sys.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	logging.Info().Int("sessions", restored).Msg("Live sessions restored")

	handler, err := newAPIHandler(cfg, sys)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		// The ready endpoint may hold a request for the readiness timeout.
		WriteTimeout: cfg.Server.Timeout + cfg.Proctoring.ReadinessTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(st)
	tree.AddDataService(auditLog)

	if transport.broker != nil {
		tree.AddMessagingService(services.NewBrokerService(transport.broker))
	}
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(sys.Router)
	tree.AddMessagingService(sys.Feed)
	tree.AddMessagingService(sys.Coordinator)
	tree.AddMessagingService(services.NewSweeperService(sys.Sweeper))

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown requested, waiting for services to stop")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	sys.Escalation.Wait()
	logging.Info().Msg("ExamWatch stopped")
	return nil
}

// newAPIHandler builds authentication, the route policy and the handler.
func newAPIHandler(cfg *config.Config, sys *monitor.System) (*api.Handler, error) {
	enforcer, err := authz.NewEnforcer(&authz.EnforcerConfig{
		PolicyPath:     cfg.Security.AuthzPolicyPath,
		ReloadInterval: cfg.Security.AuthzReloadInterval,
	})
	if err != nil {
		return nil, err
	}

	var jwtManager *auth.JWTManager
	if cfg.Security.AuthMode == string(auth.AuthModeJWT) {
		jwtManager, err = auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
		if err != nil {
			return nil, err
		}
	} else {
		logging.Warn().Msg("Authentication disabled (AUTH_MODE=none); every caller is treated as admin")
	}

	directory := auth.NewDirectory(cfg.Security.Supervisors)
	logging.Info().Int("accounts", directory.Len()).Msg("Supervisor directory loaded")

	return api.NewHandler(api.Deps{
		Config:    cfg,
		System:    sys,
		Enforcer:  enforcer,
		JWT:       jwtManager,
		Directory: directory,
	})
}
