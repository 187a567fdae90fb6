// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/config"
)

type tokenOptions struct {
	username  string
	role      string
	sessionID string
	ttl       time.Duration
}

func newTokenCmd() *cobra.Command {
	opts := tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token",
		Long: `Issue a signed API token with the configured JWT secret.

Exam platforms use this to hand each participant a token bound to one
session, and to give detector gateways a long-lived detector token.`,
		Example: `  examwatch token --role participant --username student-17 --session s-8f2c
  examwatch token --role detector --username face-gateway --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, expires, err := issueToken(cfg, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.username, "username", "", "subject name recorded in logs and the audit trail")
	cmd.Flags().StringVar(&opts.role, "role", auth.RoleParticipant, "participant, detector, supervisor or admin")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "exam session the token is bound to (participant tokens)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "token lifetime (defaults to security.token_ttl)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func issueToken(cfg *config.Config, opts tokenOptions) (string, time.Time, error) {
	if cfg.Security.AuthMode != string(auth.AuthModeJWT) {
		return "", time.Time{}, errors.New("tokens require AUTH_MODE=jwt")
	}
	if !auth.ValidRole(opts.role) {
		return "", time.Time{}, fmt.Errorf("unknown role %q", opts.role)
	}
	if opts.role == auth.RoleParticipant && opts.sessionID == "" {
		return "", time.Time{}, errors.New("participant tokens need --session")
	}
	ttl := opts.ttl
	if ttl <= 0 {
		ttl = cfg.Security.TokenTTL
	}
	m, err := auth.NewJWTManager(cfg.Security.JWTSecret, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return m.GenerateToken(auth.Subject{Username: opts.username, Role: opts.role, SessionID: opts.sessionID})
}

func newHashPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for a supervisor account",
		Long: `Print a bcrypt hash for security.supervisors[].password_hash.

The password is read from --password or, when omitted, from the first line
of standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password to hash (prefer stdin)")
	return cmd
}
