// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/examwatch/internal/config"
)

// BcryptCost is the work factor for new password hashes.
const BcryptCost = 12

// HashPassword returns a bcrypt hash suitable for security.supervisors.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Directory verifies supervisor logins against configured bcrypt hashes.
type Directory struct {
	accounts map[string]config.SupervisorAccount
	// dummy is compared for unknown users so lookups cost the same either way.
	dummy []byte
}

// NewDirectory indexes accounts by username.
func NewDirectory(accounts []config.SupervisorAccount) *Directory {
	d := &Directory{accounts: make(map[string]config.SupervisorAccount, len(accounts))}
	for _, a := range accounts {
		d.accounts[a.Username] = a
	}
	d.dummy, _ = bcrypt.GenerateFromPassword([]byte("examwatch-unknown-user"), bcrypt.MinCost)
	return d
}

// Len returns the number of configured accounts.
func (d *Directory) Len() int {
	return len(d.accounts)
}

// Verify returns the subject for a correct username and password and
// ErrInvalidCredentials otherwise, without saying which part was wrong.
func (d *Directory) Verify(username, password string) (*Subject, error) {
	if username == "" || password == "" {
		return nil, ErrNoCredentials
	}
	acct, ok := d.accounts[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(d.dummy, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Subject{Username: acct.Username, Role: acct.Role}, nil
}
