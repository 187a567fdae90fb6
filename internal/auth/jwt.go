// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the ExamWatch token claims. Subject holds the username.
type Claims struct {
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates HS256 tokens.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager returns a manager for secret. Secrets shorter than 32 bytes
// are refused.
func NewJWTManager(secret string, ttl time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (m *JWTManager) TTL() time.Duration {
	return m.ttl
}

// GenerateToken signs a token for s and returns it with its expiry.
func (m *JWTManager) GenerateToken(s Subject) (string, time.Time, error) {
	if s.Username == "" || !ValidRole(s.Role) {
		return "", time.Time{}, fmt.Errorf("generate token: %w", ErrInvalidCredentials)
	}
	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		Role:      s.Role,
		SessionID: s.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Username,
			Issuer:    "examwatch",
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken checks the signature, algorithm and time claims and returns
// the subject. Expired tokens yield ErrExpiredCredentials, everything else
// ErrInvalidCredentials.
func (m *JWTManager) ValidateToken(tokenString string) (*Subject, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer("examwatch"),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || !ValidRole(claims.Role) {
		return nil, ErrInvalidCredentials
	}
	return &Subject{Username: claims.Subject, Role: claims.Role, SessionID: claims.SessionID}, nil
}
