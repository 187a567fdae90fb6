// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package escalation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/examwatch/internal/eventprocessor"
)

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Enabled bool

	// RateLimit is the minimum gap between two deliveries.
	RateLimit time.Duration
	Timeout   time.Duration

	// Audiences forwarded to the webhook. Defaults to supervisor only.
	Audiences []Audience

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// WebhookPayload is the JSON body POSTed to the endpoint.
type WebhookPayload struct {
	Notification Notification `json:"notification"`
	EventType    string       `json:"event_type"`
	Timestamp    time.Time    `json:"timestamp"`
	Source       string       `json:"source"`
}

// WebhookNotifier posts supervisor alerts to an HTTP endpoint. Consecutive
// failures open a circuit breaker so a dead endpoint does not tie up the
// notification goroutines.
type WebhookNotifier struct {
	url       string
	headers   map[string]string
	audiences map[Audience]bool
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[interface{}]
	enabled   bool

	mu        sync.Mutex
	lastSent  time.Time
	rateLimit time.Duration
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = time.Minute
	}
	audiences := cfg.Audiences
	if len(audiences) == 0 {
		audiences = []Audience{AudienceSupervisor}
	}

	n := &WebhookNotifier{
		url:       cfg.URL,
		headers:   make(map[string]string, len(cfg.Headers)),
		audiences: make(map[Audience]bool, len(audiences)),
		enabled:   cfg.Enabled,
		rateLimit: cfg.RateLimit,
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker: eventprocessor.NewCircuitBreaker(eventprocessor.CircuitBreakerConfig{
			Name:             "webhook",
			Timeout:          cfg.BreakerTimeout,
			FailureThreshold: cfg.BreakerMaxFailures,
		}),
	}
	for k, v := range cfg.Headers {
		n.headers[k] = v
	}
	for _, a := range audiences {
		n.audiences[a] = true
	}
	return n
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Enabled() bool { return n.enabled && n.url != "" }

// BreakerState reports the breaker state for health output.
func (n *WebhookNotifier) BreakerState() string {
	return eventprocessor.CircuitBreakerState(n.breaker)
}

// Send delivers note if its audience is forwarded. It waits out the rate
// limit, honoring ctx.
func (n *WebhookNotifier) Send(ctx context.Context, note Notification) error {
	if !n.Enabled() || !n.audiences[note.Audience] {
		return nil
	}
	if err := n.wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(WebhookPayload{
		Notification: note,
		EventType:    note.Kind,
		Timestamp:    time.Now().UTC(),
		Source:       "examwatch",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", note.Kind, err)
	}
	return nil
}

// wait reserves the next send slot, sleeping until it arrives.
func (n *WebhookNotifier) wait(ctx context.Context) error {
	n.mu.Lock()
	now := time.Now()
	next := n.lastSent.Add(n.rateLimit)
	if next.Before(now) {
		next = now
	}
	n.lastSent = next
	n.mu.Unlock()

	delay := time.Until(next)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range n.headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}
