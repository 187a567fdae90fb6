// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package escalation

import "errors"

var (
	// ErrDuplicateResponse is returned when an event was already handled.
	ErrDuplicateResponse = errors.New("duplicate response for security event")

	// ErrNilEvent is returned by Handle for a nil event.
	ErrNilEvent = errors.New("security event is nil")

	// ErrWebhookStatus is wrapped when the webhook endpoint answers >= 400.
	ErrWebhookStatus = errors.New("webhook returned error status")
)
