// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import "errors"

// ErrNATSNotEnabled is returned when NATS features are used without the nats build tag.
var ErrNATSNotEnabled = errors.New("NATS event transport not enabled (build with -tags nats)")

// ErrBusClosed is returned when publishing on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrInvalidEvent is returned for events that fail validation.
var ErrInvalidEvent = errors.New("invalid event")

// ErrUnknownMessage is returned for push-channel messages with an unknown type.
var ErrUnknownMessage = errors.New("unknown push message type")
