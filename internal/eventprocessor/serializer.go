// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

// Message metadata keys.
const (
	MetadataKind      = "kind"
	MetadataOrigin    = "origin"
	MetadataSessionID = "session_id"
)

// ToMessage wraps e in a Watermill message keyed by the event id.
func ToMessage(e *Event) (*message.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("serialize event %s: %w", e.ID, err)
	}
	msg := message.NewMessage(e.ID, data)
	msg.Metadata.Set(MetadataKind, string(e.Kind))
	msg.Metadata.Set(MetadataOrigin, string(e.Origin))
	if e.SessionID != "" {
		msg.Metadata.Set(MetadataSessionID, e.SessionID)
	}
	return msg, nil
}

// FromMessage decodes an Event from a Watermill message.
func FromMessage(msg *message.Message) (*Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, fmt.Errorf("deserialize message %s: %w", msg.UUID, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
