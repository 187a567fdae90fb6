// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package eventprocessor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/examwatch/internal/metrics"
)

// Bus is a Watermill publisher/subscriber pair with optional circuit breaker
// protection on publish.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	breaker    *gobreaker.CircuitBreaker[interface{}]
	logger     watermill.LoggerAdapter
	transport  string
	// shared is true when publisher and subscriber are the same object.
	shared bool

	mu     sync.RWMutex
	closed bool
}

// NewChannelBus creates an in-process bus backed by gochannel.
func NewChannelBus(buffer int64, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: buffer,
	}, logger)
	return &Bus{
		publisher:  gc,
		subscriber: gc,
		logger:     logger,
		transport:  "gochannel",
		shared:     true,
	}
}

// SetCircuitBreaker guards Publish with cb.
func (b *Bus) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	b.breaker = cb
}

// Transport names the underlying pub/sub implementation.
func (b *Bus) Transport() string {
	return b.transport
}

// Publish sends e on the topic for its kind.
func (b *Bus) Publish(ctx context.Context, e *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if err := e.Validate(); err != nil {
		return err
	}

	msg, err := ToMessage(e)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	topic := e.Kind.Topic()
	if b.breaker != nil {
		_, err = b.breaker.Execute(func() (interface{}, error) {
			return nil, b.publisher.Publish(topic, msg)
		})
	} else {
		err = b.publisher.Publish(topic, msg)
	}
	metrics.RecordBusMessage(string(e.Kind), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns the raw message stream for topic. The channel closes
// when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	return b.subscriber.Subscribe(ctx, topic)
}

// Subscriber exposes the Watermill subscriber for the router.
func (b *Bus) Subscriber() message.Subscriber {
	return b.subscriber
}

// Close shuts down the publisher and subscriber.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.publisher.Close()
	if !b.shared {
		if serr := b.subscriber.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
