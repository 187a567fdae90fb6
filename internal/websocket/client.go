// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Channel distinguishes dashboard from participant connections.
type Channel string

const (
	ChannelDashboard   Channel = "dashboard"
	ChannelParticipant Channel = "participant"
)

// InboundHandler processes one participant message. A returned error is
// reported back to the client as an error message.
type InboundHandler func(ctx context.Context, sessionID string, raw []byte) error

// ClientOptions configure NewClient.
type ClientOptions struct {
	Channel   Channel
	SessionID string // participant channel only
	Subject   string // authenticated user, for logs
	// Limiter bounds inbound participant messages; nil means unlimited.
	Limiter   *rate.Limiter
	OnMessage InboundHandler
}

// clientIDCounter gives clients a stable ordering for broadcasts.
var clientIDCounter atomic.Uint64

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id        uint64
	connID    string
	hub       *Hub
	conn      *websocket.Conn
	send      chan Message
	channel   Channel
	sessionID string
	subject   string
	limiter   *rate.Limiter
	onMessage InboundHandler
}

// NewClient creates a client for conn.
func NewClient(hub *Hub, conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.Channel == "" {
		opts.Channel = ChannelDashboard
	}
	return &Client{
		id:        clientIDCounter.Add(1),
		connID:    uuid.NewString(),
		hub:       hub,
		conn:      conn,
		send:      make(chan Message, sendBuffer),
		channel:   opts.Channel,
		sessionID: opts.SessionID,
		subject:   opts.Subject,
		limiter:   opts.Limiter,
		onMessage: opts.OnMessage,
	}
}

// ID returns the client's ordering id.
func (c *Client) ID() uint64 { return c.id }

// ConnID returns the connection's unique id; dashboards are registered as
// watchers under it.
func (c *Client) ConnID() string { return c.connID }

// Channel returns the client's channel.
func (c *Client) Channel() Channel { return c.channel }

// SessionID returns the participant session, empty for dashboards.
func (c *Client) SessionID() string { return c.sessionID }

// Subject returns the authenticated user.
func (c *Client) Subject() string { return c.subject }

func (c *Client) reply(msg Message) {
	select {
	case c.send <- msg:
	default:
		metrics.WSMessagesDropped.Inc()
	}
}

// readPump pumps inbound messages until the connection fails.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("channel", string(c.channel)).Msg("unexpected websocket close error")
			}
			return
		}
		c.handle(ctx, raw)
	}
}

func (c *Client) handle(ctx context.Context, raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		c.reply(Message{Type: MessageTypeError, Data: "malformed message"})
		return
	}
	if env.Type == MessageTypePing {
		c.reply(Message{Type: MessageTypePong})
		return
	}
	if c.channel != ChannelParticipant || c.onMessage == nil {
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		metrics.WSMessagesDropped.Inc()
		c.reply(Message{Type: MessageTypeError, Data: "rate limited"})
		return
	}
	if err := c.onMessage(ctx, c.sessionID, raw); err != nil {
		logging.Ctx(ctx).Debug().
			Err(err).
			Str("session_id", c.sessionID).
			Str("type", env.Type).
			Msg("Participant message rejected")
		c.reply(Message{Type: MessageTypeError, Data: err.Error()})
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client. ctx is handed to the
// inbound handler.
func (c *Client) Start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}
