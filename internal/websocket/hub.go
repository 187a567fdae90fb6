// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examwatch/internal/logging"
	"github.com/tomtom215/examwatch/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication.
const (
	MessageTypePing               = "ping"
	MessageTypePong               = "pong"
	MessageTypeError              = "error"
	MessageTypeSignal             = "signal"
	MessageTypeTelemetry          = "telemetry"
	MessageTypeSecurityEvent      = "security_event"
	MessageTypeSessionFlagged     = "session_flagged"
	MessageTypeSessionState       = "session_state"
	MessageTypeMonitoringMode     = "monitoring_mode"
	MessageTypeParticipantWarning = "participant_warning"
	MessageTypeSupervisorAlert    = "supervisor_alert"
	MessageTypeMonitoringStopped  = "monitoring_stopped"
)

// Message represents a WebSocket message.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// DashboardListener is told when a dashboard connection opens or closes.
type DashboardListener func(c *Client, added bool)

// Hub keeps the set of connected clients. Dashboards receive broadcasts;
// participant clients are addressed per session.
type Hub struct {
	clients    map[*Client]bool
	sessions   map[string]map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	listenerMu sync.RWMutex
	listeners  []DashboardListener
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		sessions:   make(map[string]map[*Client]bool),
	}
}

// OnDashboardChange registers fn for dashboard connect and disconnect.
func (h *Hub) OnDashboardChange(fn DashboardListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Hub) notifyDashboard(c *Client, added bool) {
	if c.channel != ChannelDashboard {
		return
	}
	h.listenerMu.RLock()
	listeners := append([]DashboardListener(nil), h.listeners...)
	h.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(c, added)
	}
}

// RunWithContext runs the hub until ctx is cancelled, then closes every
// client and returns ctx.Err().
//
// Selection is prioritized: shutdown first, then client lifecycle, then
// broadcasts, so client state is consistent before a message is fanned out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	if c.channel == ChannelParticipant {
		set, ok := h.sessions[c.sessionID]
		if !ok {
			set = make(map[*Client]bool)
			h.sessions[c.sessionID] = set
		}
		set[c] = true
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.WithLabelValues(string(c.channel)).Inc()
	logging.Info().
		Str("channel", string(c.channel)).
		Str("session_id", c.sessionID).
		Int("total_clients", total).
		Msg("websocket client connected")
	h.notifyDashboard(c, true)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	removed := h.dropLocked(c)
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		logging.Info().
			Str("channel", string(c.channel)).
			Str("session_id", c.sessionID).
			Int("total_clients", total).
			Msg("websocket client disconnected")
		h.notifyDashboard(c, false)
	}
}

// dropLocked removes c and closes its send channel. The caller holds h.mu.
func (h *Hub) dropLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	if set, ok := h.sessions[c.sessionID]; ok && c.channel == ChannelParticipant {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
	close(c.send)
	metrics.WSConnections.WithLabelValues(string(c.channel)).Dec()
	return true
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns clients in id order so delivery order is stable.
func sortedClients(set map[*Client]bool) []*Client {
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients sends message to every dashboard client. Clients whose
// buffer is full are disconnected.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	var dropped []*Client
	for _, client := range sortedClients(h.clients) {
		if client.channel != ChannelDashboard {
			continue
		}
		select {
		case client.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			metrics.WSMessagesDropped.Inc()
			h.dropLocked(client)
			dropped = append(dropped, client)
		}
	}
	h.mu.Unlock()

	for _, c := range dropped {
		h.notifyDashboard(c, false)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	var dashboards []*Client
	for _, client := range sortedClients(h.clients) {
		h.dropLocked(client)
		if client.channel == ChannelDashboard {
			dashboards = append(dashboards, client)
		}
	}
	h.mu.Unlock()
	for _, c := range dashboards {
		h.notifyDashboard(c, false)
	}
}

// BroadcastJSON queues a typed message for every dashboard client. The
// message is dropped if the broadcast queue is full.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		metrics.WSMessagesDropped.Inc()
		logging.Warn().Str("type", messageType).Msg("Broadcast channel full, dropping message")
	}
}

// SendToSession delivers a typed message to the participant connections of
// sessionID and reports whether any was connected.
func (h *Hub) SendToSession(sessionID, messageType string, data interface{}) bool {
	msg := Message{Type: messageType, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[sessionID]
	if len(set) == 0 {
		return false
	}
	for _, client := range sortedClients(set) {
		select {
		case client.send <- msg:
			metrics.WSMessagesSent.Inc()
		default:
			metrics.WSMessagesDropped.Inc()
			h.dropLocked(client)
		}
	}
	return true
}

// CloseSession closes every participant connection of sessionID after
// sending it a final message. It returns the number of connections closed;
// a second call returns 0.
func (h *Hub) CloseSession(sessionID, reason string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[sessionID]
	n := 0
	for _, client := range sortedClients(set) {
		select {
		case client.send <- Message{Type: MessageTypeMonitoringStopped, Data: map[string]string{"reason": reason}}:
		default:
		}
		if h.dropLocked(client) {
			n++
		}
	}
	return n
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionClientCount returns the number of participant connections for
// sessionID.
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// MarshalMessage converts a Message to JSON bytes.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
