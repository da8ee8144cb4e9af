package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/metrics"
	"github.com/vedran77/courier/internal/presence"
)

var ErrHubClosed = errors.New("hub is closed")

// Hub is the session router: it maps each user to their live sessions and
// drives the presence registry from session counts. All work under mu is
// in-memory and sends never block.
type Hub struct {
	presence *presence.Registry

	mu       sync.RWMutex
	sessions map[uuid.UUID]map[*Client]struct{}
	count    int
	closed   bool
}

func NewHub(registry *presence.Registry) *Hub {
	return &Hub{
		presence: registry,
		sessions: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// Register adds a session. The user's first session marks them online and
// broadcasts the new online set.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	set, ok := h.sessions[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[c.userID] = set
	}
	set[c] = struct{}{}
	h.count++
	metrics.Sessions.Set(float64(h.count))

	slog.Info("ws hub: session registered", "user_id", c.userID, "user_sessions", len(set), "sessions", h.count)

	if len(set) == 1 && h.presence.MarkOnline(c.userID) {
		h.broadcastOnlineLocked()
	}
	return nil
}

// Unregister removes a session and stops further delivery to it. The user
// goes offline only when their last session is gone. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	c.shutdown()

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	h.count--
	metrics.Sessions.Set(float64(h.count))

	slog.Info("ws hub: session closed", "user_id", c.userID, "user_sessions", len(set), "sessions", h.count)

	if len(set) > 0 {
		return
	}
	delete(h.sessions, c.userID)
	if h.presence.MarkOffline(c.userID) {
		h.broadcastOnlineLocked()
	}
}

// SessionsOf returns a copy of the user's live sessions.
func (h *Hub) SessionsOf(userID uuid.UUID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.sessions[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// EmitToUser delivers an event to every live session of the user. It is a
// no-op when the user is offline.
func (h *Hub) EmitToUser(userID uuid.UUID, eventType string, payload any) {
	h.emitToUser(userID, eventType, nil, payload)
}

func (h *Hub) emitToUser(userID uuid.UUID, eventType string, conversationID *uuid.UUID, payload any) {
	data, err := encode(eventType, conversationID, payload)
	if err != nil {
		slog.Error("ws hub: marshal error", "event", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.sessions[userID] {
		if !c.enqueue(data) {
			metrics.DroppedDeliveries.Inc()
		}
	}
}

// Broadcast delivers an event to every live session.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := encode(eventType, nil, payload)
	if err != nil {
		slog.Error("ws hub: marshal error", "event", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.broadcastLocked(data)
}

// Close refuses new sessions, closes every live one and forces everyone
// offline.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var clients []*Client
	for _, set := range h.sessions {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.sessions = make(map[uuid.UUID]map[*Client]struct{})
	h.count = 0
	drained := h.presence.Drain()
	h.mu.Unlock()

	metrics.Sessions.Set(0)
	metrics.OnlineUsers.Set(0)
	slog.Info("ws hub: closed", "sessions", len(clients), "users", len(drained))

	for _, c := range clients {
		c.Close()
	}
}

// broadcastOnlineLocked sends the online snapshot while mu is held, so
// snapshots reach clients in transition order.
func (h *Hub) broadcastOnlineLocked() {
	online := h.presence.Snapshot()
	metrics.OnlineUsers.Set(float64(len(online)))

	data, err := encode(EventTypeOnlineUser, nil, online)
	if err != nil {
		slog.Error("ws hub: marshal error", "event", EventTypeOnlineUser, "error", err)
		return
	}
	h.broadcastLocked(data)
}

func (h *Hub) broadcastLocked(data []byte) {
	for _, set := range h.sessions {
		for c := range set {
			if !c.enqueue(data) {
				metrics.DroppedDeliveries.Inc()
			}
		}
	}
}

func encode(eventType string, conversationID *uuid.UUID, payload any) ([]byte, error) {
	evt, err := NewEvent(eventType, conversationID, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}
