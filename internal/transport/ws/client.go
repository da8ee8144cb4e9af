package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/metrics"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	eventTimeout   = 15 * time.Second
	maxMessageSize = 64 << 10
	sendBufSize    = 256
)

// Client represents a single WebSocket session. Each client runs its own
// read loop and dispatches inbound events synchronously within it.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	userID      uuid.UUID
	connectedAt time.Time

	limiter  *rate.Limiter
	handlers map[string]eventHandler

	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, services Services, limiter *rate.Limiter) *Client {
	c := &Client{
		hub:         hub,
		conn:        conn,
		userID:      userID,
		connectedAt: time.Now(),
		limiter:     limiter,
		send:        make(chan []byte, sendBufSize),
		done:        make(chan struct{}),
	}
	c.handlers = newDispatchTable(c, services)
	return c
}

func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// Done is closed once the session stops accepting deliveries.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops delivery and closes the connection.
func (c *Client) Close() {
	c.shutdown()
	if c.conn != nil {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// enqueue hands data to the write pump without blocking. It reports false if
// the session is closed or its buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReadPump reads events from the WebSocket and dispatches them until the
// connection closes. It unregisters the client on exit.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Info("ws: client disconnected", "user_id", c.userID, "connected_for", time.Since(c.connectedAt).Round(time.Second))
			} else {
				slog.Warn("ws: read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
			metrics.InboundEvents.WithLabelValues("invalid", "error").Inc()
			c.sendError("", "INVALID_PAYLOAD", "event must be a JSON object with a type")
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.InboundEvents.WithLabelValues(c.eventLabel(event.Type), "rate_limited").Inc()
			c.sendError(event.Type, "RATE_LIMITED", "too many events")
			continue
		}

		c.dispatch(&event)
	}
}

// WritePump writes queued events to the WebSocket and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Warn("ws: write error", "user_id", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				slog.Warn("ws: ping error", "user_id", c.userID, "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// emit sends an event to this session only.
func (c *Client) emit(eventType string, conversationID *uuid.UUID, payload any) {
	data, err := encode(eventType, conversationID, payload)
	if err != nil {
		slog.Error("ws: marshal error", "event", eventType, "error", err)
		return
	}
	if !c.enqueue(data) {
		metrics.DroppedDeliveries.Inc()
	}
}

// eventLabel keeps metric label values to the known event names.
func (c *Client) eventLabel(eventType string) string {
	if _, ok := c.handlers[eventType]; ok {
		return eventType
	}
	return "unknown"
}

func (c *Client) sendError(event, code, message string) {
	c.emit(EventTypeError, nil, ErrorPayload{Event: event, Code: code, Message: message})
}
