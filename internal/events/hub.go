// Package events delivers entitlement and usage changes to connected
// dashboard clients over WebSocket. Delivery is best-effort: the store is
// the source of truth and a dropped event only delays the UI until its next
// poll.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const (
	TypePlanChanged   = "plan_changed"
	TypeUsageReserved = "usage_reserved"
	TypeQuotaDenied   = "quota_denied"
	TypeUsageReset    = "usage_reset"
)

// Event is one entitlement or usage change for a single user.
type Event struct {
	Type     string    `json:"type"`
	UserID   int64     `json:"user_id"`
	Resource string    `json:"resource,omitempty"`
	Plan     string    `json:"plan,omitempty"`
	Used     int       `json:"used,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	At       time.Time `json:"at"`
}

// Hub tracks connected clients and routes each event to the clients
// authenticated as that event's user.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish sends the event to every connection owned by the event's user.
// Safe to call on a nil hub so callers don't have to guard wiring.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.userID != ev.UserID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop the event rather than block
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
