package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"disclosure-cache-api/internal/logging"
)

// Client represents a single websocket client connection.
// The actual network conn is managed in the ws handler.
type Client interface {
	Send(message []byte) bool
	Close()
}

// Hub maintains active user connections and broadcasts events to them.
type Hub struct {
	mu              sync.RWMutex
	userIdToClients map[string]map[Client]struct{}
	log             *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		userIdToClients: make(map[string]map[Client]struct{}),
		log:             logging.OrNop(log).Named("realtime"),
	}
}

// Register adds a client under a user ID.
func (h *Hub) Register(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userIdToClients[userID]; !ok {
		h.userIdToClients[userID] = make(map[Client]struct{})
	}
	h.userIdToClients[userID][client] = struct{}{}
}

// Unregister removes a client; if user has no more clients, cleans up map.
func (h *Hub) Unregister(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.userIdToClients[userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userIdToClients, userID)
		}
	}
}

// Clients returns the number of registered connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.userIdToClients {
		n += len(clients)
	}
	return n
}

// Broadcast sends a message to all clients of a user.
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.userIdToClients[userID] {
		if !c.Send(message) {
			// the handler unregisters it when its read loop fails
			h.log.Debug("send failed", zap.String("user_id", userID))
		}
	}
}

// BroadcastAll sends a message to every connected client.
func (h *Hub) BroadcastAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, clients := range h.userIdToClients {
		for c := range clients {
			if !c.Send(message) {
				h.log.Debug("send failed", zap.String("user_id", userID))
			}
		}
	}
}

// Event is a cache event pushed to subscribers.
type Event struct {
	Type          string `json:"type"`
	Action        string `json:"action"`
	Target        string `json:"target,omitempty"`
	AffectedItems int    `json:"affected_items"`
	UserID        string `json:"user_id"`
}

// EventCacheInvalidated is the Event.Type of every invalidation.
const EventCacheInvalidated = "cache_invalidated"

// Publish encodes ev as JSON and sends it to every client.
func (h *Hub) Publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", zap.Error(err))
		return
	}
	h.BroadcastAll(msg)
}
