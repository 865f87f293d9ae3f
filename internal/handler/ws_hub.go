package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/metrics"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type     string `json:"type"`
	BattleID string `json:"battle_id"`
	Data     any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	BattleID string `json:"battle_id"`
}

// WSConn is one spectator connection.
type WSConn struct {
	conn *websocket.Conn
	id   string
	send chan []byte
}

// Hub tracks spectator connections and the battles they watch. Spectators
// only receive; nothing they send changes a battle.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	battles     map[string]map[*WSConn]bool // battleID -> watchers
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		battles:     make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
	metrics.SpectatorConnections.Inc()
}

// Unregister removes a connection and all its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	for battleID, conns := range h.battles {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.battles, battleID)
		}
	}
	close(c.send)
	metrics.SpectatorConnections.Dec()
}

// Subscribe starts streaming battleID's events to c.
func (h *Hub) Subscribe(c *WSConn, battleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	if h.battles[battleID] == nil {
		h.battles[battleID] = make(map[*WSConn]bool)
	}
	h.battles[battleID][c] = true
}

// Unsubscribe stops streaming battleID's events to c.
func (h *Hub) Unsubscribe(c *WSConn, battleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.battles[battleID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.battles, battleID)
		}
	}
}

// BroadcastToBattle sends an event to every watcher of a battle.
func (h *Hub) BroadcastToBattle(battleID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("battleId", battleID).Msg("Failed to marshal WebSocket event")
		return
	}
	h.DeliverRaw(battleID, data)
}

// DeliverRaw sends an already-encoded event to every watcher of a battle.
// Slow spectators lose messages rather than stall the sender.
func (h *Hub) DeliverRaw(battleID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.battles[battleID] {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("spectatorId", c.id).Str("battleId", battleID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// sendTo queues an event for one connection if it is still registered.
func (h *Hub) sendTo(c *WSConn, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("spectatorId", c.id).Msg("Failed to marshal WebSocket event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.connections[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("spectatorId", c.id).Msg("Dropping WebSocket message, buffer full")
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// BattleSubscriberCount returns the number of connections watching a battle.
func (h *Hub) BattleSubscriberCount(battleID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.battles[battleID])
}
