package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/logger"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // Must be less than pongWait
	maxMsgSize  = 1024
	sendBufSize = 256
)

// EventBattleSnapshot carries a battle's current state to a new watcher.
const EventBattleSnapshot = "battle_snapshot"

// SnapshotFunc returns the current state of a battle for a new watcher.
type SnapshotFunc func(ctx context.Context, battleID string) (any, error)

// WSHandler serves the read-only spectator feed.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
}

// NewWSHandler creates a WSHandler. allowedOrigin "*" accepts any origin.
func NewWSHandler(hub *Hub, allowedOrigin string) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

// WithSnapshots sends every new subscription the battle's current state
// before live events.
func (h *WSHandler) WithSnapshots(fn SnapshotFunc) *WSHandler {
	h.snapshot = fn
	return h
}

// ServeWS handles GET /ws. An optional ?battle_id= subscribes immediately;
// more battles can be watched with subscribe messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSConn{
		conn: conn,
		id:   logger.NewRequestID(),
		send: make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)

	welcome, _ := json.Marshal(WSEvent{Type: "connected", Data: map[string]string{"spectator_id": client.id}})
	client.send <- welcome

	if battleID := r.URL.Query().Get("battle_id"); battleID != "" {
		h.subscribe(client, battleID)
	}

	go h.writePump(client)
	go h.readPump(client)

	log.Info().Str("spectatorId", client.id).Int("total", h.hub.ConnectionCount()).Msg("Spectator connected")
}

// readPump handles subscription changes until the connection closes.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("spectatorId", c.id).Msg("Spectator disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("spectatorId", c.id).Msg("WebSocket unexpected close")
			}
			return
		}
		h.handleClientMessage(c, message)
	}
}

func (h *WSHandler) handleClientMessage(c *WSConn, message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.BattleID == "" {
		return
	}
	switch msg.Action {
	case "subscribe":
		h.subscribe(c, msg.BattleID)
	case "unsubscribe":
		h.hub.Unsubscribe(c, msg.BattleID)
	}
}

func (h *WSHandler) subscribe(c *WSConn, battleID string) {
	h.hub.Subscribe(c, battleID)
	if h.snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	data, err := h.snapshot(ctx, battleID)
	if err != nil {
		log.Warn().Err(err).Str("spectatorId", c.id).Str("battleId", battleID).Msg("Battle snapshot failed")
		return
	}
	h.hub.sendTo(c, WSEvent{Type: EventBattleSnapshot, BattleID: battleID, Data: data})
}

// writePump writes queued events and keepalive pings.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per frame so clients can parse each message as JSON.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
