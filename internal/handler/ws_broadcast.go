package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// BroadcastBattleEvent implements service.Broadcaster for a single process.
func (h *Hub) BroadcastBattleEvent(battleID string, eventType string, data any) {
	h.BroadcastToBattle(battleID, WSEvent{
		Type:     eventType,
		BattleID: battleID,
		Data:     data,
	})
}

// EventRelay fans encoded events out to every server instance. Implemented
// by the Redis client.
type EventRelay interface {
	PublishBattleEvent(ctx context.Context, battleID string, payload []byte) error
}

// RelayBroadcaster implements service.Broadcaster across instances: events
// go through the relay and come back to each hub via DeliverRaw. When the
// relay is down the local hub is served directly.
type RelayBroadcaster struct {
	relay   EventRelay
	local   *Hub
	timeout time.Duration
}

// NewRelayBroadcaster creates a RelayBroadcaster.
func NewRelayBroadcaster(relay EventRelay, local *Hub) *RelayBroadcaster {
	return &RelayBroadcaster{relay: relay, local: local, timeout: 2 * time.Second}
}

func (b *RelayBroadcaster) BroadcastBattleEvent(battleID string, eventType string, data any) {
	payload, err := json.Marshal(WSEvent{Type: eventType, BattleID: battleID, Data: data})
	if err != nil {
		log.Error().Err(err).Str("battleId", battleID).Msg("Failed to marshal battle event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.relay.PublishBattleEvent(ctx, battleID, payload); err != nil {
		log.Warn().Err(err).Str("battleId", battleID).Msg("Event relay failed, delivering locally")
		b.local.DeliverRaw(battleID, payload)
	}
}
