package service

import "context"

// Event types sent to spectators.
const (
	EventTurnResolved  = "turn_resolved"
	EventBattleStarted = "battle_started"
	EventBattleEnded   = "battle_ended"
)

// Broadcaster sends real-time events to connected spectators.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastBattleEvent(battleID string, eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastBattleEvent(string, string, any) {}

// EventPublisher delivers durable lifecycle events to other services.
// Implemented by events.AMQPPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey, messageID string, payload any) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }

// BattleEndedEvent is the payload of battle_ended / battle.ended.
type BattleEndedEvent struct {
	BattleID string `json:"battle_id"`
	Winner   string `json:"winner"`
	Reason   string `json:"reason"`
}
