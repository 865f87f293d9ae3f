package redis

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

const eventChannelPrefix = "battle-events:"

// PublishBattleEvent fans an already-encoded event out to every server
// instance subscribed with SubscribeBattleEvents.
func (c *Client) PublishBattleEvent(ctx context.Context, battleID string, payload []byte) error {
	return c.rdb.Publish(ctx, eventChannelPrefix+battleID, payload).Err()
}

// SubscribeBattleEvents delivers every published battle event to fn until ctx
// is cancelled.
func (c *Client) SubscribeBattleEvents(ctx context.Context, fn func(battleID string, payload []byte)) {
	pubsub := c.rdb.PSubscribe(ctx, eventChannelPrefix+"*")
	defer pubsub.Close()

	log.Info().Msg("Battle event subscriber started")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fn(strings.TrimPrefix(msg.Channel, eventChannelPrefix), []byte(msg.Payload))
		}
	}
}
