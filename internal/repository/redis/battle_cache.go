package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key patterns for per-battle Redis state.
func leaseKey(battleID string) string { return "battle:" + battleID + ":turn_lease" }
func pregenKey(battleID string, seq int, characterID string) string {
	return "battle:" + battleID + ":pregen:" + strconv.Itoa(seq) + ":" + characterID
}
func pregenPattern(battleID string) string { return "battle:" + battleID + ":pregen:*" }

// releaseLease deletes the lease only if this holder still owns it.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireTurnLease claims the single in-flight turn slot for a battle across
// server instances. It reports false when another holder has it.
func (c *Client) AcquireTurnLease(ctx context.Context, battleID, token string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, leaseKey(battleID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire turn lease: %w", err)
	}
	return ok, nil
}

// ReleaseTurnLease drops the lease if token still holds it.
func (c *Client) ReleaseTurnLease(ctx context.Context, battleID, token string) error {
	if err := releaseLease.Run(ctx, c.rdb, []string{leaseKey(battleID)}, token).Err(); err != nil {
		return fmt.Errorf("release turn lease: %w", err)
	}
	return nil
}

// SetPregenerated stores a rebellion choice computed ahead of the coach's
// order for the given log position.
func (c *Client) SetPregenerated(ctx context.Context, battleID string, seq int, characterID string, choice json.RawMessage, ttl time.Duration) error {
	return c.rdb.Set(ctx, pregenKey(battleID, seq, characterID), []byte(choice), ttl).Err()
}

// TakePregenerated returns and deletes a stored choice, or nil if none.
func (c *Client) TakePregenerated(ctx context.Context, battleID string, seq int, characterID string) (json.RawMessage, error) {
	data, err := c.rdb.GetDel(ctx, pregenKey(battleID, seq, characterID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take pregenerated choice: %w", err)
	}
	return json.RawMessage(data), nil
}

// DeleteBattleData removes all Redis data for a battle (on battle end).
func (c *Client) DeleteBattleData(ctx context.Context, battleID string) error {
	keys := []string{leaseKey(battleID)}
	iter := c.rdb.Scan(ctx, 0, pregenPattern(battleID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan battle keys: %w", err)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
