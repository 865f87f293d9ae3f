package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/freeeve/coachwars/pkg/battle"
)

// LockRepo commits characters to battles via characters.current_battle_id.
type LockRepo struct {
	db *sql.DB
}

// NewLockRepo creates a LockRepo.
func NewLockRepo(db *sql.DB) *LockRepo {
	return &LockRepo{db: db}
}

// LockCharacters commits every character to battleID or none of them. Rows
// are locked in id order so overlapping requests queue instead of
// deadlocking. Characters already held by another battle produce a
// *battle.LockConflictError naming each holder.
func (r *LockRepo) LockCharacters(ctx context.Context, battleID string, characterIDs []string) error {
	ids := uniqueSorted(characterIDs)
	if len(ids) == 0 {
		return &battle.ValidationError{Field: "character_ids", Message: "required"}
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, current_battle_id FROM characters
			 WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("select characters for lock: %w", err)
		}
		found := make(map[string]bool, len(ids))
		held := make(map[string]string)
		for rows.Next() {
			var id string
			var current sql.NullString
			if err := rows.Scan(&id, &current); err != nil {
				rows.Close()
				return fmt.Errorf("scan character lock: %w", err)
			}
			found[id] = true
			if current.Valid && current.String != battleID {
				held[id] = current.String
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close character lock rows: %w", err)
		}

		for _, id := range ids {
			if !found[id] {
				return &battle.StateError{Message: fmt.Sprintf("character %s does not exist", id)}
			}
		}
		if len(held) > 0 {
			return &battle.LockConflictError{BattleID: battleID, Held: held}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE characters SET current_battle_id = $1
			 WHERE id = ANY($2) AND current_battle_id IS NULL`, battleID, pq.Array(ids)); err != nil {
			return fmt.Errorf("lock characters: %w", err)
		}
		return nil
	})
}

// UnlockBattle releases every character held by battleID.
func (r *LockRepo) UnlockBattle(ctx context.Context, battleID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE characters SET current_battle_id = NULL WHERE current_battle_id = $1`, battleID)
	if err != nil {
		return 0, fmt.Errorf("unlock battle: %w", err)
	}
	return res.RowsAffected()
}

// ForceUnlock clears a character's lock whatever holds it.
func (r *LockRepo) ForceUnlock(ctx context.Context, characterID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE characters SET current_battle_id = NULL WHERE id = $1`, characterID); err != nil {
		return fmt.Errorf("force unlock: %w", err)
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
