package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

// TurnRepo writes everything a resolved turn produces in one transaction.
type TurnRepo struct {
	db *sql.DB
}

// NewTurnRepo creates a TurnRepo.
func NewTurnRepo(db *sql.DB) *TurnRepo {
	return &TurnRepo{db: db}
}

// CommitTurn inserts the judge ruling (if any) and the log entry, applies the
// adherence penalty, advances the battle counters and, when the battle ended,
// marks it completed. The battle row is locked first and must still be
// active. A sequence_num collision is a concurrency conflict: the turn was
// already resolved by someone else.
func (r *TurnRepo) CommitTurn(ctx context.Context, c *model.TurnCommit) (*model.ActionLogEntry, error) {
	e := c.Entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	outcome, err := json.Marshal(e.Outcome)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}
	adherence, err := jsonOrNull(e.Adherence)
	if err != nil {
		return nil, err
	}
	coachOrder, err := jsonOrNull(e.CoachOrder)
	if err != nil {
		return nil, err
	}
	psych, err := jsonOrNull(e.Psych)
	if err != nil {
		return nil, err
	}
	var roll, threshold sql.NullInt64
	if e.Adherence != nil {
		roll = sql.NullInt64{Int64: int64(e.Adherence.Roll), Valid: true}
		threshold = sql.NullInt64{Int64: int64(e.Adherence.Threshold), Valid: true}
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM battles WHERE id = $1 FOR UPDATE`, e.BattleID).Scan(&status)
		if err == sql.ErrNoRows {
			return &battle.StateError{Message: fmt.Sprintf("battle %s not found", e.BattleID)}
		}
		if err != nil {
			return fmt.Errorf("lock battle: %w", err)
		}
		if status != model.BattleActive {
			return &battle.StateError{Message: fmt.Sprintf("battle %s is %s", e.BattleID, status)}
		}

		if c.Ruling != nil {
			id, err := insertRuling(ctx, tx, c.Ruling)
			if err != nil {
				return err
			}
			e.JudgeRulingID = id
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO battle_actions (id, battle_id, sequence_num, round, turn, character_id, action_type,
			   payload, outcome, adherence, adherence_roll, adherence_threshold, is_rebellion, rebellion_type,
			   coach_order, psych_snapshot, declaration, judge_ruling_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			 RETURNING created_at`,
			e.ID, e.BattleID, e.Sequence, e.Round, e.Turn, e.CharacterID, string(e.ActionType),
			payload, outcome, adherence, roll, threshold, e.IsRebellion, nullStr(e.RebellionType),
			coachOrder, psych, e.Declaration, nullStr(e.JudgeRulingID),
		).Scan(&e.CreatedAt)
		if isUniqueViolation(err) {
			return &battle.SequenceConflictError{BattleID: e.BattleID, Sequence: e.Sequence}
		}
		if err != nil {
			return fmt.Errorf("insert battle action: %w", err)
		}

		if c.AdherencePenalty != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE characters SET gameplan_adherence = LEAST(100, GREATEST(0, gameplan_adherence + $2))
				 WHERE id = $1`, e.CharacterID, c.AdherencePenalty); err != nil {
				return fmt.Errorf("apply adherence penalty: %w", err)
			}
		}

		var res sql.Result
		if c.End != nil && c.End.Ended {
			res, err = tx.ExecContext(ctx,
				`UPDATE battles SET status = 'completed', current_round = $2, current_turn = $3,
				   winner = $4, end_reason = $5, completed_at = now()
				 WHERE id = $1 AND status = 'active'`,
				e.BattleID, e.Round, e.Turn, nullStr(string(c.End.Winner)), c.End.Reason)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE battles SET current_round = $2, current_turn = $3 WHERE id = $1 AND status = 'active'`,
				e.BattleID, e.Round, e.Turn)
		}
		if err != nil {
			return fmt.Errorf("update battle progress: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update battle progress: %w", err)
		} else if n == 0 {
			return &battle.StateError{Message: fmt.Sprintf("battle %s is no longer active", e.BattleID)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func insertRuling(ctx context.Context, tx *sql.Tx, j *model.JudgeRuling) (string, error) {
	id := j.ID
	if id == "" {
		id = uuid.NewString()
	}
	var effects any
	if len(j.MechanicalEffects) > 0 {
		effects = []byte(j.MechanicalEffects)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO judge_rulings (id, battle_id, judge_character_id, ruling_round, situation, ruling, reasoning,
		   gameplay_effect, narrative_impact, verdict, mechanical_effects, rebel_declaration, character_penalized_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, j.BattleID, j.JudgeCharacterID, j.Round, j.Situation, j.Ruling, j.Reasoning,
		j.GameplayEffect, j.NarrativeImpact, j.Verdict, effects, j.RebelDeclaration, nullStr(j.PenalizedCharacterID))
	if err != nil {
		return "", fmt.Errorf("insert judge ruling: %w", err)
	}
	return id, nil
}

// jsonOrNull marshals v, mapping a nil pointer to SQL NULL.
func jsonOrNull[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return b, nil
}
