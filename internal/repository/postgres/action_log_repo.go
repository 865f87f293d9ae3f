package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

// ActionLogRepo reads the battle_actions log.
type ActionLogRepo struct {
	db *sql.DB
}

// NewActionLogRepo creates an ActionLogRepo.
func NewActionLogRepo(db *sql.DB) *ActionLogRepo {
	return &ActionLogRepo{db: db}
}

const actionColumns = `id, battle_id, sequence_num, round, turn, character_id, action_type, payload, outcome,
	adherence, is_rebellion, rebellion_type, coach_order, psych_snapshot, declaration, judge_ruling_id, created_at`

// ListByBattle returns up to limit entries with sequence_num > afterSeq, in
// sequence order.
func (r *ActionLogRepo) ListByBattle(ctx context.Context, battleID string, afterSeq, limit int) ([]model.ActionLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM battle_actions
		 WHERE battle_id = $1 AND sequence_num > $2
		 ORDER BY sequence_num
		 LIMIT $3`, battleID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list battle actions: %w", err)
	}
	defer rows.Close()

	var entries []model.ActionLogEntry
	for rows.Next() {
		e, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// LastSequence returns the highest sequence_num for the battle, 0 when empty.
func (r *ActionLogRepo) LastSequence(ctx context.Context, battleID string) (int, error) {
	var seq int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_num), 0) FROM battle_actions WHERE battle_id = $1`, battleID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}

func scanAction(row rowScanner) (*model.ActionLogEntry, error) {
	var e model.ActionLogEntry
	var actionType string
	var payload, outcome, adherence, coachOrder, psych []byte
	var rebellionType, rulingID sql.NullString
	if err := row.Scan(&e.ID, &e.BattleID, &e.Sequence, &e.Round, &e.Turn, &e.CharacterID, &actionType,
		&payload, &outcome, &adherence, &e.IsRebellion, &rebellionType, &coachOrder, &psych,
		&e.Declaration, &rulingID, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan battle action: %w", err)
	}
	e.ActionType = battle.ActionType(actionType)
	e.RebellionType = rebellionType.String
	e.JudgeRulingID = rulingID.String

	bad := func(field string, err error) error {
		return &battle.DataIntegrityError{BattleID: e.BattleID, Sequence: e.Sequence, Message: field + ": " + err.Error()}
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, bad("payload", err)
	}
	if err := json.Unmarshal(outcome, &e.Outcome); err != nil {
		return nil, bad("outcome", err)
	}
	if adherence != nil {
		e.Adherence = new(battle.AdherenceResult)
		if err := json.Unmarshal(adherence, e.Adherence); err != nil {
			return nil, bad("adherence", err)
		}
	}
	if coachOrder != nil {
		e.CoachOrder = new(battle.CoachOrder)
		if err := json.Unmarshal(coachOrder, e.CoachOrder); err != nil {
			return nil, bad("coach_order", err)
		}
	}
	if psych != nil {
		e.Psych = new(battle.Psych)
		if err := json.Unmarshal(psych, e.Psych); err != nil {
			return nil, bad("psych_snapshot", err)
		}
	}
	return &e, nil
}
