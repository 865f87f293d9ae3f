package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

// BattleRepo handles battle record database operations.
type BattleRepo struct {
	db *sql.DB
}

// NewBattleRepo creates a BattleRepo.
func NewBattleRepo(db *sql.DB) *BattleRepo {
	return &BattleRepo{db: db}
}

const battleColumns = `id, user_id, opponent_user_id, status, user_team, opponent_team, max_rounds,
	current_round, current_turn, winner, end_reason, created_at, started_at, completed_at`

// Create inserts a pending battle with its frozen team snapshots.
func (r *BattleRepo) Create(ctx context.Context, b *model.Battle) (*model.Battle, error) {
	id := b.ID
	if id == "" {
		id = uuid.NewString()
	}
	userTeam, err := json.Marshal(b.UserTeam)
	if err != nil {
		return nil, fmt.Errorf("marshal user team: %w", err)
	}
	oppTeam, err := json.Marshal(b.OpponentTeam)
	if err != nil {
		return nil, fmt.Errorf("marshal opponent team: %w", err)
	}
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO battles (id, user_id, opponent_user_id, status, user_team, opponent_team, max_rounds)
		 VALUES ($1, $2, $3, 'pending', $4, $5, $6)
		 RETURNING `+battleColumns,
		id, b.UserID, b.OpponentUserID, userTeam, oppTeam, b.MaxRounds,
	)
	out, err := scanBattle(row)
	if err != nil {
		return nil, fmt.Errorf("create battle: %w", err)
	}
	return out, nil
}

// FindByID returns a battle by ID, or nil if it does not exist.
func (r *BattleRepo) FindByID(ctx context.Context, id string) (*model.Battle, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+battleColumns+` FROM battles WHERE id = $1`, id)
	b, err := scanBattle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find battle: %w", err)
	}
	return b, nil
}

// Activate moves a pending battle to active.
func (r *BattleRepo) Activate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE battles SET status = 'active', started_at = now()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("activate battle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate battle: %w", err)
	}
	if n == 0 {
		return &battle.StateError{Message: fmt.Sprintf("battle %s is not pending", id)}
	}
	return nil
}

// ListStaleActive returns active battles started before the cutoff.
func (r *BattleRepo) ListStaleActive(ctx context.Context, startedBefore time.Time) ([]model.Battle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+battleColumns+` FROM battles
		 WHERE status = 'active' AND started_at < $1
		 ORDER BY started_at`, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("list stale battles: %w", err)
	}
	defer rows.Close()

	var battles []model.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, *b)
	}
	return battles, rows.Err()
}

// MarkAbandoned closes an active battle without a winner.
func (r *BattleRepo) MarkAbandoned(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE battles SET status = 'abandoned', end_reason = 'abandoned', completed_at = now()
		 WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("abandon battle: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBattle(row rowScanner) (*model.Battle, error) {
	var b model.Battle
	var userTeam, oppTeam []byte
	var winner, endReason sql.NullString
	if err := row.Scan(&b.ID, &b.UserID, &b.OpponentUserID, &b.Status, &userTeam, &oppTeam, &b.MaxRounds,
		&b.CurrentRound, &b.CurrentTurn, &winner, &endReason, &b.CreatedAt, &b.StartedAt, &b.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(userTeam, &b.UserTeam); err != nil {
		return nil, &battle.DataIntegrityError{BattleID: b.ID, Message: "user team snapshot: " + err.Error()}
	}
	if err := json.Unmarshal(oppTeam, &b.OpponentTeam); err != nil {
		return nil, &battle.DataIntegrityError{BattleID: b.ID, Message: "opponent team snapshot: " + err.Error()}
	}
	b.Winner = winner.String
	b.EndReason = endReason.String
	return &b, nil
}
