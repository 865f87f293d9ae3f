package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

// CharacterRepo reads and writes the persistent character fields the turn
// engine depends on.
type CharacterRepo struct {
	db *sql.DB
}

// NewCharacterRepo creates a CharacterRepo.
func NewCharacterRepo(db *sql.DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

// FindByID returns the character, or nil if it does not exist. A missing
// adherence value is a data integrity error, never a default.
func (r *CharacterRepo) FindByID(ctx context.Context, id string) (*model.Character, error) {
	var c model.Character
	var adherence sql.NullInt64
	var battleID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, archetype, gameplan_adherence, coach_lockout_until, current_battle_id,
		        stress, mental_health, team_trust, battle_focus
		 FROM characters WHERE id = $1`, id,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Archetype, &adherence, &c.CoachLockoutUntil, &battleID,
		&c.Psych.Stress, &c.Psych.MentalHealth, &c.Psych.TeamTrust, &c.Psych.BattleFocus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find character: %w", err)
	}
	if !adherence.Valid {
		return nil, &battle.DataIntegrityError{Message: fmt.Sprintf("character %s has no gameplan_adherence", id)}
	}
	c.GameplanAdherence = int(adherence.Int64)
	c.CurrentBattleID = battleID.String
	return &c, nil
}

// AbilityPreference returns the character's preference score for an equipped
// power or spell.
func (r *CharacterRepo) AbilityPreference(ctx context.Context, characterID string, kind battle.AbilityKind, abilityID string) (int, bool, error) {
	var score int
	err := r.db.QueryRowContext(ctx,
		`SELECT preference_score FROM character_abilities
		 WHERE character_id = $1 AND kind = $2 AND ability_id = $3`,
		characterID, string(kind), abilityID,
	).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ability preference: %w", err)
	}
	return score, true, nil
}

// CategoryRank returns the 1..4 rank of a category preference.
func (r *CharacterRepo) CategoryRank(ctx context.Context, characterID, categoryType, value string) (int, bool, error) {
	var rank int
	err := r.db.QueryRowContext(ctx,
		`SELECT rank FROM character_category_preferences
		 WHERE character_id = $1 AND category_type = $2 AND category_value = $3`,
		characterID, categoryType, value,
	).Scan(&rank)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("category rank: %w", err)
	}
	return rank, true, nil
}

// ApplyRebellion adds penalty to gameplan_adherence (floored at 0) and, when
// lockoutUntil is set, starts a coach lockout. It returns the new adherence.
func (r *CharacterRepo) ApplyRebellion(ctx context.Context, characterID string, penalty int, lockoutUntil *time.Time) (int, error) {
	var adherence int
	err := r.db.QueryRowContext(ctx,
		`UPDATE characters
		 SET gameplan_adherence = LEAST(100, GREATEST(0, gameplan_adherence + $2)),
		     coach_lockout_until = COALESCE($3, coach_lockout_until)
		 WHERE id = $1
		 RETURNING gameplan_adherence`,
		characterID, penalty, lockoutUntil,
	).Scan(&adherence)
	if err == sql.ErrNoRows {
		return 0, &battle.StateError{Message: fmt.Sprintf("character %s not found", characterID)}
	}
	if err != nil {
		return 0, fmt.Errorf("apply rebellion: %w", err)
	}
	return adherence, nil
}
