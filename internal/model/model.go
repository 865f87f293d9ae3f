package model

import (
	"encoding/json"
	"time"

	"github.com/freeeve/coachwars/pkg/battle"
)

// Battle statuses.
const (
	BattlePending   = "pending"
	BattleActive    = "active"
	BattleCompleted = "completed"
	BattleAbandoned = "abandoned"
)

// Battle is one match between two rosters. The team snapshots are frozen
// when the battle is created and never change afterwards.
type Battle struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	OpponentUserID string      `json:"opponent_user_id"`
	Status         string      `json:"status"`
	UserTeam       battle.Team `json:"user_team"`
	OpponentTeam   battle.Team `json:"opponent_team"`
	MaxRounds      int         `json:"max_rounds"`
	CurrentRound   int         `json:"current_round"`
	CurrentTurn    int         `json:"current_turn"`
	Winner         string      `json:"winner,omitempty"` // user, opponent, or empty for a draw
	EndReason      string      `json:"end_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// Snapshot returns the replay starting point.
func (b *Battle) Snapshot() battle.Snapshot {
	return battle.Snapshot{
		BattleID:  b.ID,
		User:      b.UserTeam,
		Opponent:  b.OpponentTeam,
		MaxRounds: b.MaxRounds,
	}
}

// SideOf returns the side controlled by userID.
func (b *Battle) SideOf(userID string) (battle.Side, bool) {
	switch userID {
	case b.UserID:
		return battle.SideUser, true
	case b.OpponentUserID:
		return battle.SideOpponent, true
	}
	return "", false
}

// CharacterIDs lists both rosters, user side first.
func (b *Battle) CharacterIDs() []string {
	ids := make([]string, 0, len(b.UserTeam.Characters)+len(b.OpponentTeam.Characters))
	for _, c := range b.UserTeam.Characters {
		ids = append(ids, c.ID)
	}
	for _, c := range b.OpponentTeam.Characters {
		ids = append(ids, c.ID)
	}
	return ids
}

// Rebellion types.
const (
	RebellionRefuse          = "refuse"
	RebellionDifferentTarget = "different_target"
	RebellionDifferentAction = "different_action"
	RebellionSelfPreserve    = "self_preservation"
)

// ActionLogEntry is one immutable row of a battle's action log.
type ActionLogEntry struct {
	ID            string                  `json:"id"`
	BattleID      string                  `json:"battle_id"`
	Sequence      int                     `json:"sequence_num"`
	Round         int                     `json:"round"`
	Turn          int                     `json:"turn"`
	CharacterID   string                  `json:"character_id"`
	ActionType    battle.ActionType       `json:"action_type"`
	Payload       battle.CoachOrder       `json:"payload"`
	Outcome       battle.Outcome          `json:"outcome"`
	Adherence     *battle.AdherenceResult `json:"adherence,omitempty"`
	IsRebellion   bool                    `json:"is_rebellion"`
	RebellionType string                  `json:"rebellion_type,omitempty"`
	CoachOrder    *battle.CoachOrder      `json:"coach_order,omitempty"`
	Psych         *battle.Psych           `json:"psych_snapshot,omitempty"`
	Declaration   string                  `json:"declaration"`
	JudgeRulingID string                  `json:"judge_ruling_id,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// LogEntry returns the engine's view of the row.
func (e *ActionLogEntry) LogEntry() battle.LogEntry {
	return battle.LogEntry{
		Sequence:    e.Sequence,
		Round:       e.Round,
		Turn:        e.Turn,
		ActorID:     e.CharacterID,
		ActionType:  e.ActionType,
		Payload:     e.Payload,
		Outcome:     e.Outcome,
		IsRebellion: e.IsRebellion,
	}
}

// Character is the persistent record the turn engine reads adherence from
// and writes rebellion consequences to.
type Character struct {
	ID                string       `json:"id"`
	OwnerID           string       `json:"owner_id"`
	Name              string       `json:"name"`
	Archetype         string       `json:"archetype"`
	GameplanAdherence int          `json:"gameplan_adherence"`
	CoachLockoutUntil *time.Time   `json:"coach_lockout_until,omitempty"`
	CurrentBattleID   string       `json:"current_battle_id,omitempty"`
	Psych             battle.Psych `json:"psych"`
}

// LockedOut reports whether coach orders are ignored at now.
func (c *Character) LockedOut(now time.Time) bool {
	return c.CoachLockoutUntil != nil && now.Before(*c.CoachLockoutUntil)
}

// JudgeRuling is a verdict issued after a rebellion.
type JudgeRuling struct {
	ID                   string          `json:"id"`
	BattleID             string          `json:"battle_id"`
	JudgeCharacterID     string          `json:"judge_character_id"`
	Round                int             `json:"ruling_round"`
	Situation            string          `json:"situation"`
	Ruling               string          `json:"ruling"`
	Reasoning            string          `json:"reasoning"`
	GameplayEffect       string          `json:"gameplay_effect"`
	NarrativeImpact      string          `json:"narrative_impact"`
	Verdict              string          `json:"verdict"`
	MechanicalEffects    json.RawMessage `json:"mechanical_effects,omitempty"`
	RebelDeclaration     string          `json:"rebel_declaration"`
	PenalizedCharacterID string          `json:"character_penalized_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// TurnCommit is everything one resolved turn writes. It is persisted in a
// single transaction.
type TurnCommit struct {
	Entry ActionLogEntry
	// Ruling, when set, is inserted first and its id stored on Entry.
	Ruling *JudgeRuling
	// AdherencePenalty is added to the actor's gameplan_adherence, floored at 0.
	AdherencePenalty int
	End              *battle.EndState
}
