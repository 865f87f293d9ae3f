package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

// BattleRepository defines battle record operations. Lookups return nil, nil
// when the battle does not exist.
type BattleRepository interface {
	Create(ctx context.Context, b *model.Battle) (*model.Battle, error)
	FindByID(ctx context.Context, id string) (*model.Battle, error)
	Activate(ctx context.Context, id string) error
	ListStaleActive(ctx context.Context, startedBefore time.Time) ([]model.Battle, error)
	MarkAbandoned(ctx context.Context, id string) error
}

// ActionLogRepository reads the append-only action log. Writes go through
// TurnRepository.
type ActionLogRepository interface {
	ListByBattle(ctx context.Context, battleID string, afterSeq, limit int) ([]model.ActionLogEntry, error)
	LastSequence(ctx context.Context, battleID string) (int, error)
}

// TurnRepository commits a resolved turn atomically.
type TurnRepository interface {
	CommitTurn(ctx context.Context, c *model.TurnCommit) (*model.ActionLogEntry, error)
}

// CharacterRepository defines the persistent character store boundary.
type CharacterRepository interface {
	FindByID(ctx context.Context, id string) (*model.Character, error)
	AbilityPreference(ctx context.Context, characterID string, kind battle.AbilityKind, abilityID string) (score int, ok bool, err error)
	CategoryRank(ctx context.Context, characterID, categoryType, value string) (rank int, ok bool, err error)
	ApplyRebellion(ctx context.Context, characterID string, penalty int, lockoutUntil *time.Time) (int, error)
}

// LockRepository stores character-to-battle locks.
type LockRepository interface {
	LockCharacters(ctx context.Context, battleID string, characterIDs []string) error
	UnlockBattle(ctx context.Context, battleID string) (int64, error)
	ForceUnlock(ctx context.Context, characterID string) error
}

// CatalogueRepository loads attack types and ability definitions.
type CatalogueRepository interface {
	LoadCatalogue(ctx context.Context) ([]battle.AttackType, []battle.AbilityDef, error)
}

// BattleCache defines short-lived per-battle state (Redis).
type BattleCache interface {
	AcquireTurnLease(ctx context.Context, battleID, token string, ttl time.Duration) (bool, error)
	ReleaseTurnLease(ctx context.Context, battleID, token string) error
	SetPregenerated(ctx context.Context, battleID string, seq int, characterID string, choice json.RawMessage, ttl time.Duration) error
	TakePregenerated(ctx context.Context, battleID string, seq int, characterID string) (json.RawMessage, error)
	DeleteBattleData(ctx context.Context, battleID string) error
}
