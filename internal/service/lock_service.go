package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/internal/repository"
	"github.com/freeeve/coachwars/pkg/battle"
)

// LockService commits characters to at most one battle at a time.
type LockService struct {
	repo repository.LockRepository
}

// NewLockService creates a LockService.
func NewLockService(repo repository.LockRepository) *LockService {
	return &LockService{repo: repo}
}

// Lock commits every character to battleID or none of them. A character
// held by another battle yields a *battle.LockConflictError.
func (s *LockService) Lock(ctx context.Context, battleID string, characterIDs []string) error {
	if battleID == "" {
		return &battle.ValidationError{Field: "battle_id", Message: "required"}
	}
	if len(characterIDs) == 0 {
		return &battle.ValidationError{Field: "character_ids", Message: "required"}
	}
	err := s.repo.LockCharacters(ctx, battleID, characterIDs)
	var conflict *battle.LockConflictError
	if errors.As(err, &conflict) {
		metrics.LockConflicts.Inc()
		log.Warn().Str("battleId", battleID).Interface("held", conflict.Held).Msg("Character lock conflict")
		return err
	}
	if err != nil {
		return fmt.Errorf("lock characters: %w", err)
	}
	log.Info().Str("battleId", battleID).Strs("characterIds", characterIDs).Msg("Characters locked")
	return nil
}

// Unlock releases every character held by battleID.
func (s *LockService) Unlock(ctx context.Context, battleID string) error {
	n, err := s.repo.UnlockBattle(ctx, battleID)
	if err != nil {
		return fmt.Errorf("unlock battle: %w", err)
	}
	log.Info().Str("battleId", battleID).Int64("released", n).Msg("Characters unlocked")
	return nil
}

// ForceUnlock clears one character's lock whatever holds it. It is
// idempotent.
func (s *LockService) ForceUnlock(ctx context.Context, characterID string) error {
	if err := s.repo.ForceUnlock(ctx, characterID); err != nil {
		return fmt.Errorf("force unlock %s: %w", characterID, err)
	}
	log.Warn().Str("characterId", characterID).Msg("Character force-unlocked")
	return nil
}

// ForceUnlockBattle is the crash-recovery path for a battle that will never
// finish normally.
func (s *LockService) ForceUnlockBattle(ctx context.Context, battleID string) error {
	n, err := s.repo.UnlockBattle(ctx, battleID)
	if err != nil {
		return fmt.Errorf("force unlock battle: %w", err)
	}
	if n > 0 {
		log.Warn().Str("battleId", battleID).Int64("released", n).Msg("Released characters of orphaned battle")
	}
	return nil
}
