package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/internal/repository"
	"github.com/freeeve/coachwars/pkg/battle"
)

const defaultLogPageSize = 500

// Reconstruction is a battle record plus its replayed context.
type Reconstruction struct {
	Battle       *model.Battle
	Context      *battle.BattleContext
	LastSequence int
}

// Reconstructor rebuilds battle state from the snapshot and the action log.
// It always replays from scratch; nothing is cached between calls.
type Reconstructor struct {
	battles  repository.BattleRepository
	logs     repository.ActionLogRepository
	pageSize int
}

// NewReconstructor creates a Reconstructor.
func NewReconstructor(battles repository.BattleRepository, logs repository.ActionLogRepository) *Reconstructor {
	return &Reconstructor{battles: battles, logs: logs, pageSize: defaultLogPageSize}
}

// Reconstruct loads battleID and folds its whole log. A missing battle is a
// *battle.StateError; a log that does not replay is a
// *battle.DataIntegrityError.
func (r *Reconstructor) Reconstruct(ctx context.Context, battleID string) (*Reconstruction, error) {
	b, err := r.battles.FindByID(ctx, battleID)
	if err != nil {
		return nil, fmt.Errorf("find battle: %w", err)
	}
	if b == nil {
		return nil, &battle.StateError{Message: fmt.Sprintf("battle %s not found", battleID)}
	}

	entries, err := r.loadLog(ctx, battleID)
	if err != nil {
		return nil, err
	}
	bctx, err := battle.Replay(b.Snapshot(), entries)
	if err != nil {
		var die *battle.DataIntegrityError
		if errors.As(err, &die) && die.BattleID == "" {
			die.BattleID = battleID
		}
		return nil, err
	}

	last := 0
	if n := len(entries); n > 0 {
		last = entries[n-1].Sequence
	}
	return &Reconstruction{Battle: b, Context: bctx, LastSequence: last}, nil
}

func (r *Reconstructor) loadLog(ctx context.Context, battleID string) ([]battle.LogEntry, error) {
	var entries []battle.LogEntry
	after := 0
	for {
		page, err := r.logs.ListByBattle(ctx, battleID, after, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list battle actions: %w", err)
		}
		for i := range page {
			entries = append(entries, page[i].LogEntry())
		}
		if len(page) < r.pageSize {
			return entries, nil
		}
		after = page[len(page)-1].Sequence
	}
}
