package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/events"
	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/internal/repository"
	"github.com/freeeve/coachwars/pkg/battle"
)

// DefaultMaxRounds is used when a battle is created without a round limit.
const DefaultMaxRounds = 10

// BattleService creates and starts battles.
type BattleService struct {
	battles     repository.BattleRepository
	locks       *LockService
	broadcaster Broadcaster
	publisher   EventPublisher
}

// NewBattleService creates a BattleService.
func NewBattleService(battles repository.BattleRepository, locks *LockService, broadcaster Broadcaster, publisher EventPublisher) *BattleService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &BattleService{battles: battles, locks: locks, broadcaster: broadcaster, publisher: publisher}
}

// CreateBattleRequest freezes both rosters into a new pending battle.
type CreateBattleRequest struct {
	UserID         string
	OpponentUserID string
	UserTeam       battle.Team
	OpponentTeam   battle.Team
	MaxRounds      int
}

// Create validates the rosters and stores a pending battle.
func (s *BattleService) Create(ctx context.Context, req CreateBattleRequest) (*model.Battle, error) {
	if req.UserID == "" {
		return nil, &battle.ValidationError{Field: "user_id", Message: "required"}
	}
	if req.OpponentUserID == "" {
		return nil, &battle.ValidationError{Field: "opponent_user_id", Message: "required"}
	}
	if req.UserID == req.OpponentUserID {
		return nil, &battle.ValidationError{Field: "opponent_user_id", Message: "cannot battle yourself"}
	}
	if req.MaxRounds < 0 {
		return nil, &battle.ValidationError{Field: "max_rounds", Message: "must not be negative"}
	}
	if req.MaxRounds == 0 {
		req.MaxRounds = DefaultMaxRounds
	}

	b := &model.Battle{
		UserID:         req.UserID,
		OpponentUserID: req.OpponentUserID,
		UserTeam:       req.UserTeam,
		OpponentTeam:   req.OpponentTeam,
		MaxRounds:      req.MaxRounds,
	}
	// A snapshot that cannot start a replay is rejected before it is stored.
	snap := b.Snapshot()
	snap.BattleID = "pending"
	if _, err := battle.NewContext(snap); err != nil {
		return nil, &battle.ValidationError{Field: "teams", Message: err.Error()}
	}

	created, err := s.battles.Create(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("create battle: %w", err)
	}
	log.Info().Str("battleId", created.ID).Str("userId", req.UserID).Str("opponentUserId", req.OpponentUserID).Msg("Battle created")
	return created, nil
}

// Start locks both rosters to the battle and activates it. If activation
// fails the locks are released again.
func (s *BattleService) Start(ctx context.Context, battleID string) (*model.Battle, error) {
	b, err := s.battles.FindByID(ctx, battleID)
	if err != nil {
		return nil, fmt.Errorf("find battle: %w", err)
	}
	if b == nil {
		return nil, &battle.StateError{Message: fmt.Sprintf("battle %s not found", battleID)}
	}
	if b.Status != model.BattlePending {
		return nil, &battle.StateError{Message: fmt.Sprintf("battle %s is %s", battleID, b.Status)}
	}

	if err := s.locks.Lock(ctx, battleID, b.CharacterIDs()); err != nil {
		return nil, err
	}
	if err := s.battles.Activate(ctx, battleID); err != nil {
		if uerr := s.locks.Unlock(ctx, battleID); uerr != nil {
			log.Error().Err(uerr).Str("battleId", battleID).Msg("Failed to release locks after activation failure")
		}
		return nil, err
	}

	started, err := s.battles.FindByID(ctx, battleID)
	if err != nil || started == nil {
		return nil, fmt.Errorf("reload started battle: %w", err)
	}
	log.Info().Str("battleId", battleID).Msg("Battle started")
	s.broadcaster.BroadcastBattleEvent(battleID, EventBattleStarted, started)
	if err := s.publisher.Publish(ctx, events.BattleStarted, battleID+":start", started); err != nil {
		log.Error().Err(err).Str("battleId", battleID).Msg("Failed to publish battle started")
	}
	return started, nil
}

// Get returns the battle record.
func (s *BattleService) Get(ctx context.Context, battleID string) (*model.Battle, error) {
	b, err := s.battles.FindByID(ctx, battleID)
	if err != nil {
		return nil, fmt.Errorf("find battle: %w", err)
	}
	if b == nil {
		return nil, &battle.StateError{Message: fmt.Sprintf("battle %s not found", battleID)}
	}
	return b, nil
}
