package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/internal/repository"
	"github.com/freeeve/coachwars/pkg/battle"
)

// ErrCoachLockedOut rejects coach orders for a character serving a lockout.
var ErrCoachLockedOut = fmt.Errorf("coach is locked out of this character: %w", battle.ErrState)

// DefaultCoachLockout is how long a loadout rebellion locks the coach out.
const DefaultCoachLockout = 600000 * time.Millisecond

// LoadoutRequest is the coach asking a character to equip an ability.
// Alternatives are the other abilities of the same kind and tier the
// character could equip instead.
type LoadoutRequest struct {
	CharacterID  string
	Kind         battle.AbilityKind
	AbilityID    string
	Alternatives []string
}

// LoadoutDecision is what the character equipped.
type LoadoutDecision struct {
	Equipped         string                 `json:"equipped"`
	FollowedCoach    bool                   `json:"followed_coach"`
	Reluctant        bool                   `json:"reluctant,omitempty"`
	Declaration      string                 `json:"declaration"`
	Adherence        battle.AdherenceResult `json:"adherence"`
	AdherencePenalty int                    `json:"adherence_penalty,omitempty"`
	NewAdherence     int                    `json:"new_adherence"`
	LockoutUntil     *time.Time             `json:"lockout_until,omitempty"`
}

// LoadoutService gates out-of-battle equipment orders.
type LoadoutService struct {
	chars     repository.CharacterRepository
	adherence *AdherenceService
	penalty   int
	lockout   time.Duration
	now       func() time.Time
}

// NewLoadoutService creates a LoadoutService. penalty is added to adherence
// on rebellion.
func NewLoadoutService(chars repository.CharacterRepository, adherence *AdherenceService, penalty int, lockout time.Duration) *LoadoutService {
	if lockout <= 0 {
		lockout = DefaultCoachLockout
	}
	return &LoadoutService{chars: chars, adherence: adherence, penalty: penalty, lockout: lockout, now: time.Now}
}

// Decide rolls the preference gate for an equip order. On a failed roll the
// character picks the alternative it likes best, loses adherence and locks
// the coach out; with no alternative it equips the order reluctantly and
// nothing is penalized.
func (s *LoadoutService) Decide(ctx context.Context, req LoadoutRequest) (*LoadoutDecision, error) {
	if req.CharacterID == "" {
		return nil, &battle.ValidationError{Field: "character_id", Message: "required"}
	}
	if req.AbilityID == "" {
		return nil, &battle.ValidationError{Field: "ability_id", Message: "required"}
	}
	if req.Kind != battle.AbilityPower && req.Kind != battle.AbilitySpell {
		return nil, &battle.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown %q", req.Kind)}
	}

	c, err := s.chars.FindByID(ctx, req.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("find character: %w", err)
	}
	if c == nil {
		return nil, &battle.StateError{Message: fmt.Sprintf("character %s not found", req.CharacterID)}
	}
	now := s.now()
	if c.LockedOut(now) {
		return nil, ErrCoachLockedOut
	}

	score, err := s.score(ctx, req.CharacterID, req.Kind, req.AbilityID)
	if err != nil {
		return nil, err
	}
	res := s.adherence.CheckPreference(c.GameplanAdherence, score)
	d := &LoadoutDecision{Adherence: res, NewAdherence: c.GameplanAdherence}
	if res.Passed {
		d.Equipped = req.AbilityID
		d.FollowedCoach = true
		d.Declaration = "Good call, coach."
		return d, nil
	}

	var alts []string
	for _, id := range req.Alternatives {
		if id != "" && id != req.AbilityID {
			alts = append(alts, id)
		}
	}
	if len(alts) == 0 {
		d.Equipped = req.AbilityID
		d.FollowedCoach = true
		d.Reluctant = true
		d.Declaration = fmt.Sprintf("I don't have anything else in that tier, coach. I'll use the %s.", req.AbilityID)
		metrics.Rebellions.WithLabelValues("reluctant").Inc()
		return d, nil
	}

	best, bestScore := alts[0], -1
	for _, id := range alts {
		sc, err := s.score(ctx, req.CharacterID, req.Kind, id)
		if err != nil {
			return nil, err
		}
		if sc > bestScore {
			best, bestScore = id, sc
		}
	}
	until := now.Add(s.lockout)
	adherence, err := s.chars.ApplyRebellion(ctx, req.CharacterID, s.penalty, &until)
	if err != nil {
		return nil, fmt.Errorf("apply loadout rebellion: %w", err)
	}
	d.Equipped = best
	d.Declaration = fmt.Sprintf("With respect, coach, I'm taking the %s instead.", best)
	d.AdherencePenalty = s.penalty
	d.NewAdherence = adherence
	d.LockoutUntil = &until
	metrics.Rebellions.WithLabelValues("loadout").Inc()
	log.Info().Str("characterId", req.CharacterID).Str("ordered", req.AbilityID).Str("equipped", best).
		Int("adherence", adherence).Time("lockoutUntil", until).Msg("Loadout rebellion")
	return d, nil
}

func (s *LoadoutService) score(ctx context.Context, characterID string, kind battle.AbilityKind, abilityID string) (int, error) {
	score, ok, err := s.chars.AbilityPreference(ctx, characterID, kind, abilityID)
	if err != nil {
		return 0, fmt.Errorf("ability preference: %w", err)
	}
	if !ok {
		return battle.NeutralPreference, nil
	}
	return score, nil
}
