package service

import (
	"context"
	"fmt"

	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/internal/repository"
	"github.com/freeeve/coachwars/pkg/battle"
)

// Category preference lookups.
const (
	categoryAttribute = "attribute"
	attrStrength      = "strength"
	attrIntelligence  = "intelligence"
	attrDexterity     = "dexterity"
	attrConstitution  = "constitution"
)

// PrimaryAttribute is the attribute whose preference rank drives an
// archetype's attack orders.
func PrimaryAttribute(archetype string) string {
	switch archetype {
	case "mage", "mystic", "scholar":
		return attrIntelligence
	case "assassin", "trickster", "ranger":
		return attrDexterity
	default:
		return attrStrength
	}
}

// AdherenceService runs adherence rolls. The dice are its only random input.
type AdherenceService struct {
	chars repository.CharacterRepository
	dice  battle.Dice
}

// NewAdherenceService creates an AdherenceService. dice must be safe for
// concurrent use.
func NewAdherenceService(chars repository.CharacterRepository, dice battle.Dice) *AdherenceService {
	return &AdherenceService{chars: chars, dice: dice}
}

// PreferenceFor returns how much the character likes the kind of thing the
// order asks for, 0..100 with 50 neutral. Powers and spells use the
// equipped ability's score; attacks use the archetype's primary attribute
// rank; defending uses constitution.
func (s *AdherenceService) PreferenceFor(ctx context.Context, c *battle.CharacterState, order battle.CoachOrder) (int, error) {
	switch order.ActionType {
	case battle.ActionPower, battle.ActionSpell:
		kind := battle.AbilityPower
		if order.ActionType == battle.ActionSpell {
			kind = battle.AbilitySpell
		}
		score, ok, err := s.chars.AbilityPreference(ctx, c.ID, kind, order.AbilityID)
		if err != nil {
			return 0, fmt.Errorf("ability preference: %w", err)
		}
		if !ok {
			return battle.NeutralPreference, nil
		}
		return score, nil
	case battle.ActionAttack:
		return s.rankPreference(ctx, c.ID, PrimaryAttribute(c.Archetype))
	case battle.ActionDefend:
		return s.rankPreference(ctx, c.ID, attrConstitution)
	}
	return battle.NeutralPreference, nil
}

func (s *AdherenceService) rankPreference(ctx context.Context, characterID, attribute string) (int, error) {
	rank, ok, err := s.chars.CategoryRank(ctx, characterID, categoryAttribute, attribute)
	if err != nil {
		return 0, fmt.Errorf("category rank: %w", err)
	}
	if !ok {
		return battle.NeutralPreference, nil
	}
	return battle.PreferenceFromRank(rank), nil
}

// CheckBattle rolls the in-battle gate for characterID following order.
func (s *AdherenceService) CheckBattle(ctx context.Context, bctx *battle.BattleContext, characterID string, base int, order battle.CoachOrder) (battle.AdherenceResult, error) {
	state, err := battle.AdherenceStateFor(bctx, characterID)
	if err != nil {
		return battle.AdherenceResult{}, err
	}
	pref, err := s.PreferenceFor(ctx, bctx.Characters[characterID], order)
	if err != nil {
		return battle.AdherenceResult{}, err
	}
	threshold, mods := battle.BattleThreshold(base, state, battle.PreferenceModifier(pref))
	res := battle.Check(threshold, battle.RollD100(s.dice), mods)
	recordCheck("battle", res)
	return res, nil
}

// CheckPreference rolls the out-of-battle gate.
func (s *AdherenceService) CheckPreference(base, preferenceScore int) battle.AdherenceResult {
	threshold, mods := battle.PreferenceThreshold(base, preferenceScore)
	res := battle.Check(threshold, battle.RollD100(s.dice), mods)
	recordCheck("loadout", res)
	return res
}

func recordCheck(path string, res battle.AdherenceResult) {
	result := "pass"
	if !res.Passed {
		result = "fail"
	}
	metrics.AdherenceChecks.WithLabelValues(path, result).Inc()
}
