package service

import (
	"context"
	"testing"

	"github.com/freeeve/coachwars/pkg/battle"
)

func TestPrimaryAttribute(t *testing.T) {
	tests := map[string]string{
		"mage":      "intelligence",
		"scholar":   "intelligence",
		"assassin":  "dexterity",
		"ranger":    "dexterity",
		"warrior":   "strength",
		"berserker": "strength",
		"":          "strength",
	}
	for archetype, want := range tests {
		if got := PrimaryAttribute(archetype); got != want {
			t.Errorf("PrimaryAttribute(%q) = %s, want %s", archetype, got, want)
		}
	}
}

func TestPreferenceFor(t *testing.T) {
	store := newMemStore()
	store.prefs[prefKey("c1", "spell", "fireball")] = 90
	store.ranks[prefKey("c1", "attribute", "strength")] = 4
	store.ranks[prefKey("c1", "attribute", "constitution")] = 1
	store.ranks[prefKey("m1", "attribute", "intelligence")] = 3
	svc := NewAdherenceService(mockCharRepo{store}, fixedDice{})

	warrior := &battle.CharacterState{ID: "c1", Archetype: "warrior"}
	mage := &battle.CharacterState{ID: "m1", Archetype: "mage"}
	tests := []struct {
		name  string
		c     *battle.CharacterState
		order battle.CoachOrder
		want  int
	}{
		{"spell score", warrior, battle.CoachOrder{ActionType: battle.ActionSpell, AbilityID: "fireball"}, 90},
		{"unknown power", warrior, battle.CoachOrder{ActionType: battle.ActionPower, AbilityID: "rally"}, 50},
		{"attack uses strength", warrior, battle.CoachOrder{ActionType: battle.ActionAttack}, 70},
		{"mage attack uses intelligence", mage, battle.CoachOrder{ActionType: battle.ActionAttack}, 60},
		{"defend uses constitution", warrior, battle.CoachOrder{ActionType: battle.ActionDefend}, 30},
		{"move is neutral", warrior, battle.CoachOrder{ActionType: battle.ActionMove}, 50},
		{"unranked is neutral", mage, battle.CoachOrder{ActionType: battle.ActionDefend}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.PreferenceFor(context.Background(), tt.c, tt.order)
			if err != nil {
				t.Fatalf("PreferenceFor: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckBattleZeroThresholdAlwaysFails(t *testing.T) {
	h := newTurnHarness(firstCandidate(), TurnConfig{})
	seedDuel(h.store, 0, 0, 10)
	rec, err := h.svc.Reconstructor.Reconstruct(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	// A d100 of 1 is the best possible roll.
	svc := NewAdherenceService(mockCharRepo{h.store}, fixedDice{n: 0})
	res, err := svc.CheckBattle(context.Background(), rec.Context, "u1", 0, orderEndTurn)
	if err != nil {
		t.Fatalf("CheckBattle: %v", err)
	}
	if res.Roll != 1 || res.Threshold != 0 || res.Passed {
		t.Errorf("expected roll 1 against 0 to fail, got %+v", res)
	}
}

func TestCheckBattleAppliesModifiers(t *testing.T) {
	h := newTurnHarness(firstCandidate(), TurnConfig{})
	seedDuel(h.store, 80, 80, 10)
	h.store.ranks[prefKey("u1", "attribute", "constitution")] = 4
	rec, err := h.svc.Reconstructor.Reconstruct(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	rec.Context.Characters["u1"].Health = 20

	svc := NewAdherenceService(mockCharRepo{h.store}, fixedDice{n: 49})
	res, err := svc.CheckBattle(context.Background(), rec.Context, "u1", 80, orderDefend)
	if err != nil {
		t.Fatalf("CheckBattle: %v", err)
	}
	// 80 base, -30 for HP at 20%, +10 for a rank-4 preference (70).
	if res.Threshold != 60 || res.Modifiers.HP != battle.HPLowModifier || res.Modifiers.Preference != 10 {
		t.Errorf("unexpected threshold breakdown %+v", res)
	}
	if res.Roll != 50 || !res.Passed {
		t.Errorf("expected roll 50 to pass 60, got %+v", res)
	}
}

func TestCheckPreference(t *testing.T) {
	svc := NewAdherenceService(mockCharRepo{newMemStore()}, fixedDice{n: 54})
	res := svc.CheckPreference(50, 60)
	if res.Threshold != 55 || !res.Passed {
		t.Errorf("expected roll 55 to pass 55, got %+v", res)
	}
	res = svc.CheckPreference(50, 40)
	if res.Threshold != 45 || res.Passed {
		t.Errorf("expected roll 55 to fail 45, got %+v", res)
	}
}
