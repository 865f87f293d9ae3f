package battle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// seqDice replays fixed values; Float64 and Intn each have their own queue.
type seqDice struct {
	floats []float64
	ints   []int
}

func (d *seqDice) Float64() float64 {
	if len(d.floats) == 0 {
		return 0.5
	}
	f := d.floats[0]
	d.floats = d.floats[1:]
	return f
}

func (d *seqDice) Intn(n int) int {
	if len(d.ints) == 0 {
		return 0
	}
	v := d.ints[0]
	d.ints = d.ints[1:]
	return v % n
}

func combatant(id string, initiative int) Combatant {
	return Combatant{
		ID:               id,
		Name:             "Fighter " + id,
		Archetype:        "warrior",
		Health:           100,
		MaxHealth:        100,
		Mana:             30,
		MaxMana:          30,
		Stats:            Stats{Attack: 50, Defense: 20, Initiative: initiative},
		BaseActionPoints: BaseActionPoints,
	}
}

func testSnapshot() Snapshot {
	u1 := combatant("u1", 30)
	u1.Powers = []AbilityRef{{ID: "rally", Rank: 1}}
	u1.Spells = []AbilityRef{{ID: "fireball", Rank: 3}}
	return Snapshot{
		BattleID: "b1",
		User: Team{OwnerID: "coach-a", Characters: []Combatant{
			u1, combatant("u2", 20), combatant("u3", 10),
		}},
		Opponent: Team{OwnerID: "coach-b", Characters: []Combatant{
			combatant("o1", 25), combatant("o2", 15), combatant("o3", 5),
		}},
		MaxRounds: 10,
	}
}

func testCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	cat, err := NewCatalogue(
		[]AttackType{
			{ID: "jab", Name: "Jab", APCost: 1, DamageMultiplier: 0.6, AccuracyModifier: 10, RequiresMelee: true},
			{ID: "strike", Name: "Strike", APCost: 2, DamageMultiplier: 1.0, RequiresMelee: true},
			{ID: "heavy", Name: "Heavy", APCost: 3, DamageMultiplier: 1.75, AccuracyModifier: -10, RequiresMelee: true},
		},
		[]AbilityDef{
			{
				ID: "fireball", Name: "Fireball", Kind: AbilitySpell,
				Effects:      []EffectDef{{Type: EffectDamage, Value: 20, Description: "burn"}},
				Cooldown:     2,
				ManaCost:     10,
				APCostByRank: []int{2, 2, 2},
			},
			{
				ID: "rally", Name: "Rally", Kind: AbilityPower,
				Effects: []EffectDef{
					{Type: EffectBuff, Stat: "attack", Value: 10, Description: "rallied"},
					{Type: EffectHeal, Value: 5, Description: "second wind"},
				},
				Cooldown:     1,
				APCostByRank: []int{1, 1, 2},
			},
		},
	)
	require.NoError(t, err)
	return cat
}

func newTestContext(t *testing.T) *BattleContext {
	t.Helper()
	ctx, err := NewContext(testSnapshot())
	require.NoError(t, err)
	return ctx
}

// step executes a for whoever is up next, applies it, and returns the entry.
func step(t *testing.T, ctx *BattleContext, cat *Catalogue, a Action, dice Dice) LogEntry {
	t.Helper()
	actor, round, turn, ok := ctx.Upcoming()
	require.True(t, ok)
	out, err := Execute(ctx, cat, actor, a, dice)
	require.NoError(t, err)
	e := LogEntry{
		Sequence:   ctx.Sequence + 1,
		Round:      round,
		Turn:       turn,
		ActorID:    actor,
		ActionType: a.Type(),
		Payload:    OrderFor(a),
		Outcome:    *out,
	}
	require.NoError(t, ctx.Apply(e))
	return e
}
