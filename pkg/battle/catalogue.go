package battle

import "fmt"

// AttackType is a basic attack definition (jab, strike, heavy, ...).
type AttackType struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	APCost           int     `json:"ap_cost"`
	DamageMultiplier float64 `json:"damage_multiplier"`
	AccuracyModifier int     `json:"accuracy_modifier"`
	RequiresMelee    bool    `json:"requires_melee"`
}

// Range is 1 for melee attack types and 3 otherwise.
func (a AttackType) Range() int {
	if a.RequiresMelee {
		return 1
	}
	return 3
}

// EffectType classifies a declared or resolved effect.
type EffectType string

const (
	EffectDamage   EffectType = "damage"
	EffectHeal     EffectType = "heal"
	EffectBuff     EffectType = "buff"
	EffectDebuff   EffectType = "debuff"
	EffectMovement EffectType = "movement"
	EffectSpecial  EffectType = "special"
)

// StatShield marks a buff that grants an ablative shield instead of a status.
const StatShield = "shield"

// EffectDef is one effect declared by a power or spell.
type EffectDef struct {
	Type        EffectType `json:"type"`
	Value       int        `json:"value"`
	Stat        string     `json:"stat,omitempty"`
	Range       *int       `json:"range,omitempty"`
	Duration    int        `json:"duration,omitempty"`
	Description string     `json:"description,omitempty"`
}

// AbilityKind separates powers from spells.
type AbilityKind string

const (
	AbilityPower AbilityKind = "power"
	AbilitySpell AbilityKind = "spell"
)

// Default ranges used when no effect declares one.
const (
	DefaultPowerRange = 1
	DefaultSpellRange = 3
)

// AbilityDef is a power or spell definition.
type AbilityDef struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Kind         AbilityKind `json:"kind"`
	Effects      []EffectDef `json:"effects"`
	Cooldown     int         `json:"cooldown"`
	ManaCost     int         `json:"mana_cost"`
	APCostByRank []int       `json:"ap_cost_by_rank"`
}

// APCost returns the action point cost at the given rank (1-based).
func (d AbilityDef) APCost(rank int) (int, error) {
	if rank < 1 || rank > len(d.APCostByRank) {
		return 0, integrity("ability %s has no AP cost for rank %d", d.ID, rank)
	}
	return d.APCostByRank[rank-1], nil
}

// Range is the first range declared by an effect, or the kind default.
func (d AbilityDef) Range() int {
	for _, e := range d.Effects {
		if e.Range != nil {
			return *e.Range
		}
	}
	if d.Kind == AbilitySpell {
		return DefaultSpellRange
	}
	return DefaultPowerRange
}

// Hostile reports whether the ability targets enemies.
func (d AbilityDef) Hostile() bool {
	for _, e := range d.Effects {
		if e.Type == EffectDamage || e.Type == EffectDebuff {
			return true
		}
	}
	return false
}

// Catalogue is an immutable lookup of attack types and abilities. Build a new
// one to pick up changes; it is never mutated after construction.
type Catalogue struct {
	attacks    []AttackType
	attackByID map[string]int
	abilities  map[string]AbilityDef
}

// NewCatalogue validates the definitions and builds the lookup.
func NewCatalogue(attacks []AttackType, abilities []AbilityDef) (*Catalogue, error) {
	if len(attacks) == 0 {
		return nil, integrity("catalogue has no attack types")
	}
	c := &Catalogue{
		attacks:    make([]AttackType, 0, len(attacks)),
		attackByID: make(map[string]int, len(attacks)),
		abilities:  make(map[string]AbilityDef, len(abilities)),
	}
	for _, a := range attacks {
		if a.ID == "" {
			return nil, integrity("attack type with empty id")
		}
		if _, dup := c.attackByID[a.ID]; dup {
			return nil, integrity("duplicate attack type %s", a.ID)
		}
		if a.APCost < 0 || a.DamageMultiplier <= 0 {
			return nil, integrity("attack type %s has invalid cost or multiplier", a.ID)
		}
		c.attackByID[a.ID] = len(c.attacks)
		c.attacks = append(c.attacks, a)
	}
	for _, d := range abilities {
		if d.ID == "" {
			return nil, integrity("ability with empty id")
		}
		if _, dup := c.abilities[d.ID]; dup {
			return nil, integrity("duplicate ability %s", d.ID)
		}
		if d.Kind != AbilityPower && d.Kind != AbilitySpell {
			return nil, integrity("ability %s has unknown kind %q", d.ID, d.Kind)
		}
		if len(d.APCostByRank) == 0 {
			return nil, integrity("ability %s has no AP costs", d.ID)
		}
		d.Effects = append([]EffectDef(nil), d.Effects...)
		d.APCostByRank = append([]int(nil), d.APCostByRank...)
		c.abilities[d.ID] = d
	}
	return c, nil
}

// AttackTypes returns the attack types in catalogue order.
func (c *Catalogue) AttackTypes() []AttackType {
	return append([]AttackType(nil), c.attacks...)
}

// AttackType looks up an attack type by id.
func (c *Catalogue) AttackType(id string) (AttackType, bool) {
	i, ok := c.attackByID[id]
	if !ok {
		return AttackType{}, false
	}
	return c.attacks[i], true
}

// Ability looks up a power or spell by id.
func (c *Catalogue) Ability(id string) (AbilityDef, bool) {
	d, ok := c.abilities[id]
	return d, ok
}

func (c *Catalogue) String() string {
	return fmt.Sprintf("catalogue(%d attacks, %d abilities)", len(c.attacks), len(c.abilities))
}
