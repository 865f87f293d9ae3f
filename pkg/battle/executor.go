package battle

import (
	"fmt"
	"math"
	"sort"
)

// StateChange is the absolute post-action state of one character. Nil
// pointers mean unchanged.
type StateChange struct {
	CharacterID    string         `json:"character_id"`
	Health         *int           `json:"health,omitempty"`
	Mana           *int           `json:"mana,omitempty"`
	Position       *Hex           `json:"position,omitempty"`
	AddEffects     []StatusEffect `json:"add_effects,omitempty"`
	ShieldsChanged bool           `json:"shields_changed,omitempty"`
	Shields        []Shield       `json:"shields,omitempty"`
}

// CooldownSet starts a cooldown on the actor.
type CooldownSet struct {
	AbilityID string `json:"ability_id"`
	Turns     int    `json:"turns"`
}

// Outcome is everything an executed action did. The reducer applies it
// verbatim; it is never recomputed.
type Outcome struct {
	Type      ActionType     `json:"action_type"`
	APCost    int            `json:"ap_cost"`
	ManaCost  int            `json:"mana_cost,omitempty"`
	ActorAP   int            `json:"actor_ap"`
	HitChance int            `json:"hit_chance,omitempty"`
	Hit       bool           `json:"hit,omitempty"`
	Critical  bool           `json:"critical,omitempty"`
	Immune    bool           `json:"immune,omitempty"`
	Damage    int            `json:"damage_dealt,omitempty"`
	Absorbed  int            `json:"absorbed,omitempty"`
	Effects   []ActionEffect `json:"effects,omitempty"`
	Changes   []StateChange  `json:"changes,omitempty"`
	Cooldown  *CooldownSet   `json:"cooldown,omitempty"`
	Narrative string         `json:"narrative"`
}

// Execute resolves one action for actorID against ctx. It never mutates
// ctx; the returned Outcome is applied by the reducer once persisted.
// Resource failures return a *ResourceError listing every failed check and
// no Outcome.
func Execute(ctx *BattleContext, cat *Catalogue, actorID string, a Action, dice Dice) (*Outcome, error) {
	ctx = ctx.TurnView()
	actor := ctx.Characters[actorID]
	if actor == nil {
		return nil, &StateError{Message: fmt.Sprintf("character %s is not in this battle", actorID)}
	}
	if !actor.Alive {
		return nil, &StateError{Message: fmt.Sprintf("character %s is defeated", actorID)}
	}
	st := ctx.ActionStates[actorID]
	if st == nil {
		return nil, &DataIntegrityError{BattleID: ctx.BattleID, Message: "no action state for " + actorID}
	}

	switch v := a.(type) {
	case Move:
		return executeMove(ctx, actor, st, v)
	case Attack:
		return executeAttack(ctx, cat, actor, st, v, dice)
	case Power:
		return executeAbility(ctx, cat, actor, st, AbilityPower, v.AbilityID, v.TargetID)
	case Spell:
		return executeAbility(ctx, cat, actor, st, AbilitySpell, v.AbilityID, v.TargetID)
	case Defend:
		return executeDefend(actor, st)
	case EndTurn:
		return &Outcome{
			Type:      ActionEndTurn,
			APCost:    EndTurnCost,
			ActorAP:   st.APRemaining,
			Narrative: actor.Name + " ends their turn.",
		}, nil
	default:
		return nil, &ValidationError{Field: "action", Message: fmt.Sprintf("unsupported %T", a)}
	}
}

func executeMove(ctx *BattleContext, actor *CharacterState, st *ActionState, m Move) (*Outcome, error) {
	var reasons []string
	dist := Distance(actor.Position, m.To)
	cost := dist * MovePerHex
	if !InBounds(m.To) {
		reasons = append(reasons, fmt.Sprintf("Hex %s is outside the arena", m.To))
	}
	if dist == 0 {
		reasons = append(reasons, "Already at that hex")
	}
	if occ := ctx.OccupiedBy(m.To); occ != "" && occ != actor.ID {
		reasons = append(reasons, fmt.Sprintf("Hex %s is occupied", m.To))
	}
	if !st.CanMove {
		reasons = append(reasons, "Cannot move this turn")
	}
	if !CanAfford(*st, cost) {
		reasons = append(reasons, fmt.Sprintf("Insufficient AP: need %d, have %d", cost, st.APRemaining))
	}
	if len(reasons) > 0 {
		return nil, &ResourceError{Action: ActionMove, Reasons: reasons}
	}
	to := m.To
	return &Outcome{
		Type:      ActionMove,
		APCost:    cost,
		ActorAP:   st.APRemaining - cost,
		Changes:   []StateChange{{CharacterID: actor.ID, Position: &to}},
		Narrative: fmt.Sprintf("%s moves to %s.", actor.Name, to),
	}, nil
}

func executeAttack(ctx *BattleContext, cat *Catalogue, actor *CharacterState, st *ActionState, a Attack, dice Dice) (*Outcome, error) {
	at, ok := cat.AttackType(a.AttackTypeID)
	if !ok {
		return nil, &ValidationError{Field: "attack_type_id", Message: "unknown attack type " + a.AttackTypeID}
	}
	target := ctx.Characters[a.TargetID]
	if target == nil {
		return nil, &ValidationError{Field: "target_id", Message: "unknown target " + a.TargetID}
	}
	if target.Side == actor.Side {
		return nil, &ValidationError{Field: "target_id", Message: "cannot attack an ally"}
	}
	if !target.Alive {
		return nil, &StateError{Message: fmt.Sprintf("target %s is already defeated", target.ID)}
	}

	var reasons []string
	if !CanAfford(*st, at.APCost) {
		reasons = append(reasons, fmt.Sprintf("Insufficient AP for %s: need %d, have %d", at.Name, at.APCost, st.APRemaining))
	}
	if !st.CanAttack {
		reasons = append(reasons, "Cannot attack this turn")
	}
	if dist := Distance(actor.Position, target.Position); dist > at.Range() {
		reasons = append(reasons, fmt.Sprintf("Target out of range: %d hexes, max range %d", dist, at.Range()))
	}
	if len(reasons) > 0 {
		return nil, &ResourceError{Action: ActionAttack, Reasons: reasons}
	}

	out := &Outcome{
		Type:    ActionAttack,
		APCost:  at.APCost,
		ActorAP: st.APRemaining - at.APCost,
	}

	out.HitChance = HitChance(at.AccuracyModifier, target.Stats.Dexterity)
	if dice.Float64()*100 >= float64(out.HitChance) {
		out.Narrative = fmt.Sprintf("%s uses %s on %s but misses! (Hit chance: %d%%)", actor.Name, at.Name, target.Name, out.HitChance)
		return out, nil
	}
	out.Hit = true

	scaled := int(math.Floor(float64(actor.Stats.Attack) * at.DamageMultiplier))
	dmg := DefenseReduction(scaled, target.Stats.Defense)
	dmg, immune := Resist(dmg, target.Resistances[DamagePhysical])
	if immune {
		out.Immune = true
		out.Narrative = fmt.Sprintf("%s uses %s on %s, but they are immune to damage!", actor.Name, at.Name, target.Name)
		return out, nil
	}
	if target.HasEffect(EffectDefending) {
		dmg = int(math.Round(float64(dmg) * (1 - DefendingReduction)))
	}
	through, shields := AbsorbShields(target.Shields, dmg)
	out.Absorbed = dmg - through

	crit := CritChance(target.Stats.Dexterity)
	out.Critical = dice.Float64()*100 < crit
	mult := 1.0
	if out.Critical {
		mult = CritMultiplier
	}
	variance := VarianceLow + dice.Float64()*VarianceSpread
	final := max(1, int(math.Round(float64(through)*mult*variance)))
	out.Damage = final

	health := max(0, target.Health-final)
	change := StateChange{CharacterID: target.ID, Health: &health}
	if out.Absorbed > 0 {
		change.ShieldsChanged = true
		change.Shields = shields
	}
	out.Changes = []StateChange{change}
	out.Effects = []ActionEffect{{
		Type:        EffectDamage,
		TargetID:    target.ID,
		Value:       final,
		Description: at.Name,
	}}
	out.Narrative = attackNarrative(actor.Name, target.Name, at, final, out.Critical, out.Absorbed, health == 0)
	return out, nil
}

func attackNarrative(actor, target string, at AttackType, dmg int, crit bool, absorbed int, killed bool) string {
	var s string
	switch at.ID {
	case "jab":
		s = fmt.Sprintf("%s jabs %s for %d damage!", actor, target, dmg)
	case "heavy":
		s = fmt.Sprintf("%s winds up and delivers a heavy blow to %s for %d damage!", actor, target, dmg)
	default:
		s = fmt.Sprintf("%s strikes %s for %d damage!", actor, target, dmg)
	}
	if crit {
		s += " CRITICAL HIT!"
	}
	if absorbed > 0 {
		s += fmt.Sprintf(" (%d absorbed by shields)", absorbed)
	}
	if killed {
		s += " " + target + " has been defeated!"
	}
	return s
}

// AbilityCheck is the input to ValidateAbility.
type AbilityCheck struct {
	Kind        AbilityKind
	Cooldown    int
	State       ActionState
	APCost      int
	Mana        int
	ManaCost    int
	Distance    int
	Range       int
	HasDistance bool
}

// ValidateAbility returns every reason the ability cannot be used, or nil.
func ValidateAbility(c AbilityCheck) []string {
	var reasons []string
	label := "Power"
	if c.Kind == AbilitySpell {
		label = "Spell"
	}
	if c.Cooldown > 0 {
		reasons = append(reasons, fmt.Sprintf("%s is on cooldown for %d more turn(s)", label, c.Cooldown))
	}
	if !CanAfford(c.State, c.APCost) {
		reasons = append(reasons, fmt.Sprintf("Insufficient AP: need %d, have %d", c.APCost, c.State.APRemaining))
	}
	if c.Kind == AbilitySpell && !CanAffordCast(c.State, c.Mana, 0, c.ManaCost) {
		reasons = append(reasons, fmt.Sprintf("Insufficient mana: need %d, have %d", c.ManaCost, c.Mana))
	}
	if c.HasDistance && c.Distance > c.Range {
		reasons = append(reasons, fmt.Sprintf("Target out of range: %d hexes, max range %d", c.Distance, c.Range))
	}
	return reasons
}

func executeAbility(ctx *BattleContext, cat *Catalogue, actor *CharacterState, st *ActionState, kind AbilityKind, abilityID, targetID string) (*Outcome, error) {
	actionType := ActionPower
	if kind == AbilitySpell {
		actionType = ActionSpell
	}
	rank, known := actor.AbilityRank(kind, abilityID)
	if !known {
		return nil, &ValidationError{Field: "ability_id", Message: fmt.Sprintf("%s does not have %s %s", actor.ID, kind, abilityID)}
	}
	def, ok := cat.Ability(abilityID)
	if !ok {
		return nil, &DataIntegrityError{BattleID: ctx.BattleID, Message: fmt.Sprintf("%s %s missing from catalogue", kind, abilityID)}
	}
	if def.Kind != kind {
		return nil, &ValidationError{Field: "ability_id", Message: fmt.Sprintf("%s is a %s, not a %s", abilityID, def.Kind, kind)}
	}
	apCost, err := def.APCost(rank)
	if err != nil {
		return nil, err
	}

	target := actor
	if targetID != "" {
		target = ctx.Characters[targetID]
		if target == nil {
			return nil, &ValidationError{Field: "target_id", Message: "unknown target " + targetID}
		}
	}
	if !target.Alive {
		return nil, &StateError{Message: fmt.Sprintf("target %s is already defeated", target.ID)}
	}

	manaCost := 0
	if kind == AbilitySpell {
		manaCost = def.ManaCost
	}
	reasons := ValidateAbility(AbilityCheck{
		Kind:        kind,
		Cooldown:    CooldownRemaining(st.Cooldowns, abilityID),
		State:       *st,
		APCost:      apCost,
		Mana:        actor.Mana,
		ManaCost:    manaCost,
		Distance:    Distance(actor.Position, target.Position),
		Range:       def.Range(),
		HasDistance: true,
	})
	if len(reasons) > 0 {
		return nil, &ResourceError{Action: actionType, Reasons: reasons}
	}

	mult := RankMultiplier(rank)
	effects := make([]ActionEffect, 0, len(def.Effects))
	for _, e := range def.Effects {
		typ := e.Type
		if typ == "" {
			typ = EffectSpecial
		}
		desc := e.Description
		if desc == "" {
			desc = string(typ) + " effect"
		}
		effects = append(effects, ActionEffect{
			Type:        typ,
			TargetID:    target.ID,
			Value:       int(math.Round(float64(e.Value) * mult)),
			Stat:        e.Stat,
			Duration:    e.Duration,
			Description: desc,
		})
	}

	changes := map[string]*StateChange{}
	changeFor := func(id string) *StateChange {
		if c, ok := changes[id]; ok {
			return c
		}
		c := &StateChange{CharacterID: id}
		changes[id] = c
		return c
	}

	sum := ApplyActionEffects(effects)
	for id, delta := range sum.HealthChanges {
		ch := ctx.Characters[id]
		h := clampInt(ch.Health+delta, 0, ch.MaxHealth)
		changeFor(id).Health = &h
	}
	for _, app := range sum.StatusEffects {
		eff := app.Effect
		eff.Source = abilityID
		c := changeFor(app.TargetID)
		if eff.Category == EffectBuff && eff.Stat == StatShield {
			if !c.ShieldsChanged {
				c.ShieldsChanged = true
				c.Shields = append([]Shield{}, ctx.Characters[app.TargetID].Shields...)
			}
			c.Shields = append(c.Shields, Shield{Source: abilityID, Amount: eff.Value})
			continue
		}
		c.AddEffects = append(c.AddEffects, eff)
	}
	if manaCost > 0 {
		m := actor.Mana - manaCost
		changeFor(actor.ID).Mana = &m
	}

	out := &Outcome{
		Type:     actionType,
		APCost:   apCost,
		ManaCost: manaCost,
		ActorAP:  st.APRemaining - apCost,
		Effects:  effects,
		Changes:  sortedChanges(changes),
	}
	if def.Cooldown > 0 {
		out.Cooldown = &CooldownSet{AbilityID: abilityID, Turns: def.Cooldown}
	}
	verb := "uses"
	if kind == AbilitySpell {
		verb = "casts"
	}
	if target.ID != actor.ID {
		out.Narrative = fmt.Sprintf("%s %s %s on %s!", actor.Name, verb, def.Name, target.Name)
	} else {
		out.Narrative = fmt.Sprintf("%s %s %s!", actor.Name, verb, def.Name)
	}
	return out, nil
}

func executeDefend(actor *CharacterState, st *ActionState) (*Outcome, error) {
	var reasons []string
	if !st.CanDefend {
		reasons = append(reasons, "Already defended this turn")
	}
	if !CanAfford(*st, DefendCost) {
		reasons = append(reasons, fmt.Sprintf("Insufficient AP: need %d, have %d", DefendCost, st.APRemaining))
	}
	if len(reasons) > 0 {
		return nil, &ResourceError{Action: ActionDefend, Reasons: reasons}
	}
	buff := StatusEffect{
		Type:     EffectDefending,
		Category: EffectBuff,
		Value:    int(DefendingReduction * 100),
		Duration: 1,
		Source:   "defend_action",
	}
	return &Outcome{
		Type:    ActionDefend,
		APCost:  DefendCost,
		ActorAP: st.APRemaining - DefendCost,
		Effects: []ActionEffect{{
			Type:        EffectBuff,
			TargetID:    actor.ID,
			Value:       buff.Value,
			Duration:    1,
			Description: "Defending - 25% damage reduction until next turn",
		}},
		Changes:   []StateChange{{CharacterID: actor.ID, AddEffects: []StatusEffect{buff}}},
		Narrative: actor.Name + " takes a defensive stance!",
	}, nil
}

func sortedChanges(m map[string]*StateChange) []StateChange {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]StateChange, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m[id])
	}
	return out
}
