package battle

import (
	"fmt"
	"strings"
)

// Option is a candidate action for one character, tagged valid or not.
type Option struct {
	ID           string             `json:"id"`
	Type         ActionType         `json:"type"`
	Label        string             `json:"label"`
	APCost       int                `json:"ap_cost"`
	ManaCost     int                `json:"mana_cost,omitempty"`
	Valid        bool               `json:"is_valid"`
	Reason       string             `json:"reason,omitempty"`
	TargetID     string             `json:"target_id,omitempty"`
	AttackTypeID string             `json:"attack_type_id,omitempty"`
	AbilityID    string             `json:"ability_id,omitempty"`
	TargetHex    *Hex               `json:"target_hex,omitempty"`
	Metadata     map[string]float64 `json:"metadata,omitempty"`
	IsCoachOrder bool               `json:"is_coach_order"`
}

// Order returns the option in CoachOrder form.
func (o Option) Order() CoachOrder {
	co := CoachOrder{
		ActionType:   o.Type,
		TargetID:     o.TargetID,
		AttackTypeID: o.AttackTypeID,
		AbilityID:    o.AbilityID,
	}
	if o.TargetHex != nil {
		h := *o.TargetHex
		co.TargetHex = &h
	}
	return co
}

// Matches reports whether the order asks for exactly this option.
func (o CoachOrder) Matches(opt Option) bool {
	if o.ActionType != opt.Type || o.TargetID != opt.TargetID ||
		o.AttackTypeID != opt.AttackTypeID || o.AbilityID != opt.AbilityID {
		return false
	}
	if (o.TargetHex == nil) != (opt.TargetHex == nil) {
		return false
	}
	return o.TargetHex == nil || *o.TargetHex == *opt.TargetHex
}

// ForActor returns the order with an empty power or spell target resolved to
// actorID, the form the generated options use.
func (o CoachOrder) ForActor(actorID string) CoachOrder {
	if o.TargetID == "" && (o.ActionType == ActionPower || o.ActionType == ActionSpell) {
		o.TargetID = actorID
	}
	return o
}

// Option metadata keys.
const (
	MetaDamageMultiplier = "damage_multiplier"
	MetaAccuracyModifier = "accuracy_modifier"
	MetaDistance         = "distance"
	MetaTargetHPRatio    = "target_hp_ratio"
	MetaRange            = "range"
)

// GenerateOptions lists every action characterID could take, in a stable
// order: attacks (type x living enemy), powers, spells, single-step moves,
// defend, end_turn. Defend and end_turn are always present. When order is
// non-nil, the one option matching it exactly is flagged IsCoachOrder.
// It never fails.
func GenerateOptions(ctx *BattleContext, cat *Catalogue, characterID string, order *CoachOrder) []Option {
	var opts []Option
	ctx = ctx.TurnView()
	actor := ctx.Characters[characterID]
	st := ctx.ActionStates[characterID]
	if actor == nil || st == nil || !actor.Alive {
		opts = append(opts,
			Option{ID: "defend", Type: ActionDefend, Label: "Defend", APCost: DefendCost, Reason: "Character cannot act"},
			endTurnOption(),
		)
		return flagCoachOrder(opts, order, characterID)
	}

	enemies := ctx.Living(actor.Side.Opponent())
	allies := ctx.Living(actor.Side)

	if cat != nil {
		for _, at := range cat.AttackTypes() {
			for _, id := range enemies {
				target := ctx.Characters[id]
				dist := Distance(actor.Position, target.Position)
				opt := Option{
					ID:           fmt.Sprintf("attack:%s:%s", at.ID, id),
					Type:         ActionAttack,
					Label:        fmt.Sprintf("%s %s", at.Name, target.Name),
					APCost:       at.APCost,
					TargetID:     id,
					AttackTypeID: at.ID,
					Metadata: map[string]float64{
						MetaDamageMultiplier: at.DamageMultiplier,
						MetaAccuracyModifier: float64(at.AccuracyModifier),
						MetaDistance:         float64(dist),
						MetaRange:            float64(at.Range()),
						MetaTargetHPRatio:    hpRatio(target),
					},
				}
				switch {
				case !CanAfford(*st, at.APCost):
					opt.Reason = "Insufficient AP"
				case dist > at.Range():
					opt.Reason = "Target out of range"
				default:
					opt.Valid = true
				}
				opts = append(opts, opt)
			}
		}
		opts = append(opts, abilityOptions(ctx, cat, actor, st, AbilityPower, enemies, allies)...)
		opts = append(opts, abilityOptions(ctx, cat, actor, st, AbilitySpell, enemies, allies)...)
	}

	for _, h := range actor.Position.Neighbors() {
		if !InBounds(h) || ctx.OccupiedBy(h) != "" {
			continue
		}
		to := h
		opt := Option{
			ID:        "move:" + h.String(),
			Type:      ActionMove,
			Label:     "Move to " + h.String(),
			APCost:    MovePerHex,
			TargetHex: &to,
		}
		switch {
		case !st.CanMove:
			opt.Reason = "Cannot move this turn"
		case !CanAfford(*st, MovePerHex):
			opt.Reason = "Insufficient AP"
		default:
			opt.Valid = true
		}
		opts = append(opts, opt)
	}

	def := Option{ID: "defend", Type: ActionDefend, Label: "Defend", APCost: DefendCost}
	switch {
	case !st.CanDefend:
		def.Reason = "Already defended this turn"
	case !CanAfford(*st, DefendCost):
		def.Reason = "Insufficient AP"
	default:
		def.Valid = true
	}
	opts = append(opts, def, endTurnOption())
	return flagCoachOrder(opts, order, characterID)
}

func abilityOptions(ctx *BattleContext, cat *Catalogue, actor *CharacterState, st *ActionState, kind AbilityKind, enemies, allies []string) []Option {
	refs := actor.Powers
	actionType := ActionPower
	if kind == AbilitySpell {
		refs = actor.Spells
		actionType = ActionSpell
	}
	var opts []Option
	for _, ref := range refs {
		def, ok := cat.Ability(ref.ID)
		if !ok || def.Kind != kind {
			opts = append(opts, Option{
				ID:        fmt.Sprintf("%s:%s", kind, ref.ID),
				Type:      actionType,
				Label:     ref.ID,
				AbilityID: ref.ID,
				Reason:    "Unknown " + string(kind),
			})
			continue
		}
		apCost, err := def.APCost(ref.Rank)
		if err != nil {
			opts = append(opts, Option{
				ID:        fmt.Sprintf("%s:%s", kind, ref.ID),
				Type:      actionType,
				Label:     def.Name,
				AbilityID: ref.ID,
				Reason:    "No cost for rank",
			})
			continue
		}
		manaCost := 0
		if kind == AbilitySpell {
			manaCost = def.ManaCost
		}
		targets := allies
		if def.Hostile() {
			targets = enemies
		}
		for _, id := range targets {
			target := ctx.Characters[id]
			dist := Distance(actor.Position, target.Position)
			reasons := ValidateAbility(AbilityCheck{
				Kind:        kind,
				Cooldown:    CooldownRemaining(st.Cooldowns, ref.ID),
				State:       *st,
				APCost:      apCost,
				Mana:        actor.Mana,
				ManaCost:    manaCost,
				Distance:    dist,
				Range:       def.Range(),
				HasDistance: true,
			})
			opts = append(opts, Option{
				ID:        fmt.Sprintf("%s:%s:%s", kind, ref.ID, id),
				Type:      actionType,
				Label:     fmt.Sprintf("%s on %s", def.Name, target.Name),
				APCost:    apCost,
				ManaCost:  manaCost,
				Valid:     len(reasons) == 0,
				Reason:    strings.Join(reasons, "; "),
				TargetID:  id,
				AbilityID: ref.ID,
				Metadata: map[string]float64{
					MetaDistance:      float64(dist),
					MetaRange:         float64(def.Range()),
					MetaTargetHPRatio: hpRatio(target),
				},
			})
		}
	}
	return opts
}

func endTurnOption() Option {
	return Option{ID: "end_turn", Type: ActionEndTurn, Label: "End turn", APCost: EndTurnCost, Valid: true}
}

func flagCoachOrder(opts []Option, order *CoachOrder, actorID string) []Option {
	if order == nil {
		return opts
	}
	o := order.ForActor(actorID)
	for i := range opts {
		if o.Matches(opts[i]) {
			opts[i].IsCoachOrder = true
			break
		}
	}
	return opts
}

func hpRatio(c *CharacterState) float64 {
	if c.MaxHealth <= 0 {
		return 0
	}
	return float64(c.Health) / float64(c.MaxHealth)
}

// RebellionCandidates returns the valid options other than the coach's order
// and end_turn.
func RebellionCandidates(opts []Option) []Option {
	var out []Option
	for _, o := range opts {
		if o.Valid && !o.IsCoachOrder && o.Type != ActionEndTurn {
			out = append(out, o)
		}
	}
	return out
}

// FindOption returns the option with the given id.
func FindOption(opts []Option, id string) (Option, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}
