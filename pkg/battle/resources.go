package battle

import "sort"

// Action point costs.
const (
	BaseActionPoints = 3
	MovePerHex       = 1
	DefendCost       = 1
	EndTurnCost      = 0
)

// ActionState is a character's per-turn budget. It is derived by replay and
// reset whenever the character starts a new turn.
type ActionState struct {
	CharacterID string         `json:"character_id"`
	APRemaining int            `json:"ap_remaining"`
	APMax       int            `json:"ap_max"`
	Cooldowns   map[string]int `json:"cooldowns"`
	CanMove     bool           `json:"can_move"`
	CanAttack   bool           `json:"can_attack"`
	CanDefend   bool           `json:"can_defend"`
}

// CanAfford reports whether the state has at least apCost action points.
func CanAfford(st ActionState, apCost int) bool {
	return apCost >= 0 && st.APRemaining >= apCost
}

// CanAffordCast is CanAfford plus a mana check against the caster's pool.
func CanAffordCast(st ActionState, mana, apCost, manaCost int) bool {
	return CanAfford(st, apCost) && manaCost >= 0 && mana >= manaCost
}

// CooldownRemaining returns the turns left before abilityID is usable again.
// Zero means usable.
func CooldownRemaining(cooldowns map[string]int, abilityID string) int {
	if n := cooldowns[abilityID]; n > 0 {
		return n
	}
	return 0
}

func (st *ActionState) clone() *ActionState {
	cp := *st
	cp.Cooldowns = make(map[string]int, len(st.Cooldowns))
	for k, v := range st.Cooldowns {
		cp.Cooldowns[k] = v
	}
	return &cp
}

// refresh restores the AP pool and flags and ticks cooldowns down by one.
func (st *ActionState) refresh() {
	st.APRemaining = st.APMax
	st.CanMove = true
	st.CanAttack = true
	st.CanDefend = true
	ids := make([]string, 0, len(st.Cooldowns))
	for id := range st.Cooldowns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if st.Cooldowns[id] <= 1 {
			delete(st.Cooldowns, id)
			continue
		}
		st.Cooldowns[id]--
	}
}
