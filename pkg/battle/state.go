package battle

import (
	"fmt"
	"sort"
)

// Side identifies one of the two rosters in a battle.
type Side string

const (
	SideUser     Side = "user"
	SideOpponent Side = "opponent"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideUser {
		return SideOpponent
	}
	return SideUser
}

// MaxTeamSize is the number of starting hexes per side.
const MaxTeamSize = 3

var startingHexes = map[Side][MaxTeamSize]Hex{
	SideUser:     {NewHex(2, 4), NewHex(2, 5), NewHex(2, 6)},
	SideOpponent: {NewHex(9, 4), NewHex(9, 5), NewHex(9, 6)},
}

// Stats are a character's combat values, frozen at battle start.
type Stats struct {
	Attack       int `json:"attack"`
	Defense      int `json:"defense"`
	Speed        int `json:"speed"`
	MagicAttack  int `json:"magic_attack"`
	MagicDefense int `json:"magic_defense"`
	Dexterity    int `json:"dexterity"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Spirit       int `json:"spirit"`
	Initiative   int `json:"initiative"`
}

// Psych is the psychological snapshot stored with rebellion entries.
type Psych struct {
	Stress       int `json:"stress"`
	MentalHealth int `json:"mental_health"`
	TeamTrust    int `json:"team_trust"`
	BattleFocus  int `json:"battle_focus"`
}

// AbilityRef is an equipped power or spell at a rank.
type AbilityRef struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

// Combatant is a character as frozen into the battle's team snapshot.
type Combatant struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Archetype        string         `json:"archetype"`
	Health           int            `json:"current_health"`
	MaxHealth        int            `json:"current_max_health"`
	Mana             int            `json:"current_mana"`
	MaxMana          int            `json:"max_mana"`
	Energy           int            `json:"current_energy"`
	MaxEnergy        int            `json:"max_energy"`
	Stats            Stats          `json:"stats"`
	Resistances      map[string]int `json:"resistances,omitempty"`
	BaseActionPoints int            `json:"base_action_points"`
	Powers           []AbilityRef   `json:"powers,omitempty"`
	Spells           []AbilityRef   `json:"spells,omitempty"`
	Psych            Psych          `json:"psych"`
}

// Team is one side's roster.
type Team struct {
	OwnerID    string      `json:"owner_id"`
	Characters []Combatant `json:"characters"`
}

// Snapshot is the immutable starting point every replay begins from.
type Snapshot struct {
	BattleID  string `json:"battle_id"`
	User      Team   `json:"user"`
	Opponent  Team   `json:"opponent"`
	MaxRounds int    `json:"max_rounds"`
}

// StatusEffect is an active buff or debuff on a character.
type StatusEffect struct {
	Type     string     `json:"type"`
	Category EffectType `json:"category"`
	Stat     string     `json:"stat,omitempty"`
	Value    int        `json:"value"`
	Duration int        `json:"duration"`
	Source   string     `json:"source"`
}

// Shield absorbs incoming damage before health.
type Shield struct {
	Source string `json:"source"`
	Amount int    `json:"amount"`
}

// CharacterState is the derived, replayed state of one combatant.
type CharacterState struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Archetype   string         `json:"archetype"`
	Side        Side           `json:"side"`
	Health      int            `json:"health"`
	MaxHealth   int            `json:"max_health"`
	Mana        int            `json:"mana"`
	MaxMana     int            `json:"max_mana"`
	Energy      int            `json:"energy"`
	MaxEnergy   int            `json:"max_energy"`
	Position    Hex            `json:"position"`
	Stats       Stats          `json:"stats"`
	Resistances map[string]int `json:"resistances,omitempty"`
	Powers      []AbilityRef   `json:"powers,omitempty"`
	Spells      []AbilityRef   `json:"spells,omitempty"`
	Psych       Psych          `json:"psych"`
	Effects     []StatusEffect `json:"effects"`
	Shields     []Shield       `json:"shields"`
	Alive       bool           `json:"alive"`
}

// HasEffect reports whether an effect of the given type is active.
func (c *CharacterState) HasEffect(effectType string) bool {
	for _, e := range c.Effects {
		if e.Type == effectType {
			return true
		}
	}
	return false
}

// AbilityRank returns the rank of an equipped ability of the given kind.
func (c *CharacterState) AbilityRank(kind AbilityKind, id string) (int, bool) {
	refs := c.Powers
	if kind == AbilitySpell {
		refs = c.Spells
	}
	for _, r := range refs {
		if r.ID == id {
			return r.Rank, true
		}
	}
	return 0, false
}

func (c *CharacterState) clone() *CharacterState {
	cp := *c
	if c.Resistances != nil {
		cp.Resistances = make(map[string]int, len(c.Resistances))
		for k, v := range c.Resistances {
			cp.Resistances[k] = v
		}
	}
	cp.Powers = append([]AbilityRef(nil), c.Powers...)
	cp.Spells = append([]AbilityRef(nil), c.Spells...)
	cp.Effects = append([]StatusEffect{}, c.Effects...)
	cp.Shields = append([]Shield{}, c.Shields...)
	return &cp
}

// BattleContext is the full in-memory battle state. It is only ever produced
// by NewContext followed by Apply for each log entry.
type BattleContext struct {
	BattleID     string                     `json:"battle_id"`
	MaxRounds    int                        `json:"max_rounds"`
	Sequence     int                        `json:"sequence"`
	Round        int                        `json:"round"`
	Turn         int                        `json:"turn"`
	ActorID      string                     `json:"actor_id"`
	TurnOpen     bool                       `json:"turn_open"`
	TurnOrder    []string                   `json:"turn_order"`
	Characters   map[string]*CharacterState `json:"characters"`
	ActionStates map[string]*ActionState    `json:"action_states"`
}

// NewContext builds the pre-battle context from a snapshot.
func NewContext(snap Snapshot) (*BattleContext, error) {
	if snap.BattleID == "" {
		return nil, integrity("snapshot has no battle id")
	}
	ctx := &BattleContext{
		BattleID:     snap.BattleID,
		MaxRounds:    snap.MaxRounds,
		Round:        1,
		Characters:   make(map[string]*CharacterState),
		ActionStates: make(map[string]*ActionState),
	}
	type ordered struct {
		id         string
		initiative int
	}
	var order []ordered

	for _, side := range []Side{SideUser, SideOpponent} {
		team := snap.User
		if side == SideOpponent {
			team = snap.Opponent
		}
		if len(team.Characters) == 0 || len(team.Characters) > MaxTeamSize {
			return nil, &DataIntegrityError{BattleID: snap.BattleID, Message: fmt.Sprintf("%s team has %d characters", side, len(team.Characters))}
		}
		for i, c := range team.Characters {
			if err := checkCombatant(c); err != nil {
				return nil, &DataIntegrityError{BattleID: snap.BattleID, Message: err.Error()}
			}
			if _, dup := ctx.Characters[c.ID]; dup {
				return nil, &DataIntegrityError{BattleID: snap.BattleID, Message: "duplicate character " + c.ID}
			}
			st := &CharacterState{
				ID:          c.ID,
				Name:        c.Name,
				Archetype:   c.Archetype,
				Side:        side,
				Health:      c.Health,
				MaxHealth:   c.MaxHealth,
				Mana:        c.Mana,
				MaxMana:     c.MaxMana,
				Energy:      c.Energy,
				MaxEnergy:   c.MaxEnergy,
				Position:    startingHexes[side][i],
				Stats:       c.Stats,
				Resistances: c.Resistances,
				Powers:      c.Powers,
				Spells:      c.Spells,
				Psych:       c.Psych,
				Effects:     []StatusEffect{},
				Shields:     []Shield{},
				Alive:       c.Health > 0,
			}
			ctx.Characters[c.ID] = st.clone()
			ctx.ActionStates[c.ID] = &ActionState{
				CharacterID: c.ID,
				APRemaining: c.BaseActionPoints,
				APMax:       c.BaseActionPoints,
				Cooldowns:   map[string]int{},
				CanMove:     true,
				CanAttack:   true,
				CanDefend:   true,
			}
			order = append(order, ordered{c.ID, c.Stats.Initiative})
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].initiative != order[j].initiative {
			return order[i].initiative > order[j].initiative
		}
		return order[i].id < order[j].id
	})
	for _, o := range order {
		ctx.TurnOrder = append(ctx.TurnOrder, o.id)
	}
	return ctx, nil
}

func checkCombatant(c Combatant) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("character with empty id")
	case c.MaxHealth <= 0:
		return fmt.Errorf("character %s has no max health", c.ID)
	case c.Health < 0 || c.Health > c.MaxHealth:
		return fmt.Errorf("character %s health %d outside 0..%d", c.ID, c.Health, c.MaxHealth)
	case c.BaseActionPoints <= 0:
		return fmt.Errorf("character %s has no base action points", c.ID)
	case c.Mana < 0 || c.Mana > c.MaxMana:
		return fmt.Errorf("character %s mana %d outside 0..%d", c.ID, c.Mana, c.MaxMana)
	}
	return nil
}

// Clone returns a deep copy.
func (c *BattleContext) Clone() *BattleContext {
	cp := *c
	cp.TurnOrder = append([]string(nil), c.TurnOrder...)
	cp.Characters = make(map[string]*CharacterState, len(c.Characters))
	for id, ch := range c.Characters {
		cp.Characters[id] = ch.clone()
	}
	cp.ActionStates = make(map[string]*ActionState, len(c.ActionStates))
	for id, st := range c.ActionStates {
		cp.ActionStates[id] = st.clone()
	}
	return &cp
}

// Character returns the state for id, or nil.
func (c *BattleContext) Character(id string) *CharacterState {
	return c.Characters[id]
}

// Living returns the ids of living characters on side, in turn order.
func (c *BattleContext) Living(side Side) []string {
	var out []string
	for _, id := range c.TurnOrder {
		ch := c.Characters[id]
		if ch.Side == side && ch.Alive {
			out = append(out, id)
		}
	}
	return out
}

// Roster returns every character id on side, in turn order.
func (c *BattleContext) Roster(side Side) []string {
	var out []string
	for _, id := range c.TurnOrder {
		if c.Characters[id].Side == side {
			out = append(out, id)
		}
	}
	return out
}

// OccupiedBy returns the id of the living character at h, or "".
func (c *BattleContext) OccupiedBy(h Hex) string {
	for _, id := range c.TurnOrder {
		ch := c.Characters[id]
		if ch.Alive && ch.Position == h {
			return id
		}
	}
	return ""
}

// Upcoming returns who acts next and under which round and turn number.
// While a turn is open the current actor continues. ok is false when nobody
// is left alive.
func (c *BattleContext) Upcoming() (actorID string, round, turn int, ok bool) {
	if c.TurnOpen {
		return c.ActorID, c.Round, c.Turn, true
	}
	start := 0
	if c.ActorID != "" {
		start = c.turnIndex(c.ActorID) + 1
	}
	n := len(c.TurnOrder)
	for i := 0; i < n; i++ {
		j, r := start+i, c.Round
		if j >= n {
			j -= n
			r++
		}
		id := c.TurnOrder[j]
		if c.Characters[id].Alive {
			return id, r, c.Turn + 1, true
		}
	}
	return "", 0, 0, false
}

// TurnView returns the context as the upcoming actor sees it. When no turn is
// open it is a copy with that actor's turn already begun (AP refreshed,
// cooldowns ticked); otherwise it is c itself.
func (c *BattleContext) TurnView() *BattleContext {
	if c.TurnOpen {
		return c
	}
	actor, round, turn, ok := c.Upcoming()
	if !ok {
		return c
	}
	v := c.Clone()
	v.beginTurn(actor, round, turn)
	return v
}

func (c *BattleContext) turnIndex(id string) int {
	for i, o := range c.TurnOrder {
		if o == id {
			return i
		}
	}
	return -1
}
