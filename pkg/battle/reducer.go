package battle

import "fmt"

// LogEntry is the engine's view of one persisted action.
type LogEntry struct {
	Sequence    int        `json:"sequence_num"`
	Round       int        `json:"round"`
	Turn        int        `json:"turn"`
	ActorID     string     `json:"actor_id"`
	ActionType  ActionType `json:"action_type"`
	Payload     CoachOrder `json:"payload"`
	Outcome     Outcome    `json:"outcome"`
	IsRebellion bool       `json:"is_rebellion"`
}

// Replay folds entries over the snapshot. Any malformed or out-of-order
// entry is a *DataIntegrityError; nothing is skipped.
func Replay(snap Snapshot, entries []LogEntry) (*BattleContext, error) {
	ctx, err := NewContext(snap)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := ctx.Apply(e); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// Apply folds one entry into the context. All checks run before any
// mutation, so a rejected entry leaves the context untouched.
func (c *BattleContext) Apply(e LogEntry) error {
	fail := func(format string, args ...any) error {
		return &DataIntegrityError{BattleID: c.BattleID, Sequence: e.Sequence, Message: fmt.Sprintf(format, args...)}
	}

	if e.Sequence != c.Sequence+1 {
		return fail("expected sequence %d", c.Sequence+1)
	}
	actorID, round, turn, ok := c.Upcoming()
	if !ok {
		return fail("no living character can act")
	}
	if e.ActorID != actorID {
		return fail("actor %s acted out of turn, expected %s", e.ActorID, actorID)
	}
	if e.Round != round || e.Turn != turn {
		return fail("round/turn %d/%d, expected %d/%d", e.Round, e.Turn, round, turn)
	}
	if e.ActionType != e.Outcome.Type {
		return fail("action type %q does not match outcome %q", e.ActionType, e.Outcome.Type)
	}
	a, err := e.Payload.Action()
	if err != nil {
		return fail("payload: %v", err)
	}
	if a.Type() != e.ActionType {
		return fail("payload type %q does not match %q", a.Type(), e.ActionType)
	}

	st := c.ActionStates[actorID]
	if st == nil {
		return fail("no action state for %s", actorID)
	}
	apBefore := st.APRemaining
	if !c.TurnOpen {
		apBefore = st.APMax
	}
	if e.Outcome.APCost < 0 || e.Outcome.ActorAP < 0 || apBefore-e.Outcome.APCost != e.Outcome.ActorAP {
		return fail("AP %d - %d does not give %d", apBefore, e.Outcome.APCost, e.Outcome.ActorAP)
	}
	for _, ch := range e.Outcome.Changes {
		cs := c.Characters[ch.CharacterID]
		if cs == nil {
			return fail("change for unknown character %s", ch.CharacterID)
		}
		if ch.Health != nil && (*ch.Health < 0 || *ch.Health > cs.MaxHealth) {
			return fail("health %d for %s outside 0..%d", *ch.Health, cs.ID, cs.MaxHealth)
		}
		if ch.Mana != nil && (*ch.Mana < 0 || *ch.Mana > cs.MaxMana) {
			return fail("mana %d for %s outside 0..%d", *ch.Mana, cs.ID, cs.MaxMana)
		}
		if ch.Position != nil && !InBounds(*ch.Position) {
			return fail("position %s for %s outside the arena", *ch.Position, cs.ID)
		}
	}
	if cd := e.Outcome.Cooldown; cd != nil && (cd.AbilityID == "" || cd.Turns < 0) {
		return fail("malformed cooldown")
	}

	if !c.TurnOpen {
		c.beginTurn(actorID, round, turn)
	}
	st.APRemaining = e.Outcome.ActorAP
	for _, ch := range e.Outcome.Changes {
		cs := c.Characters[ch.CharacterID]
		if ch.Health != nil {
			cs.Health = *ch.Health
			cs.Alive = cs.Health > 0
		}
		if ch.Mana != nil {
			cs.Mana = *ch.Mana
		}
		if ch.Position != nil {
			cs.Position = *ch.Position
		}
		cs.Effects = append(cs.Effects, ch.AddEffects...)
		if ch.ShieldsChanged {
			cs.Shields = append([]Shield{}, ch.Shields...)
		}
	}
	if cd := e.Outcome.Cooldown; cd != nil && cd.Turns > 0 {
		st.Cooldowns[cd.AbilityID] = cd.Turns
	}
	if e.ActionType == ActionDefend {
		st.CanDefend = false
	}

	c.Sequence = e.Sequence
	actor := c.Characters[actorID]
	c.TurnOpen = e.ActionType != ActionEndTurn && st.APRemaining > 0 && actor.Alive
	return nil
}

// beginTurn opens a new turn for actorID: AP and flags reset, cooldowns and
// the actor's own status effects tick down.
func (c *BattleContext) beginTurn(actorID string, round, turn int) {
	c.ActorID = actorID
	c.Round = round
	c.Turn = turn
	c.TurnOpen = true
	c.ActionStates[actorID].refresh()

	actor := c.Characters[actorID]
	kept := actor.Effects[:0]
	for _, eff := range actor.Effects {
		eff.Duration--
		if eff.Duration > 0 {
			kept = append(kept, eff)
		}
	}
	actor.Effects = kept
}

// End reasons.
const (
	EndKnockout   = "knockout"
	EndRoundLimit = "round_limit"
)

// EndState says whether the battle is over and who won. An empty Winner
// with Ended set is a draw.
type EndState struct {
	Ended  bool   `json:"ended"`
	Winner Side   `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CheckEnd evaluates the end conditions: one side fully knocked out, or the
// round limit reached once the current turn has closed.
func (c *BattleContext) CheckEnd() EndState {
	userAlive := len(c.Living(SideUser))
	oppAlive := len(c.Living(SideOpponent))
	switch {
	case userAlive == 0 && oppAlive == 0:
		return EndState{Ended: true, Reason: EndKnockout}
	case userAlive == 0:
		return EndState{Ended: true, Winner: SideOpponent, Reason: EndKnockout}
	case oppAlive == 0:
		return EndState{Ended: true, Winner: SideUser, Reason: EndKnockout}
	}
	if c.MaxRounds <= 0 || c.TurnOpen {
		return EndState{}
	}
	if _, next, _, ok := c.Upcoming(); ok && next <= c.MaxRounds {
		return EndState{}
	}
	return EndState{Ended: true, Winner: c.roundLimitWinner(userAlive, oppAlive), Reason: EndRoundLimit}
}

func (c *BattleContext) roundLimitWinner(userAlive, oppAlive int) Side {
	if userAlive != oppAlive {
		if userAlive > oppAlive {
			return SideUser
		}
		return SideOpponent
	}
	u, o := c.healthFraction(SideUser), c.healthFraction(SideOpponent)
	switch {
	case u > o:
		return SideUser
	case o > u:
		return SideOpponent
	}
	return ""
}

// healthFraction compares sides without floats: total health over total max,
// returned scaled by 1e6.
func (c *BattleContext) healthFraction(side Side) int64 {
	var hp, maxHP int64
	for _, id := range c.Roster(side) {
		ch := c.Characters[id]
		hp += int64(ch.Health)
		maxHP += int64(ch.MaxHealth)
	}
	if maxHP == 0 {
		return 0
	}
	return hp * 1_000_000 / maxHP
}
