package battle

import "fmt"

// ActionType names the action variants.
type ActionType string

const (
	ActionMove    ActionType = "move"
	ActionAttack  ActionType = "attack"
	ActionPower   ActionType = "power"
	ActionSpell   ActionType = "spell"
	ActionDefend  ActionType = "defend"
	ActionEndTurn ActionType = "end_turn"
)

// Action is one of Move, Attack, Power, Spell, Defend or EndTurn.
type Action interface {
	Type() ActionType
	isAction()
}

// Move walks the actor to a hex.
type Move struct {
	To Hex
}

// Attack uses a catalogue attack type on a target.
type Attack struct {
	AttackTypeID string
	TargetID     string
}

// Power uses an equipped power. An empty TargetID targets the actor.
type Power struct {
	AbilityID string
	TargetID  string
}

// Spell casts an equipped spell. An empty TargetID targets the actor.
type Spell struct {
	AbilityID string
	TargetID  string
}

// Defend takes a defensive stance until the actor's next turn.
type Defend struct{}

// EndTurn passes the remaining AP.
type EndTurn struct{}

func (Move) Type() ActionType    { return ActionMove }
func (Attack) Type() ActionType  { return ActionAttack }
func (Power) Type() ActionType   { return ActionPower }
func (Spell) Type() ActionType   { return ActionSpell }
func (Defend) Type() ActionType  { return ActionDefend }
func (EndTurn) Type() ActionType { return ActionEndTurn }

func (Move) isAction()    {}
func (Attack) isAction()  {}
func (Power) isAction()   {}
func (Spell) isAction()   {}
func (Defend) isAction()  {}
func (EndTurn) isAction() {}

// CoachOrder is the wire form of an action: what a coach asks for and what
// the log stores as the entry payload.
type CoachOrder struct {
	ActionType   ActionType `json:"action_type"`
	TargetID     string     `json:"target_id,omitempty"`
	AttackTypeID string     `json:"attack_type_id,omitempty"`
	AbilityID    string     `json:"ability_id,omitempty"`
	TargetHex    *Hex       `json:"target_hex,omitempty"`
}

// Action converts the order into its typed variant, checking that each
// variant carries the fields it needs.
func (o CoachOrder) Action() (Action, error) {
	switch o.ActionType {
	case ActionMove:
		if o.TargetHex == nil {
			return nil, &ValidationError{Field: "target_hex", Message: "required for move"}
		}
		if !o.TargetHex.Valid() {
			return nil, &ValidationError{Field: "target_hex", Message: fmt.Sprintf("%v is not a cube coordinate", *o.TargetHex)}
		}
		return Move{To: *o.TargetHex}, nil
	case ActionAttack:
		if o.AttackTypeID == "" {
			return nil, &ValidationError{Field: "attack_type_id", Message: "required for attack"}
		}
		if o.TargetID == "" {
			return nil, &ValidationError{Field: "target_id", Message: "required for attack"}
		}
		return Attack{AttackTypeID: o.AttackTypeID, TargetID: o.TargetID}, nil
	case ActionPower:
		if o.AbilityID == "" {
			return nil, &ValidationError{Field: "ability_id", Message: "required for power"}
		}
		return Power{AbilityID: o.AbilityID, TargetID: o.TargetID}, nil
	case ActionSpell:
		if o.AbilityID == "" {
			return nil, &ValidationError{Field: "ability_id", Message: "required for spell"}
		}
		return Spell{AbilityID: o.AbilityID, TargetID: o.TargetID}, nil
	case ActionDefend:
		return Defend{}, nil
	case ActionEndTurn:
		return EndTurn{}, nil
	case "":
		return nil, &ValidationError{Field: "action_type", Message: "required"}
	default:
		return nil, &ValidationError{Field: "action_type", Message: fmt.Sprintf("unknown %q", o.ActionType)}
	}
}

// OrderFor is the inverse of CoachOrder.Action.
func OrderFor(a Action) CoachOrder {
	switch v := a.(type) {
	case Move:
		to := v.To
		return CoachOrder{ActionType: ActionMove, TargetHex: &to}
	case Attack:
		return CoachOrder{ActionType: ActionAttack, AttackTypeID: v.AttackTypeID, TargetID: v.TargetID}
	case Power:
		return CoachOrder{ActionType: ActionPower, AbilityID: v.AbilityID, TargetID: v.TargetID}
	case Spell:
		return CoachOrder{ActionType: ActionSpell, AbilityID: v.AbilityID, TargetID: v.TargetID}
	case Defend:
		return CoachOrder{ActionType: ActionDefend}
	default:
		return CoachOrder{ActionType: ActionEndTurn}
	}
}

// Describe renders the order for logs and prompts.
func (o CoachOrder) Describe() string {
	switch o.ActionType {
	case ActionMove:
		if o.TargetHex != nil {
			return "move to " + o.TargetHex.String()
		}
	case ActionAttack:
		return fmt.Sprintf("%s attack on %s", o.AttackTypeID, o.TargetID)
	case ActionPower, ActionSpell:
		if o.TargetID != "" {
			return fmt.Sprintf("%s %s on %s", o.ActionType, o.AbilityID, o.TargetID)
		}
		return fmt.Sprintf("%s %s", o.ActionType, o.AbilityID)
	}
	return string(o.ActionType)
}
