package battle

import "fmt"

// Adherence modifier values.
const (
	HPCriticalModifier = -50 // HP <= 10%
	HPLowModifier      = -30 // HP <= 25%
	HPWoundedModifier  = -15 // HP <= 50%
	TeamLosingModifier = -10
	TeammateLossScale  = 20
	NeutralPreference  = 50
)

// AdherenceState is the ephemeral battle situation the gate reads.
type AdherenceState struct {
	HP             int  `json:"hp"`
	MaxHP          int  `json:"max_hp"`
	TeamLosing     bool `json:"team_losing"`
	TeammatesTotal int  `json:"teammates_total"`
	TeammatesAlive int  `json:"teammates_alive"`
}

// Modifiers is the breakdown of a threshold.
type Modifiers struct {
	Base         int `json:"base"`
	HP           int `json:"hp"`
	Team         int `json:"team"`
	TeammateLoss int `json:"teammate_loss"`
	Preference   int `json:"preference"`
}

// Total is the unclamped threshold.
func (m Modifiers) Total() int {
	return m.Base + m.HP + m.Team + m.TeammateLoss + m.Preference
}

// AdherenceResult is one pass/fail check.
type AdherenceResult struct {
	Roll      int       `json:"roll"`
	Threshold int       `json:"threshold"`
	Passed    bool      `json:"passed"`
	Modifiers Modifiers `json:"modifiers"`
}

// HPModifier applies only the single matching tier.
func HPModifier(hp, maxHP int) int {
	if maxHP <= 0 {
		return HPCriticalModifier
	}
	// Integer comparisons: hp/max <= 10% is 10*hp <= max.
	switch {
	case hp*10 <= maxHP:
		return HPCriticalModifier
	case hp*4 <= maxHP:
		return HPLowModifier
	case hp*2 <= maxHP:
		return HPWoundedModifier
	}
	return 0
}

// TeammateLossModifier is -floor(((total-alive)/total) * 20), 0 when total is 0.
func TeammateLossModifier(total, alive int) int {
	if total <= 0 {
		return 0
	}
	lost := max(0, total-alive)
	return -(lost * TeammateLossScale / total)
}

// PreferenceModifier is floor((score-50)/2).
func PreferenceModifier(score int) int {
	return floorDiv(score-NeutralPreference, 2)
}

// PreferenceFromRank maps a 1..4 category rank to a preference score.
func PreferenceFromRank(rank int) int {
	switch rank {
	case 4:
		return 70
	case 3:
		return 60
	case 2:
		return 50
	case 1:
		return 30
	}
	return NeutralPreference
}

// BattleThreshold applies the battle modifiers and an optional preference
// modifier to base, clamping the result to [0, 100].
func BattleThreshold(base int, s AdherenceState, preference int) (int, Modifiers) {
	m := Modifiers{
		Base:         base,
		HP:           HPModifier(s.HP, s.MaxHP),
		TeammateLoss: TeammateLossModifier(s.TeammatesTotal, s.TeammatesAlive),
		Preference:   preference,
	}
	if s.TeamLosing {
		m.Team = TeamLosingModifier
	}
	return clampInt(m.Total(), 0, 100), m
}

// PreferenceThreshold is the out-of-battle variant: base plus the preference
// modifier only.
func PreferenceThreshold(base, preferenceScore int) (int, Modifiers) {
	m := Modifiers{Base: base, Preference: PreferenceModifier(preferenceScore)}
	return clampInt(m.Total(), 0, 100), m
}

// Check applies the pass law: passed iff roll <= threshold.
func Check(threshold, roll int, m Modifiers) AdherenceResult {
	return AdherenceResult{Roll: roll, Threshold: threshold, Passed: roll <= threshold, Modifiers: m}
}

// AdherenceStateFor derives the gate input for characterID. Teammates
// exclude the character itself; the team is losing when it has fewer
// living members (self included) than the enemy.
func AdherenceStateFor(ctx *BattleContext, characterID string) (AdherenceState, error) {
	ch := ctx.Characters[characterID]
	if ch == nil {
		return AdherenceState{}, &StateError{Message: fmt.Sprintf("character %s is not in this battle", characterID)}
	}
	s := AdherenceState{HP: ch.Health, MaxHP: ch.MaxHealth}
	myAlive := 0
	for _, id := range ctx.Roster(ch.Side) {
		alive := ctx.Characters[id].Alive
		if alive {
			myAlive++
		}
		if id == characterID {
			continue
		}
		s.TeammatesTotal++
		if alive {
			s.TeammatesAlive++
		}
	}
	s.TeamLosing = myAlive < len(ctx.Living(ch.Side.Opponent()))
	return s, nil
}
