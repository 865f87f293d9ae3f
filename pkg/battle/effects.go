package battle

// DefaultEffectDuration applies to buffs and debuffs that declare no duration.
const DefaultEffectDuration = 3

// ActionEffect is one resolved effect on one target.
type ActionEffect struct {
	Type        EffectType `json:"type"`
	TargetID    string     `json:"target_id,omitempty"`
	Value       int        `json:"value"`
	Stat        string     `json:"stat,omitempty"`
	Duration    int        `json:"duration,omitempty"`
	Description string     `json:"description"`
}

// StatusApplication is a pending buff or debuff for a target.
type StatusApplication struct {
	TargetID string       `json:"target_id"`
	Effect   StatusEffect `json:"effect"`
}

// EffectSummary is the folded result of a list of effects.
type EffectSummary struct {
	HealthChanges map[string]int      `json:"health_changes"`
	StatusEffects []StatusApplication `json:"status_effects"`
}

// ApplyActionEffects folds effects into net health deltas per target (damage
// negative, heal positive, summed) and the status effects to apply.
// Movement and special effects carry no state change here.
func ApplyActionEffects(effects []ActionEffect) EffectSummary {
	sum := EffectSummary{HealthChanges: map[string]int{}}
	for _, e := range effects {
		if e.TargetID == "" {
			continue
		}
		switch e.Type {
		case EffectDamage:
			sum.HealthChanges[e.TargetID] -= e.Value
		case EffectHeal:
			sum.HealthChanges[e.TargetID] += e.Value
		case EffectBuff, EffectDebuff:
			duration := e.Duration
			if duration <= 0 {
				duration = DefaultEffectDuration
			}
			sum.StatusEffects = append(sum.StatusEffects, StatusApplication{
				TargetID: e.TargetID,
				Effect: StatusEffect{
					Type:     string(e.Type),
					Category: e.Type,
					Stat:     e.Stat,
					Value:    e.Value,
					Duration: duration,
					Source:   e.Description,
				},
			})
		}
	}
	return sum
}
