package battle

import "math"

// Combat constants.
const (
	BaseHitChance      = 95
	MinHitChance       = 5
	MaxHitChance       = 100
	BaseCritChance     = 15.0
	MinCritChance      = 5.0
	CritMultiplier     = 1.5
	VarianceLow        = 0.85
	VarianceSpread     = 0.3
	DefendingReduction = 0.25
	DamagePhysical     = "physical"
	EffectDefending    = "defending"
)

// EvasionBonus is subtracted from an attacker's hit chance: floor(dex/4).
func EvasionBonus(targetDex int) int {
	return floorDiv(targetDex, 4)
}

// HitChance is 95 plus the attack type's modifier minus evasion, clamped
// to [5, 100].
func HitChance(accuracyModifier, targetDex int) int {
	return clampInt(BaseHitChance+accuracyModifier-EvasionBonus(targetDex), MinHitChance, MaxHitChance)
}

// CritChance is 15 - dex/3 with a floor of 5.
func CritChance(targetDex int) float64 {
	return math.Max(MinCritChance, BaseCritChance-float64(targetDex)/3)
}

// DefenseReduction applies a flat 0.3*def cut followed by def/(def+100),
// never going below 1.
func DefenseReduction(damage, defense int) int {
	if defense < 0 {
		defense = 0
	}
	d := float64(defense)
	afterFlat := math.Max(0, float64(damage)-d*0.3)
	afterPct := afterFlat * (1 - d/(d+100))
	return max(1, int(math.Round(afterPct)))
}

// Resist scales damage by the resistance percentage. A resistance of 100 or
// more is immunity.
func Resist(damage, resistance int) (int, bool) {
	if resistance >= 100 {
		return 0, true
	}
	return int(math.Round(math.Max(0, float64(damage)*(1-float64(resistance)/100)))), false
}

// AbsorbShields spends shields in order and returns the damage that got
// through plus the shields left standing.
func AbsorbShields(shields []Shield, damage int) (int, []Shield) {
	remaining := damage
	out := make([]Shield, 0, len(shields))
	for _, s := range shields {
		if remaining <= 0 {
			out = append(out, s)
			continue
		}
		if s.Amount > remaining {
			s.Amount -= remaining
			remaining = 0
			out = append(out, s)
			continue
		}
		remaining -= s.Amount
	}
	return remaining, out
}

// RankMultiplier scales ability effects: rank 1 is 1.0x, rank 3 is 2.0x.
func RankMultiplier(rank int) float64 {
	return 0.5 + 0.5*float64(rank)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
