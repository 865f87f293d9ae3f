package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/freeeve/coachwars/pkg/battle"
)

// CatalogueRepo loads attack types and ability definitions.
type CatalogueRepo struct {
	db *sql.DB
}

// NewCatalogueRepo creates a CatalogueRepo.
func NewCatalogueRepo(db *sql.DB) *CatalogueRepo {
	return &CatalogueRepo{db: db}
}

// LoadCatalogue reads both tables in a stable order.
func (r *CatalogueRepo) LoadCatalogue(ctx context.Context) ([]battle.AttackType, []battle.AbilityDef, error) {
	attacks, err := r.attackTypes(ctx)
	if err != nil {
		return nil, nil, err
	}
	abilities, err := r.abilities(ctx)
	if err != nil {
		return nil, nil, err
	}
	return attacks, abilities, nil
}

func (r *CatalogueRepo) attackTypes(ctx context.Context) ([]battle.AttackType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, ap_cost, damage_multiplier, accuracy_modifier, requires_melee
		 FROM attack_types ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list attack types: %w", err)
	}
	defer rows.Close()

	var out []battle.AttackType
	for rows.Next() {
		var a battle.AttackType
		if err := rows.Scan(&a.ID, &a.Name, &a.APCost, &a.DamageMultiplier, &a.AccuracyModifier, &a.RequiresMelee); err != nil {
			return nil, fmt.Errorf("scan attack type: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *CatalogueRepo) abilities(ctx context.Context) ([]battle.AbilityDef, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, name, effects, cooldown, mana_cost, ap_cost_by_rank
		 FROM ability_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list abilities: %w", err)
	}
	defer rows.Close()

	var out []battle.AbilityDef
	for rows.Next() {
		var d battle.AbilityDef
		var kind string
		var effects []byte
		var costs pq.Int64Array
		if err := rows.Scan(&d.ID, &kind, &d.Name, &effects, &d.Cooldown, &d.ManaCost, &costs); err != nil {
			return nil, fmt.Errorf("scan ability: %w", err)
		}
		d.Kind = battle.AbilityKind(kind)
		if err := json.Unmarshal(effects, &d.Effects); err != nil {
			return nil, &battle.DataIntegrityError{Message: fmt.Sprintf("ability %s effects: %v", d.ID, err)}
		}
		for _, c := range costs {
			d.APCostByRank = append(d.APCostByRank, int(c))
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SeedAbility upserts an ability definition. Used by tooling and tests.
func (r *CatalogueRepo) SeedAbility(ctx context.Context, d battle.AbilityDef) error {
	effects, err := json.Marshal(d.Effects)
	if err != nil {
		return fmt.Errorf("marshal effects: %w", err)
	}
	costs := make(pq.Int64Array, 0, len(d.APCostByRank))
	for _, c := range d.APCostByRank {
		costs = append(costs, int64(c))
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO ability_definitions (id, kind, name, effects, cooldown, mana_cost, ap_cost_by_rank)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, name = EXCLUDED.name, effects = EXCLUDED.effects,
		   cooldown = EXCLUDED.cooldown, mana_cost = EXCLUDED.mana_cost, ap_cost_by_rank = EXCLUDED.ap_cost_by_rank`,
		d.ID, string(d.Kind), d.Name, effects, d.Cooldown, d.ManaCost, costs)
	if err != nil {
		return fmt.Errorf("seed ability: %w", err)
	}
	return nil
}
