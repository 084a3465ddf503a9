package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore reads the plan catalogue from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalogue store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) List(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, monthly_price_cents, annual_discount_pct, included_branches,
			allow_branch_overage, is_featured, is_custom, features, volume_tiers
		FROM plans ORDER BY display_order, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var plans []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, plan := range plans {
		if err := p.loadAddons(ctx, plan); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Plan, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, monthly_price_cents, annual_discount_pct, included_branches,
			allow_branch_overage, is_featured, is_custom, features, volume_tiers
		FROM plans WHERE id = $1`, id)

	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadAddons(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *PostgresStore) loadAddons(ctx context.Context, plan *Plan) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, price_cents, scope, is_included, default_qty, min_qty, max_qty, display_order
		FROM plan_addons WHERE plan_id = $1 ORDER BY display_order, id`, plan.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		a := Addon{PlanID: plan.ID}
		var scope string
		if err := rows.Scan(&a.ID, &a.Name, &a.PriceCents, &scope, &a.IsIncluded,
			&a.DefaultQty, &a.MinQty, &a.MaxQty, &a.DisplayOrder); err != nil {
			return err
		}
		a.Scope = AddonScope(scope)
		plan.Addons = append(plan.Addons, a)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	plan := &Plan{}
	var featuresJSON, tiersJSON []byte
	err := row.Scan(&plan.ID, &plan.Name, &plan.MonthlyPriceCents, &plan.AnnualDiscountPct,
		&plan.IncludedBranches, &plan.AllowBranchOverage, &plan.IsFeatured, &plan.IsCustom,
		&featuresJSON, &tiersJSON)
	if err != nil {
		return nil, err
	}
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &plan.Features); err != nil {
			return nil, err
		}
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &plan.VolumeTiers); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

var _ Store = (*PostgresStore)(nil)
