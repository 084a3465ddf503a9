package catalog

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory plan catalogue for demo/development.
type MemoryStore struct {
	mu    sync.RWMutex
	plans []*Plan
	byID  map[string]*Plan
}

// NewMemoryStore creates an empty in-memory catalogue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Plan)}
}

// NewSeededStore creates an in-memory catalogue pre-loaded with a demo
// plan set, used when no database is configured.
func NewSeededStore() *MemoryStore {
	s := NewMemoryStore()
	for _, p := range demoPlans() {
		s.Put(p)
	}
	return s
}

// Put inserts or replaces a plan. Intended for seeding and tests.
func (m *MemoryStore) Put(p *Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[p.ID]; !exists {
		m.plans = append(m.plans, p)
	} else {
		for i, existing := range m.plans {
			if existing.ID == p.ID {
				m.plans[i] = p
				break
			}
		}
	}
	m.byID[p.ID] = p
}

func (m *MemoryStore) List(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Plan, len(m.plans))
	copy(out, m.plans)
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

func demoPlans() []*Plan {
	return []*Plan{
		{
			ID:                 "plan_starter",
			Name:               "Starter",
			MonthlyPriceCents:  4900,
			AnnualDiscountPct:  10,
			IncludedBranches:   3,
			AllowBranchOverage: true,
			Features: []Feature{
				{ID: "feat_booking", Name: "Online booking"},
				{ID: "feat_reports", Name: "Basic reporting"},
			},
			Addons: []Addon{
				{ID: "add_sms", PlanID: "plan_starter", Name: "SMS reminders", PriceCents: 1500, Scope: ScopeBranch, DisplayOrder: 1},
				{ID: "add_support", PlanID: "plan_starter", Name: "Priority support", PriceCents: 2500, Scope: ScopeOrganization, DisplayOrder: 2},
			},
		},
		{
			ID:                 "plan_growth",
			Name:               "Growth",
			MonthlyPriceCents:  9900,
			AnnualDiscountPct:  15,
			IncludedBranches:   10,
			AllowBranchOverage: true,
			IsFeatured:         true,
			Features: []Feature{
				{ID: "feat_booking", Name: "Online booking"},
				{ID: "feat_reports_adv", Name: "Advanced reporting"},
				{ID: "feat_api", Name: "API access"},
			},
			Addons: []Addon{
				{ID: "add_sms", PlanID: "plan_growth", Name: "SMS reminders", PriceCents: 1200, Scope: ScopeBranch, DisplayOrder: 1},
				{ID: "add_inventory", PlanID: "plan_growth", Name: "Inventory management", PriceCents: 2000, Scope: ScopeBranch, DisplayOrder: 2},
				{ID: "add_support", PlanID: "plan_growth", Name: "Priority support", PriceCents: 0, Scope: ScopeOrganization, IsIncluded: true, DisplayOrder: 3},
			},
			VolumeTiers: []VolumeTier{
				{Name: "10+ branches", MinBranches: 10, DiscountPct: 10},
			},
		},
		{
			ID:                 "plan_enterprise",
			Name:               "Enterprise",
			MonthlyPriceCents:  24900,
			AnnualDiscountPct:  20,
			IncludedBranches:   50,
			AllowBranchOverage: false,
			IsCustom:           true,
			Features: []Feature{
				{ID: "feat_everything", Name: "Everything in Growth"},
				{ID: "feat_sso", Name: "SSO / SAML"},
				{ID: "feat_sla", Name: "99.9% uptime SLA"},
			},
			Addons: []Addon{
				{ID: "add_sms", PlanID: "plan_enterprise", Name: "SMS reminders", PriceCents: 0, Scope: ScopeBranch, IsIncluded: true, DisplayOrder: 1},
				{ID: "add_audit", PlanID: "plan_enterprise", Name: "Audit log export", PriceCents: 5000, Scope: ScopeOrganization, DisplayOrder: 2},
			},
			VolumeTiers: []VolumeTier{
				{Name: "10-24 branches", MinBranches: 10, MaxBranches: 24, DiscountPct: 10},
				{Name: "25+ branches", MinBranches: 25, DiscountPct: 20},
			},
		},
	}
}

var _ Store = (*MemoryStore)(nil)
