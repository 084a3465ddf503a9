// Package catalog provides the read-only plan catalogue consumed during
// tenant onboarding: plans, their features, purchasable add-ons and
// volume-discount tiers. Catalogue authoring lives elsewhere; onboarding
// only ever reads it.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrPlanNotFound  = errors.New("catalog: plan not found")
	ErrAddonNotFound = errors.New("catalog: addon not found")
)

// BillingCycle selects how a plan is billed.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// ValidCycle returns true if the billing cycle is recognised.
func ValidCycle(c BillingCycle) bool {
	return c == CycleMonthly || c == CycleYearly
}

// AddonScope determines how an add-on's price is applied.
type AddonScope string

const (
	// ScopeBranch prices the add-on per selected branch.
	ScopeBranch AddonScope = "branch"
	// ScopeOrganization prices the add-on once per tenant.
	ScopeOrganization AddonScope = "organization"
)

// Feature is a marketing feature line attached to a plan.
type Feature struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Addon is a purchasable extra attached to a plan.
type Addon struct {
	ID         string     `json:"id"`
	PlanID     string     `json:"planId"`
	Name       string     `json:"name"`
	PriceCents int64      `json:"priceCents"`
	Scope      AddonScope `json:"scope"`
	// IsIncluded marks add-ons bundled free with the plan. Included add-ons
	// cannot be removed during onboarding and always price at zero.
	IsIncluded   bool `json:"isIncluded"`
	DefaultQty   int  `json:"defaultQty,omitempty"`
	MinQty       int  `json:"minQty,omitempty"`
	MaxQty       int  `json:"maxQty,omitempty"` // 0 = unbounded
	DisplayOrder int  `json:"displayOrder"`
}

// VolumeTier is a branch-count range with a percentage discount applied to
// branch-multiplied pricing. MaxBranches == 0 means unbounded above.
type VolumeTier struct {
	Name        string  `json:"name"`
	MinBranches int     `json:"minBranches"`
	MaxBranches int     `json:"maxBranches,omitempty"`
	DiscountPct float64 `json:"discountPct"`
}

// Contains reports whether branchCount falls inside the tier's range.
func (t VolumeTier) Contains(branchCount int) bool {
	if branchCount < t.MinBranches {
		return false
	}
	return t.MaxBranches == 0 || branchCount <= t.MaxBranches
}

// Plan is an immutable catalogue entry.
type Plan struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	MonthlyPriceCents  int64     `json:"monthlyPriceCents"`
	AnnualDiscountPct  float64   `json:"annualDiscountPct"`
	IncludedBranches   int       `json:"includedBranches"`
	AllowBranchOverage bool      `json:"allowBranchOverage"`
	Features           []Feature `json:"features"`
	Addons             []Addon   `json:"addons"`
	// VolumeTiers are kept in display order. Ranges must not overlap; if bad
	// catalogue data violates that, pricing picks the first matching tier in
	// this order rather than guessing.
	VolumeTiers []VolumeTier `json:"volumeTiers"`
	IsFeatured  bool         `json:"isFeatured"`
	IsCustom    bool         `json:"isCustom"`
}

// Addon returns the plan's add-on with the given id.
func (p *Plan) Addon(addonID string) (*Addon, error) {
	for i := range p.Addons {
		if p.Addons[i].ID == addonID {
			return &p.Addons[i], nil
		}
	}
	return nil, ErrAddonNotFound
}

// Store provides read access to the plan catalogue.
type Store interface {
	List(ctx context.Context) ([]*Plan, error)
	Get(ctx context.Context, id string) (*Plan, error)
}
