// Package pricing computes onboarding totals for a plan, its add-ons and
// volume discounts. Everything here is a pure function over integer cents;
// display formatting is the caller's problem.
package pricing

import (
	"errors"
	"math"

	"github.com/avelinos/onboardly/internal/catalog"
	"github.com/avelinos/onboardly/internal/selection"
)

var (
	ErrInvalidBranchCount = errors.New("pricing: branch count must be positive")
	ErrInvalidCycle       = errors.New("pricing: unknown billing cycle")
)

// Breakdown splits a grand total into the parts the payment gateway wants.
type Breakdown struct {
	PlanCents        int64 `json:"planCents"`
	BranchAddonCents int64 `json:"branchAddonCents"`
	OrgAddonCents    int64 `json:"orgAddonCents"`
	TotalCents       int64 `json:"totalCents"`
}

// CyclePrice returns the plan's base price for one billing cycle, per branch.
// Yearly is twelve months less the plan's annual discount.
func CyclePrice(plan *catalog.Plan, cycle catalog.BillingCycle) (int64, error) {
	switch cycle {
	case catalog.CycleMonthly:
		return plan.MonthlyPriceCents, nil
	case catalog.CycleYearly:
		return applyDiscount(plan.MonthlyPriceCents*12, plan.AnnualDiscountPct), nil
	default:
		return 0, ErrInvalidCycle
	}
}

// PlanTotal computes the plan's cost for the cycle across branchCount
// branches, with the matching volume tier applied.
func PlanTotal(plan *catalog.Plan, cycle catalog.BillingCycle, branchCount int) (int64, error) {
	if branchCount <= 0 {
		return 0, ErrInvalidBranchCount
	}
	base, err := CyclePrice(plan, cycle)
	if err != nil {
		return 0, err
	}
	total := base * int64(branchCount)
	if tier := MatchTier(plan.VolumeTiers, branchCount); tier != nil {
		total = applyDiscount(total, tier.DiscountPct)
	}
	return total, nil
}

// MatchTier returns the volume tier whose range contains branchCount, or nil.
// Tiers are assumed non-overlapping; if catalogue data violates that, the
// first match in display order wins.
func MatchTier(tiers []catalog.VolumeTier, branchCount int) *catalog.VolumeTier {
	for i := range tiers {
		if tiers[i].Contains(branchCount) {
			return &tiers[i]
		}
	}
	return nil
}

// AddonTotal computes one configured add-on's cost for the cycle.
// Included add-ons are always free. Branch-scoped add-ons multiply the
// snapshot price by the number of selected branches; organization-scoped
// add-ons charge the snapshot price once.
func AddonTotal(sel *selection.SelectedAddon, cycle catalog.BillingCycle) (int64, error) {
	if !catalog.ValidCycle(cycle) {
		return 0, ErrInvalidCycle
	}
	if sel.IsIncluded {
		return 0, nil
	}

	unit := sel.PriceCents
	if cycle == catalog.CycleYearly {
		unit *= 12
	}

	if sel.Scope == catalog.ScopeOrganization {
		return unit, nil
	}
	return unit * int64(sel.SelectedBranchCount()), nil
}

// GrandTotal sums the plan total and every configured add-on. Summation is
// order-independent: iterating the basket in any order yields the same
// breakdown.
func GrandTotal(plan *catalog.Plan, basket *selection.Basket, cycle catalog.BillingCycle, branchCount int) (Breakdown, error) {
	planTotal, err := PlanTotal(plan, cycle, branchCount)
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{PlanCents: planTotal}
	for _, sel := range basket.Items() {
		amt, err := AddonTotal(sel, cycle)
		if err != nil {
			return Breakdown{}, err
		}
		if sel.Scope == catalog.ScopeBranch {
			b.BranchAddonCents += amt
		} else {
			b.OrgAddonCents += amt
		}
	}
	b.TotalCents = b.PlanCents + b.BranchAddonCents + b.OrgAddonCents
	return b, nil
}

// applyDiscount reduces cents by pct percent, rounding half away from zero.
func applyDiscount(cents int64, pct float64) int64 {
	if pct <= 0 {
		return cents
	}
	return int64(math.Round(float64(cents) * (100 - pct) / 100))
}
