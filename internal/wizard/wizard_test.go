package wizard

import (
	"errors"
	"testing"

	"github.com/avelinos/onboardly/internal/catalog"
	"github.com/avelinos/onboardly/internal/selection"
)

func passingGate() Gate {
	return Gate{
		CompanyComplete: true,
		Plan: &catalog.Plan{
			ID:                 "plan_test",
			IncludedBranches:   10,
			AllowBranchOverage: true,
		},
		BranchCount: 3,
	}
}

func TestAdvance_FullFlow(t *testing.T) {
	c := New()
	c.SetEmailVerified()
	c.SetPhoneVerified()

	if c.Current() != StepCompanyDetails {
		t.Fatalf("start step = %s", c.Current())
	}

	want := []Step{StepVerification, StepPlanSelection, StepPlanSummary}
	for _, w := range want {
		step, err := c.Advance(passingGate())
		if err != nil {
			t.Fatalf("advance to %s: %v", w, err)
		}
		if step != w {
			t.Fatalf("advanced to %s, want %s", step, w)
		}
	}

	if _, err := c.Advance(passingGate()); !errors.Is(err, ErrAtLastStep) {
		t.Errorf("expected ErrAtLastStep, got %v", err)
	}
}

func TestAdvance_CompanyIncomplete(t *testing.T) {
	c := New()
	g := passingGate()
	g.CompanyComplete = false

	step, err := c.Advance(g)
	if !errors.Is(err, ErrCompanyIncomplete) {
		t.Errorf("expected ErrCompanyIncomplete, got %v", err)
	}
	if step != StepCompanyDetails {
		t.Errorf("step moved to %s on failed gate", step)
	}
}

func TestAdvance_VerificationNeedsBothChannels(t *testing.T) {
	c := New()
	if _, err := c.Advance(passingGate()); err != nil {
		t.Fatalf("advance to verification: %v", err)
	}

	// Neither verified.
	if _, err := c.Advance(passingGate()); !errors.Is(err, ErrNotVerified) {
		t.Errorf("expected ErrNotVerified with no channels, got %v", err)
	}

	// Email only.
	c.SetEmailVerified()
	if _, err := c.Advance(passingGate()); !errors.Is(err, ErrNotVerified) {
		t.Errorf("expected ErrNotVerified with email only, got %v", err)
	}

	// Both.
	c.SetPhoneVerified()
	step, err := c.Advance(passingGate())
	if err != nil {
		t.Fatalf("advance with both verified: %v", err)
	}
	if step != StepPlanSelection {
		t.Errorf("step = %s, want plan_selection", step)
	}
}

func atPlanSelection(t *testing.T) *Controller {
	t.Helper()
	c := New()
	c.SetEmailVerified()
	c.SetPhoneVerified()
	for i := 0; i < 2; i++ {
		if _, err := c.Advance(passingGate()); err != nil {
			t.Fatalf("setup advance: %v", err)
		}
	}
	return c
}

func TestAdvance_PlanSelectionGates(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Gate)
		want   error
	}{
		{"no plan", func(g *Gate) { g.Plan = nil }, ErrNoPlanSelected},
		{"zero branches", func(g *Gate) { g.BranchCount = 0 }, ErrBranchCount},
		{"negative branches", func(g *Gate) { g.BranchCount = -1 }, ErrBranchCount},
		{"overage forbidden", func(g *Gate) {
			g.Plan.AllowBranchOverage = false
			g.BranchCount = 11
		}, ErrBranchOverage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := atPlanSelection(t)
			g := passingGate()
			tc.mutate(&g)
			if _, err := c.Advance(g); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAdvance_OverageAllowedIsPricingInput(t *testing.T) {
	c := atPlanSelection(t)
	g := passingGate()
	g.BranchCount = 25 // above IncludedBranches, plan allows it

	step, err := c.Advance(g)
	if err != nil {
		t.Fatalf("advance with allowed overage: %v", err)
	}
	if step != StepPlanSummary {
		t.Errorf("step = %s, want plan_summary", step)
	}
}

func TestAdvance_BranchAddonWithNoBranchesBlocks(t *testing.T) {
	c := atPlanSelection(t)
	g := passingGate()

	basket := selection.NewBasket()
	sel, err := basket.Configure(&catalog.Addon{
		ID: "add_sms", Name: "SMS", PriceCents: 1500, Scope: catalog.ScopeBranch,
	}, []selection.BranchChoice{{BranchIndex: 0, Selected: true}})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	// Deselect behind the basket's back to simulate a stale selection.
	sel.Branches[0].Selected = false
	g.Basket = basket

	if _, err := c.Advance(g); !errors.Is(err, ErrInvalidAddonSelection) {
		t.Errorf("expected ErrInvalidAddonSelection, got %v", err)
	}
}

func TestBack(t *testing.T) {
	c := New()
	if _, err := c.Back(); !errors.Is(err, ErrAtFirstStep) {
		t.Errorf("expected ErrAtFirstStep, got %v", err)
	}

	if _, err := c.Advance(passingGate()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	step, err := c.Back()
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if step != StepCompanyDetails {
		t.Errorf("step = %s, want company_details", step)
	}
}
