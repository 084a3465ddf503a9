// Package wizard drives the ordered onboarding steps. The controller is
// deliberately thin: it owns the current step and the verification flags,
// and gates advancement on facts supplied by the session.
package wizard

import (
	"errors"
	"sync"

	"github.com/avelinos/onboardly/internal/catalog"
	"github.com/avelinos/onboardly/internal/selection"
)

var (
	ErrAtFirstStep           = errors.New("wizard: already at the first step")
	ErrAtLastStep            = errors.New("wizard: already at the last step")
	ErrCompanyIncomplete     = errors.New("wizard: company details incomplete")
	ErrNotVerified           = errors.New("wizard: email and phone must both be verified")
	ErrNoPlanSelected        = errors.New("wizard: no plan selected")
	ErrBranchCount           = errors.New("wizard: branch count must be a positive integer")
	ErrBranchOverage         = errors.New("wizard: branch count exceeds plan limit")
	ErrInvalidAddonSelection = errors.New("wizard: branch-scoped addon has no branch selected")
)

// Step identifies one onboarding step.
type Step string

const (
	StepCompanyDetails Step = "company_details"
	StepVerification   Step = "verification"
	StepPlanSelection  Step = "plan_selection"
	StepPlanSummary    Step = "plan_summary"
)

var stepOrder = []Step{StepCompanyDetails, StepVerification, StepPlanSelection, StepPlanSummary}

// Gate carries the session facts a step transition is checked against.
type Gate struct {
	CompanyComplete bool
	Plan            *catalog.Plan
	BranchCount     int
	Basket          *selection.Basket
}

// Controller is the per-session step state machine. Transitions are
// forward-only except for the explicit Back action.
type Controller struct {
	mu            sync.Mutex
	idx           int
	emailVerified bool
	phoneVerified bool
}

// New creates a controller positioned at the first step.
func New() *Controller {
	return &Controller{}
}

// Current returns the current step.
func (c *Controller) Current() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stepOrder[c.idx]
}

// SetEmailVerified records that the email one-time code exchange completed.
func (c *Controller) SetEmailVerified() {
	c.mu.Lock()
	c.emailVerified = true
	c.mu.Unlock()
}

// SetPhoneVerified records that the phone one-time code exchange completed.
func (c *Controller) SetPhoneVerified() {
	c.mu.Lock()
	c.phoneVerified = true
	c.mu.Unlock()
}

// Verified reports the two channel flags. Both must be true to leave the
// verification step; the channels are verified independently so this is a
// conjunctive gate, not one boolean.
func (c *Controller) Verified() (email, phone bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emailVerified, c.phoneVerified
}

// Advance moves to the next step if the current step's gate passes.
func (c *Controller) Advance(g Gate) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx == len(stepOrder)-1 {
		return stepOrder[c.idx], ErrAtLastStep
	}
	if err := c.gateLocked(stepOrder[c.idx], g); err != nil {
		return stepOrder[c.idx], err
	}
	c.idx++
	return stepOrder[c.idx], nil
}

// Back moves one step backwards.
func (c *Controller) Back() (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx == 0 {
		return stepOrder[c.idx], ErrAtFirstStep
	}
	c.idx--
	return stepOrder[c.idx], nil
}

func (c *Controller) gateLocked(step Step, g Gate) error {
	switch step {
	case StepCompanyDetails:
		if !g.CompanyComplete {
			return ErrCompanyIncomplete
		}
	case StepVerification:
		if !c.emailVerified || !c.phoneVerified {
			return ErrNotVerified
		}
	case StepPlanSelection:
		if g.Plan == nil {
			return ErrNoPlanSelected
		}
		if g.BranchCount <= 0 {
			return ErrBranchCount
		}
		// Extra branches are a pricing input unless the plan forbids overage.
		if !g.Plan.AllowBranchOverage && g.BranchCount > g.Plan.IncludedBranches {
			return ErrBranchOverage
		}
		if g.Basket != nil {
			for _, sel := range g.Basket.Items() {
				if sel.Scope == catalog.ScopeBranch && sel.SelectedBranchCount() == 0 {
					return ErrInvalidAddonSelection
				}
			}
		}
	}
	return nil
}
