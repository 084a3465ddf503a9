// Package onboarding ties the wizard, add-on basket, pricing engine and
// payment orchestrator together into one session per signing-up tenant.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avelinos/onboardly/internal/catalog"
	"github.com/avelinos/onboardly/internal/idgen"
	"github.com/avelinos/onboardly/internal/logging"
	"github.com/avelinos/onboardly/internal/metrics"
	"github.com/avelinos/onboardly/internal/payment"
	"github.com/avelinos/onboardly/internal/pricing"
	"github.com/avelinos/onboardly/internal/selection"
	"github.com/avelinos/onboardly/internal/tenant"
	"github.com/avelinos/onboardly/internal/validation"
	"github.com/avelinos/onboardly/internal/verification"
	"github.com/avelinos/onboardly/internal/webhooks"
	"github.com/avelinos/onboardly/internal/wizard"
)

var (
	ErrSessionNotFound = errors.New("onboarding: session not found")
	ErrNoPlanSelected  = errors.New("onboarding: no plan selected")
	ErrWrongStep       = errors.New("onboarding: operation not allowed at current step")
	ErrBranchIndex     = errors.New("onboarding: branch index out of range")
)

// CompanyDetails is what the first wizard step collects.
type CompanyDetails struct {
	OrganizationName string   `json:"organizationName"`
	Slug             string   `json:"slug"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone"`
	BranchNames      []string `json:"branchNames,omitempty"`
}

// Session is one tenant's onboarding in progress.
type Session struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenantId"`
	Company  CompanyDetails `json:"company"`

	Wizard *wizard.Controller    `json:"-"`
	Basket *selection.Basket     `json:"-"`
	Pay    *payment.Orchestrator `json:"-"`

	mu             sync.Mutex
	planID         string
	billingCycle   catalog.BillingCycle
	branchCount    int
	pricingVersion uint64

	CreatedAt time.Time `json:"createdAt"`
}

// Version covers every input the payment amount is priced from: the add-on
// basket plus the plan, billing cycle and branch count. The orchestrator
// snapshots it at initiate; any later change invalidates the intent.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	v := s.pricingVersion
	s.mu.Unlock()
	return v + s.Basket.Version()
}

// SessionStore keeps in-flight sessions. Sessions are transient — the
// durable record is the tenant row — so only a memory store exists.
type SessionStore interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// Service orchestrates onboarding sessions.
type Service struct {
	sessions SessionStore
	catalog  catalog.Store
	tenants  tenant.Store
	verifier *verification.Service
	gateway  payment.Gateway
	activate *tenant.Activator
	events   *webhooks.Emitter
}

// NewService creates the onboarding service.
func NewService(sessions SessionStore, cat catalog.Store, tenants tenant.Store,
	verifier *verification.Service, gateway payment.Gateway, activate *tenant.Activator) *Service {
	return &Service{
		sessions: sessions,
		catalog:  cat,
		tenants:  tenants,
		verifier: verifier,
		gateway:  gateway,
		activate: activate,
	}
}

// WithEmitter adds a webhook emitter for lifecycle events.
func (s *Service) WithEmitter(e *webhooks.Emitter) *Service {
	s.events = e
	return s
}

// Start validates company details, creates the pending tenant and opens a
// session positioned at the verification step.
func (s *Service) Start(ctx context.Context, details CompanyDetails) (*Session, error) {
	details.OrganizationName = validation.SanitizeString(details.OrganizationName, 200)
	details.Slug = strings.ToLower(strings.TrimSpace(details.Slug))

	if errs := validation.Validate(
		validation.Required("organizationName", details.OrganizationName),
		validation.Required("slug", details.Slug),
		validation.Required("email", details.Email),
		validation.Required("phone", details.Phone),
		validation.ValidEmail("email", details.Email),
		validation.ValidPhone("phone", details.Phone),
	); len(errs) > 0 {
		return nil, errs
	}

	now := time.Now()
	t := &tenant.Tenant{
		ID:               idgen.WithPrefix("ten_"),
		OrganizationName: details.OrganizationName,
		Slug:             details.Slug,
		Status:           tenant.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.tenants.Create(ctx, t); err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        idgen.WithPrefix("onb_"),
		TenantID:  t.ID,
		Company:   details,
		Wizard:    wizard.New(),
		Basket:    selection.NewBasket(),
		CreatedAt: now,
	}
	sess.Pay = payment.NewOrchestrator(s.gateway, s.activate, sess, t.ID)

	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}

	metrics.OnboardingSessionsTotal.Inc()
	logging.L(ctx).Info("onboarding session started",
		"session_id", sess.ID, "tenant_id", t.ID, "organization", details.OrganizationName)
	if s.events != nil {
		s.events.EmitOnboardingStarted(sess.ID, details.OrganizationName)
	}
	return sess, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.sessions.Get(ctx, id)
}

// RequestCode issues a one-time code for the session's email or phone.
func (s *Service) RequestCode(ctx context.Context, sessionID string, channel verification.Channel) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	dest, err := destinationFor(sess, channel)
	if err != nil {
		return err
	}
	return s.verifier.Request(ctx, channel, dest)
}

// VerifyCode checks a submitted one-time code and, on success, flips the
// matching wizard verification flag.
func (s *Service) VerifyCode(ctx context.Context, sessionID string, channel verification.Channel, code string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	dest, err := destinationFor(sess, channel)
	if err != nil {
		return err
	}
	if err := s.verifier.Verify(ctx, channel, dest, code); err != nil {
		return err
	}
	if channel == verification.ChannelEmail {
		sess.Wizard.SetEmailVerified()
	} else {
		sess.Wizard.SetPhoneVerified()
	}
	return nil
}

func destinationFor(sess *Session, channel verification.Channel) (string, error) {
	switch channel {
	case verification.ChannelEmail:
		return sess.Company.Email, nil
	case verification.ChannelPhone:
		return sess.Company.Phone, nil
	default:
		return "", verification.ErrInvalidChannel
	}
}

// SelectPlan records the plan, billing cycle and branch count for the
// session. Allowed while the wizard is at or before plan selection.
func (s *Service) SelectPlan(ctx context.Context, sessionID, planID string, cycle catalog.BillingCycle, branchCount int) (*catalog.Plan, error) {
	if !catalog.ValidCycle(cycle) {
		return nil, pricing.ErrInvalidCycle
	}
	if branchCount <= 0 {
		return nil, wizard.ErrBranchCount
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.catalog.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.AllowBranchOverage && branchCount > plan.IncludedBranches {
		return nil, wizard.ErrBranchOverage
	}

	sess.mu.Lock()
	sess.planID = plan.ID
	sess.billingCycle = cycle
	sess.branchCount = branchCount
	sess.pricingVersion++
	sess.mu.Unlock()

	// Included add-ons are part of the plan: configure them up front so the
	// summary lists them.
	for i := range plan.Addons {
		a := &plan.Addons[i]
		if !a.IsIncluded {
			continue
		}
		choices := allBranches(sess, branchCount)
		if _, err := sess.Basket.Configure(a, choices); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// ConfigureAddon attaches or reconfigures an add-on. For branch-scoped
// add-ons, selectedBranches lists the branch indexes switched on.
func (s *Service) ConfigureAddon(ctx context.Context, sessionID, addonID string, selectedBranches []int) (*selection.SelectedAddon, error) {
	sess, plan, err := s.sessionPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	addon, err := plan.Addon(addonID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	branchCount := sess.branchCount
	sess.mu.Unlock()

	var choices []selection.BranchChoice
	if addon.Scope == catalog.ScopeBranch {
		choices = allBranches(sess, branchCount)
		for i := range choices {
			choices[i].Selected = false
		}
		for _, idx := range selectedBranches {
			if idx < 0 || idx >= len(choices) {
				return nil, ErrBranchIndex
			}
			choices[idx].Selected = true
		}
	}
	return sess.Basket.Configure(addon, choices)
}

// sessionPlan loads a session plus its selected plan.
func (s *Service) sessionPlan(ctx context.Context, sessionID string) (*Session, *catalog.Plan, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	sess.mu.Lock()
	planID := sess.planID
	sess.mu.Unlock()
	if planID == "" {
		return nil, nil, ErrNoPlanSelected
	}
	plan, err := s.catalog.Get(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	return sess, plan, nil
}

// allBranches builds a full branch choice list, all selected, using the
// company's branch names where configured.
func allBranches(sess *Session, branchCount int) []selection.BranchChoice {
	choices := make([]selection.BranchChoice, branchCount)
	for i := range choices {
		name := fmt.Sprintf("Branch %d", i+1)
		if i < len(sess.Company.BranchNames) {
			name = sess.Company.BranchNames[i]
		}
		choices[i] = selection.BranchChoice{BranchIndex: i, BranchName: name, Selected: true}
	}
	return choices
}

// Summary prices the current selection.
type Summary struct {
	Plan         *catalog.Plan              `json:"plan"`
	BillingCycle catalog.BillingCycle       `json:"billingCycle"`
	BranchCount  int                        `json:"branchCount"`
	Addons       []*selection.SelectedAddon `json:"addons"`
	Pricing      pricing.Breakdown          `json:"pricing"`
}

// Summarize computes the priced summary for the session's selection.
func (s *Service) Summarize(ctx context.Context, sessionID string) (*Summary, error) {
	sess, plan, err := s.sessionPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	cycle, branchCount := sess.billingCycle, sess.branchCount
	sess.mu.Unlock()

	breakdown, err := pricing.GrandTotal(plan, sess.Basket, cycle, branchCount)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Plan:         plan,
		BillingCycle: cycle,
		BranchCount:  branchCount,
		Addons:       sess.Basket.Items(),
		Pricing:      breakdown,
	}, nil
}

// Advance moves the wizard forward, gated on the current step's checks.
func (s *Service) Advance(ctx context.Context, sessionID string) (wizard.Step, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	gate := wizard.Gate{CompanyComplete: sess.Company.OrganizationName != ""}
	sess.mu.Lock()
	planID, branchCount := sess.planID, sess.branchCount
	sess.mu.Unlock()
	if planID != "" {
		plan, err := s.catalog.Get(ctx, planID)
		if err != nil {
			return "", err
		}
		gate.Plan = plan
		gate.BranchCount = branchCount
		gate.Basket = sess.Basket
	}

	step, err := sess.Wizard.Advance(gate)
	if err != nil {
		return step, err
	}
	metrics.OnboardingStepsTotal.WithLabelValues(string(step)).Inc()
	return step, nil
}

// Back moves the wizard one step backwards.
func (s *Service) Back(ctx context.Context, sessionID string) (wizard.Step, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.Wizard.Back()
}

// InitiatePayment prices the selection, stores the subscription snapshot on
// the pending tenant, and requests a payment intent. Only reachable from
// the summary step.
func (s *Service) InitiatePayment(ctx context.Context, sessionID string) (*payment.IntentRecord, error) {
	sess, plan, err := s.sessionPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Wizard.Current() != wizard.StepPlanSummary {
		return nil, ErrWrongStep
	}

	sess.mu.Lock()
	cycle, branchCount := sess.billingCycle, sess.branchCount
	sess.mu.Unlock()

	breakdown, err := pricing.GrandTotal(plan, sess.Basket, cycle, branchCount)
	if err != nil {
		return nil, err
	}

	sub := &tenant.Subscription{
		PlanID:       plan.ID,
		PlanName:     plan.Name,
		BillingCycle: cycle,
		BranchCount:  branchCount,
		Addons:       sess.Basket.Items(),
		TotalCents:   breakdown.TotalCents,
	}
	if err := s.activate.SetSubscription(ctx, sess.TenantID, sub); err != nil {
		return nil, err
	}

	return sess.Pay.Initiate(ctx, payment.InitiateRequest{
		TenantID:         sess.TenantID,
		OrganizationName: sess.Company.OrganizationName,
		CustomerEmail:    sess.Company.Email,
		PlanID:           plan.ID,
		BillingCycle:     cycle,
		PlanCents:        breakdown.PlanCents,
		BranchAddonCents: breakdown.BranchAddonCents,
		OrgAddonCents:    breakdown.OrgAddonCents,
		TotalCents:       breakdown.TotalCents,
	})
}

// ReportConfirmation records the opaque client-side confirmation outcome.
func (s *Service) ReportConfirmation(ctx context.Context, sessionID string, succeeded bool, declErr *payment.PaymentError) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if succeeded {
		return sess.Pay.ConfirmationSucceeded()
	}
	if err := sess.Pay.ConfirmationDeclined(declErr); err != nil {
		return err
	}
	s.emitFailure(sess)
	return nil
}

// PollPayment polls the gateway once and reports the normalized status.
func (s *Service) PollPayment(ctx context.Context, sessionID string) (*payment.StatusResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result, err := sess.Pay.Poll(ctx)
	if err != nil {
		return nil, err
	}
	if result.Status.IsFailed {
		s.emitFailure(sess)
	}
	return result, nil
}

// RetryPayment loops back to client confirmation after a retryable decline.
func (s *Service) RetryPayment(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return sess.Pay.RetryConfirmation()
}

// CompletePayment calls the activation gateway and, on a positive
// acknowledgment, closes the session.
func (s *Service) CompletePayment(ctx context.Context, sessionID string) (*payment.CompletionResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result, err := sess.Pay.Complete(ctx)
	if err != nil {
		return nil, err
	}
	// The session has served its purpose; the tenant record is the durable
	// outcome.
	_ = s.sessions.Delete(ctx, sessionID)
	return result, nil
}

func (s *Service) emitFailure(sess *Session) {
	if s.events == nil {
		return
	}
	st := sess.Pay.State()
	intentID, reason, canRetry := "", "payment failed", false
	if st.Intent != nil {
		intentID = st.Intent.IntentID
	}
	if st.Status != nil {
		reason = st.Status.StatusMessage
		canRetry = st.Status.CanRetry
	}
	s.events.EmitPaymentFailed(sess.TenantID, intentID, reason, canRetry)
}
