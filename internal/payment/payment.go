// Package payment drives the external payment lifecycle for tenant
// onboarding.
//
// Flow:
//  1. Initiate → payment intent created at the gateway, client secret handed out
//  2. Client confirms with the gateway's browser library (opaque to us)
//  3. Poll status until a terminal gateway status is observed
//  4. Complete → tenant activation gateway called with the confirmed intent
//
// The orchestrator is an explicit state machine. Terminal phases are sticky;
// a fresh attempt needs a fresh payment intent.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/avelinos/onboardly/internal/catalog"
	"github.com/avelinos/onboardly/internal/tenant"
)

var (
	ErrCallInFlight     = errors.New("payment: another gateway call is in flight")
	ErrInvalidPhase     = errors.New("payment: operation not allowed in current phase")
	ErrNotSuccessful    = errors.New("payment: completion requires an observed successful poll")
	ErrStatusConflict   = errors.New("payment: gateway reported an inconsistent status combination")
	ErrSelectionChanged = errors.New("payment: selection changed after initiate, a fresh payment intent is required")
	ErrNotRetryable     = errors.New("payment: this failure is not retryable with a new payment method")
)

// Phase enumerates the orchestrator states.
type Phase string

const (
	PhaseNotStarted           Phase = "not_started"
	PhaseInitiating           Phase = "initiating"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseProcessing           Phase = "processing"
	PhaseSucceeded            Phase = "succeeded"
	PhaseFailed               Phase = "failed"
	PhaseRequiresAction       Phase = "requires_action"
	PhaseCompleting           Phase = "completing"
	PhaseCompleted            Phase = "completed"
	PhaseError                Phase = "error"
)

// Terminal returns true for phases no transition leaves within one attempt.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// transitions is the legality table. Anything not listed is illegal, except
// that every non-terminal phase may fall to PhaseError.
var transitions = map[Phase][]Phase{
	PhaseNotStarted:           {PhaseInitiating},
	PhaseInitiating:           {PhaseAwaitingConfirmation},
	PhaseAwaitingConfirmation: {PhaseProcessing, PhaseFailed},
	PhaseProcessing:           {PhaseProcessing, PhaseSucceeded, PhaseFailed, PhaseRequiresAction},
	PhaseRequiresAction:       {PhaseProcessing, PhaseSucceeded, PhaseFailed, PhaseRequiresAction},
	PhaseSucceeded:            {PhaseCompleting},
	PhaseCompleting:           {PhaseCompleted, PhaseSucceeded},
	PhaseFailed:               {PhaseAwaitingConfirmation},
}

func canTransition(from, to Phase) bool {
	if to == PhaseError {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentError is the structured decline/failure detail from the gateway.
type PaymentError struct {
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Type        string `json:"type,omitempty"`
	DeclineCode string `json:"declineCode,omitempty"`
}

// IntentRecord mirrors the gateway's payment intent. It is created by the
// initiate call and mutated only by polling; never fabricated locally.
type IntentRecord struct {
	IntentID     string        `json:"paymentIntentId"`
	Status       string        `json:"status"`
	AmountCents  int64         `json:"amountCents"`
	CustomerID   string        `json:"customerId,omitempty"`
	ClientSecret string        `json:"clientSecret,omitempty"`
	LastError    *PaymentError `json:"lastPaymentError,omitempty"`
}

// StatusInfo normalizes the gateway's raw status into orthogonal flags.
// Exactly one of IsSuccessful/IsPending/IsFailed must be true per poll.
type StatusInfo struct {
	IsSuccessful   bool   `json:"isSuccessful"`
	IsPending      bool   `json:"isPending"`
	IsFailed       bool   `json:"isFailed"`
	RequiresAction bool   `json:"requiresAction"`
	CanRetry       bool   `json:"canRetry"`
	StatusMessage  string `json:"statusMessage,omitempty"`
}

// Validate rejects status combinations that violate the one-of-three
// invariant. A violating combination is a gateway defect to surface, not
// something to silently coerce.
func (s StatusInfo) Validate() error {
	n := 0
	for _, f := range []bool{s.IsSuccessful, s.IsPending, s.IsFailed} {
		if f {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: successful=%v pending=%v failed=%v",
			ErrStatusConflict, s.IsSuccessful, s.IsPending, s.IsFailed)
	}
	return nil
}

// ChargeDetails is the optional charge information attached to a status poll.
type ChargeDetails struct {
	ChargeID    string `json:"chargeId"`
	AmountCents int64  `json:"amountCents"`
	ReceiptURL  string `json:"receiptUrl,omitempty"`
}

// StatusResult is one status poll's normalized response.
type StatusResult struct {
	Intent IntentRecord   `json:"paymentDetails"`
	Charge *ChargeDetails `json:"chargeDetails,omitempty"`
	Status StatusInfo     `json:"statusInfo"`
}

// InitiateRequest carries the priced snapshot sent to the gateway.
// AttemptID is assigned by the orchestrator, fresh per initiate call; the
// gateway keys intent idempotency on it so a fresh attempt after a failed
// one yields a fresh payment intent instead of replaying the old one.
type InitiateRequest struct {
	TenantID         string               `json:"tenantId"`
	AttemptID        string               `json:"attemptId"`
	OrganizationName string               `json:"organizationName"`
	CustomerEmail    string               `json:"customerEmail"`
	PlanID           string               `json:"planId"`
	BillingCycle     catalog.BillingCycle `json:"billingCycle"`
	PlanCents        int64                `json:"planTotAmt"`
	BranchAddonCents int64                `json:"branchAddonTotAmt"`
	OrgAddonCents    int64                `json:"orgAddonTotAmt"`
	TotalCents       int64                `json:"totAmt"`
}

// Gateway is the external payment collaborator.
type Gateway interface {
	// CreateIntent requests a payment intent for the priced snapshot.
	CreateIntent(ctx context.Context, req InitiateRequest) (*IntentRecord, error)
	// IntentStatus polls the gateway for the intent's current status.
	IntentStatus(ctx context.Context, intentID string) (*StatusResult, error)
}

// Activator is the tenant activation gateway. Complete must be idempotent
// on (tenantID, paymentIntentID).
type Activator interface {
	Complete(ctx context.Context, tenantID, paymentIntentID string) (*tenant.Tenant, error)
}

// State is the orchestrator's full state value. It is copied out to callers;
// mutation happens only through orchestrator operations.
type State struct {
	Phase  Phase         `json:"phase"`
	Intent *IntentRecord `json:"intent,omitempty"`
	Status *StatusInfo   `json:"status,omitempty"`
	// SuccessObserved is set once a poll reported IsSuccessful for the
	// current intent id. Complete is unreachable until then.
	SuccessObserved bool `json:"successObserved"`
	// BasketVersion is the selection version snapshotted at initiate time.
	BasketVersion uint64 `json:"-"`
	// Reason carries the unrecoverable failure detail when Phase is error.
	Reason string `json:"reason,omitempty"`
}

// shift moves the state to a new phase, enforcing the legality table.
func (s *State) shift(to Phase) error {
	if !canTransition(s.Phase, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidPhase, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// fail moves the state to the absorbing error phase with a reason.
func (s *State) fail(reason string) {
	if s.Phase == PhaseCompleted {
		return
	}
	s.Phase = PhaseError
	s.Reason = reason
}
