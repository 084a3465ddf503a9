package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avelinos/onboardly/internal/idgen"
	"github.com/avelinos/onboardly/internal/logging"
	"github.com/avelinos/onboardly/internal/metrics"
	"github.com/avelinos/onboardly/internal/retry"
	"github.com/avelinos/onboardly/internal/tenant"
)

// VersionSource reports the current version of the priced selection the
// intent was initiated from. A change mid-flight invalidates the intent.
type VersionSource interface {
	Version() uint64
}

// Orchestrator drives one onboarding session's payment attempt to a
// terminal state. All methods are safe for concurrent use, but only one
// gateway call may be in flight at a time: a duplicate click surfaces
// ErrCallInFlight instead of racing the original.
type Orchestrator struct {
	gateway   Gateway
	activator Activator
	versions  VersionSource

	mu       sync.Mutex
	state    State
	inflight bool

	tenantID string
}

// completeAttempts bounds the automatic re-issue of Complete after a
// timeout. The backend treats repeats with the same intent id as a no-op,
// so re-issuing is safe; inferring success from a timeout is not.
const completeAttempts = 3

// NewOrchestrator creates an orchestrator for one onboarding session.
func NewOrchestrator(gateway Gateway, activator Activator, versions VersionSource, tenantID string) *Orchestrator {
	return &Orchestrator{
		gateway:   gateway,
		activator: activator,
		versions:  versions,
		tenantID:  tenantID,
		state:     State{Phase: PhaseNotStarted},
	}
}

// State returns a copy of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	s := o.state
	if o.state.Intent != nil {
		cp := *o.state.Intent
		s.Intent = &cp
	}
	if o.state.Status != nil {
		cp := *o.state.Status
		s.Status = &cp
	}
	return s
}

// beginCall reserves the single in-flight slot.
func (o *Orchestrator) beginCall() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight {
		return ErrCallInFlight
	}
	o.inflight = true
	return nil
}

func (o *Orchestrator) endCall() {
	o.mu.Lock()
	o.inflight = false
	o.mu.Unlock()
}

// Initiate requests a payment intent for the priced snapshot. Allowed from
// not_started, and — as the start of a fresh attempt with a fresh intent —
// from failed and error. Initiate failures are surfaced verbatim and are
// not retried here: the inputs may need correction first.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*IntentRecord, error) {
	if err := o.beginCall(); err != nil {
		return nil, err
	}
	defer o.endCall()

	o.mu.Lock()
	switch o.state.Phase {
	case PhaseNotStarted, PhaseFailed, PhaseError:
		// Fresh attempt: discard any previous intent state.
		o.state = State{Phase: PhaseInitiating}
	default:
		phase := o.state.Phase
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: initiate from %s", ErrInvalidPhase, phase)
	}
	version := o.versions.Version()
	o.mu.Unlock()

	// Each initiate is its own attempt: the gateway scopes intent
	// idempotency to this id, so retries after failed or error get a
	// fresh payment intent.
	req.AttemptID = idgen.WithPrefix("att_")

	intent, err := o.gateway.CreateIntent(ctx, req)
	if err != nil {
		o.mu.Lock()
		o.state.fail(fmt.Sprintf("initiate failed: %v", err))
		o.mu.Unlock()
		metrics.PaymentIntentsTotal.WithLabelValues("initiate_failed").Inc()
		return nil, err
	}

	o.mu.Lock()
	if err := o.state.shift(PhaseAwaitingConfirmation); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.state.Intent = intent
	o.state.BasketVersion = version
	snapshot := *intent
	o.mu.Unlock()

	metrics.PaymentIntentsTotal.WithLabelValues("initiated").Inc()
	logging.L(ctx).Info("payment intent initiated",
		"tenant_id", o.tenantID, "payment_intent", intent.IntentID, "amount_cents", intent.AmountCents)
	return &snapshot, nil
}

// ConfirmationSucceeded records that the client-side confirmation step
// finished without a decline. Polling may begin.
func (o *Orchestrator) ConfirmationSucceeded() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.shift(PhaseProcessing)
}

// ConfirmationDeclined records a client-side decline. The flow moves to
// failed without polling; declErr routes through CanRetry to either a new
// payment method or a hard stop.
func (o *Orchestrator) ConfirmationDeclined(declErr *PaymentError) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.state.shift(PhaseFailed); err != nil {
		return err
	}
	if o.state.Intent != nil {
		o.state.Intent.LastError = declErr
	}
	o.state.Status = &StatusInfo{
		IsFailed:      true,
		CanRetry:      declErr == nil || RetryableDecline(declErr.DeclineCode),
		StatusMessage: declineMessage(declErr),
	}
	metrics.PaymentIntentsTotal.WithLabelValues("declined").Inc()
	return nil
}

// RetryConfirmation loops back to the client confirmation step after a
// retryable failure (new payment method, same intent).
func (o *Orchestrator) RetryConfirmation() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase != PhaseFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidPhase, o.state.Phase)
	}
	if o.state.Status == nil || !o.state.Status.CanRetry {
		return ErrNotRetryable
	}
	return o.state.shift(PhaseAwaitingConfirmation)
}

// Poll asks the gateway for the intent's current status and advances the
// state machine accordingly. Polling is caller-driven; there is no timer.
func (o *Orchestrator) Poll(ctx context.Context) (*StatusResult, error) {
	if err := o.beginCall(); err != nil {
		return nil, err
	}
	defer o.endCall()

	o.mu.Lock()
	switch o.state.Phase {
	case PhaseProcessing, PhaseRequiresAction:
	default:
		phase := o.state.Phase
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: poll from %s", ErrInvalidPhase, phase)
	}
	if err := o.checkBasketLocked(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	intentID := o.state.Intent.IntentID
	o.mu.Unlock()

	result, err := o.gateway.IntentStatus(ctx, intentID)
	if err != nil {
		metrics.PaymentPollsTotal.WithLabelValues("gateway_error").Inc()
		return nil, fmt.Errorf("failed to poll payment status: %w", err)
	}
	if err := result.Status.Validate(); err != nil {
		// Gateway defect: log and surface, never coerce.
		o.mu.Lock()
		o.state.fail(err.Error())
		o.mu.Unlock()
		metrics.PaymentPollsTotal.WithLabelValues("conflict").Inc()
		logging.L(ctx).Error("inconsistent gateway status", "payment_intent", intentID, "error", err)
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var next Phase
	switch {
	case result.Status.IsSuccessful:
		next = PhaseSucceeded
	case result.Status.IsFailed:
		next = PhaseFailed
	case result.Status.RequiresAction:
		next = PhaseRequiresAction
	default:
		next = PhaseProcessing
	}
	if err := o.state.shift(next); err != nil {
		return nil, err
	}
	o.state.Intent = &result.Intent
	status := result.Status
	o.state.Status = &status
	if result.Status.IsSuccessful {
		o.state.SuccessObserved = true
	}

	metrics.PaymentPollsTotal.WithLabelValues(string(next)).Inc()
	return result, nil
}

// Complete calls the tenant activation gateway. It is only reachable after
// a poll observed IsSuccessful for the current intent id. On timeout the
// call is re-issued — bounded — relying on backend idempotency; completion
// is never assumed from a timeout.
func (o *Orchestrator) Complete(ctx context.Context) (*CompletionResult, error) {
	if err := o.beginCall(); err != nil {
		return nil, err
	}
	defer o.endCall()

	o.mu.Lock()
	if o.state.Phase != PhaseSucceeded {
		phase := o.state.Phase
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: complete from %s", ErrInvalidPhase, phase)
	}
	if !o.state.SuccessObserved {
		// Defensive: succeeded phase without an observed success poll is a
		// consistency defect, not a state to guess at.
		o.state.fail("complete attempted without an observed successful poll")
		o.mu.Unlock()
		return nil, ErrNotSuccessful
	}
	if err := o.checkBasketLocked(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if err := o.state.shift(PhaseCompleting); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	intentID := o.state.Intent.IntentID
	o.mu.Unlock()

	var result *CompletionResult
	err := retry.Do(ctx, completeAttempts, 500*time.Millisecond, func() error {
		t, err := o.activator.Complete(ctx, o.tenantID, intentID)
		if err != nil {
			if !retryableActivationError(err) {
				return retry.Permanent(err)
			}
			return err
		}
		result = &CompletionResult{Tenant: t, PaymentIntentID: intentID}
		return nil
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if isDomainErr(err) {
			// The activation gateway rejected the completion outright.
			// Retrying with the same inputs cannot succeed.
			o.state.fail(fmt.Sprintf("activation rejected: %v", err))
		} else if shiftErr := o.state.shift(PhaseSucceeded); shiftErr != nil {
			// No positive acknowledgment; fall back to succeeded so the
			// caller can re-issue Complete. The backend no-ops duplicates.
			o.state.fail(fmt.Sprintf("completion failed: %v", err))
		}
		metrics.PaymentIntentsTotal.WithLabelValues("complete_failed").Inc()
		return nil, fmt.Errorf("failed to complete activation: %w", err)
	}
	if err := o.state.shift(PhaseCompleted); err != nil {
		return nil, err
	}
	metrics.PaymentIntentsTotal.WithLabelValues("completed").Inc()
	logging.L(ctx).Info("onboarding payment completed",
		"tenant_id", o.tenantID, "payment_intent", intentID)
	return result, nil
}

// checkBasketLocked invalidates the in-flight intent if the selection
// changed after initiate. Amount and catalogue state must not silently
// diverge; the caller has to initiate a fresh intent.
func (o *Orchestrator) checkBasketLocked() error {
	if o.versions == nil {
		return nil
	}
	if o.versions.Version() != o.state.BasketVersion {
		o.state.fail(ErrSelectionChanged.Error())
		return ErrSelectionChanged
	}
	return nil
}

// CompletionResult is the positive activation acknowledgment.
type CompletionResult struct {
	Tenant          *tenant.Tenant `json:"tenant"`
	PaymentIntentID string         `json:"paymentIntentId"`
}

// retryableActivationError reports whether a Complete failure is worth an
// automatic re-issue. Domain rejections are permanent; transport errors
// are not.
func retryableActivationError(err error) bool {
	switch {
	case err == nil:
		return false
	case isDomainErr(err):
		return false
	}
	return true
}

func isDomainErr(err error) bool {
	for _, domain := range []error{
		tenant.ErrTenantNotFound,
		tenant.ErrIntentMismatch,
		tenant.ErrNotPending,
		tenant.ErrMissingIntent,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}

func declineMessage(p *PaymentError) string {
	if p == nil {
		return "payment declined"
	}
	if p.Message != "" {
		return p.Message
	}
	return "payment declined: " + p.DeclineCode
}
