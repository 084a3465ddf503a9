package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avelinos/onboardly/internal/tenant"
)

// mockGateway scripts intent creation and status polls.
type mockGateway struct {
	mu          sync.Mutex
	createErr   error
	createCalls int
	createReqs  []InitiateRequest
	statusQueue []*StatusResult
	statusErr   error
	statusCalls int
	block       chan struct{} // when set, calls park here until closed
}

func (m *mockGateway) CreateIntent(ctx context.Context, req InitiateRequest) (*IntentRecord, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.createReqs = append(m.createReqs, req)
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &IntentRecord{
		IntentID:     "pi_test",
		Status:       "requires_payment_method",
		AmountCents:  req.TotalCents,
		ClientSecret: "pi_test_secret",
	}, nil
}

func (m *mockGateway) IntentStatus(ctx context.Context, intentID string) (*StatusResult, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if len(m.statusQueue) == 0 {
		return &StatusResult{
			Intent: IntentRecord{IntentID: intentID, Status: "processing"},
			Status: StatusInfo{IsPending: true},
		}, nil
	}
	r := m.statusQueue[0]
	m.statusQueue = m.statusQueue[1:]
	return r, nil
}

// mockActivator counts completions and can fail N times before succeeding.
type mockActivator struct {
	mu        sync.Mutex
	calls     int
	failTimes int
	err       error
}

func (m *mockActivator) Complete(ctx context.Context, tenantID, paymentIntentID string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil && (m.failTimes == 0 || m.calls <= m.failTimes) {
		return nil, m.err
	}
	return &tenant.Tenant{ID: tenantID, Status: tenant.StatusActive, PaymentIntentID: paymentIntentID}, nil
}

type fixedVersion struct{ v uint64 }

func (f *fixedVersion) Version() uint64 { return f.v }

func succeededPoll() *StatusResult {
	return &StatusResult{
		Intent: IntentRecord{IntentID: "pi_test", Status: "succeeded"},
		Status: StatusInfo{IsSuccessful: true, StatusMessage: "payment succeeded"},
	}
}

func initiated(t *testing.T, gw *mockGateway, act *mockActivator, vs VersionSource) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(gw, act, vs, "ten_1")
	if _, err := o.Initiate(context.Background(), InitiateRequest{TenantID: "ten_1", TotalCents: 11650}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return o
}

func TestOrchestrator_HappyPath(t *testing.T) {
	gw := &mockGateway{statusQueue: []*StatusResult{succeededPoll()}}
	act := &mockActivator{}
	o := initiated(t, gw, act, &fixedVersion{})

	if got := o.State().Phase; got != PhaseAwaitingConfirmation {
		t.Fatalf("phase after initiate = %s", got)
	}

	if err := o.ConfirmationSucceeded(); err != nil {
		t.Fatalf("confirmation: %v", err)
	}

	result, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !result.Status.IsSuccessful {
		t.Fatalf("poll status not successful: %+v", result.Status)
	}
	if got := o.State().Phase; got != PhaseSucceeded {
		t.Fatalf("phase after poll = %s", got)
	}

	completion, err := o.Complete(context.Background())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completion.Tenant.Status != tenant.StatusActive {
		t.Errorf("tenant status = %s", completion.Tenant.Status)
	}
	if completion.PaymentIntentID != "pi_test" {
		t.Errorf("payment intent = %s", completion.PaymentIntentID)
	}
	if got := o.State().Phase; got != PhaseCompleted {
		t.Errorf("final phase = %s", got)
	}
	if act.calls != 1 {
		t.Errorf("activator calls = %d, want 1", act.calls)
	}
}

func TestInitiate_FailureIsNotRetriedAndErrors(t *testing.T) {
	gw := &mockGateway{createErr: errors.New("stripe create customer: boom")}
	o := NewOrchestrator(gw, &mockActivator{}, &fixedVersion{}, "ten_1")

	if _, err := o.Initiate(context.Background(), InitiateRequest{TenantID: "ten_1", TotalCents: 100}); err == nil {
		t.Fatal("expected error")
	}
	if gw.createCalls != 1 {
		t.Errorf("create calls = %d, want 1 (no automatic retry)", gw.createCalls)
	}
	if got := o.State().Phase; got != PhaseError {
		t.Errorf("phase = %s, want error", got)
	}
}

func TestInitiate_FreshAttemptFromFailedAndError(t *testing.T) {
	gw := &mockGateway{}
	o := initiated(t, gw, &mockActivator{}, &fixedVersion{})

	if err := o.ConfirmationDeclined(&PaymentError{DeclineCode: "insufficient_funds"}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got := o.State().Phase; got != PhaseFailed {
		t.Fatalf("phase = %s, want failed", got)
	}

	// A fresh initiate from failed starts over with clean state.
	if _, err := o.Initiate(context.Background(), InitiateRequest{TenantID: "ten_1", TotalCents: 100}); err != nil {
		t.Fatalf("initiate from failed: %v", err)
	}
	st := o.State()
	if st.Phase != PhaseAwaitingConfirmation {
		t.Errorf("phase = %s", st.Phase)
	}
	if st.SuccessObserved || st.Status != nil {
		t.Errorf("state not reset: %+v", st)
	}
}

func TestInitiate_EachAttemptGetsOwnAttemptID(t *testing.T) {
	gw := &mockGateway{}
	o := initiated(t, gw, &mockActivator{}, &fixedVersion{})

	if err := o.ConfirmationDeclined(&PaymentError{DeclineCode: "stolen_card"}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := o.Initiate(context.Background(), InitiateRequest{TenantID: "ten_1", TotalCents: 100}); err != nil {
		t.Fatalf("initiate from failed: %v", err)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.createReqs) != 2 {
		t.Fatalf("create calls = %d, want 2", len(gw.createReqs))
	}
	first, second := gw.createReqs[0].AttemptID, gw.createReqs[1].AttemptID
	if first == "" || second == "" {
		t.Fatalf("attempt id missing: %q, %q", first, second)
	}
	// The gateway keys intent idempotency on the attempt id, so a fresh
	// attempt must never reuse the previous one.
	if first == second {
		t.Errorf("attempt id reused across attempts: %q", first)
	}
}

func TestInitiate_RejectedMidFlow(t *testing.T) {
	o := initiated(t, &mockGateway{}, &mockActivator{}, &fixedVersion{})
	if err := o.ConfirmationSucceeded(); err != nil {
		t.Fatalf("confirmation: %v", err)
	}
	if _, err := o.Initiate(context.Background(), InitiateRequest{}); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestDecline_RetryableLoopsBackToConfirmation(t *testing.T) {
	o := initiated(t, &mockGateway{}, &mockActivator{}, &fixedVersion{})

	if err := o.ConfirmationDeclined(&PaymentError{Code: "card_declined", DeclineCode: "insufficient_funds"}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	st := o.State()
	if !st.Status.CanRetry {
		t.Fatalf("insufficient_funds should be retryable")
	}

	if err := o.RetryConfirmation(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := o.State().Phase; got != PhaseAwaitingConfirmation {
		t.Errorf("phase = %s, want awaiting_confirmation", got)
	}
}

func TestDecline_HardDeclineIsNotRetryable(t *testing.T) {
	o := initiated(t, &mockGateway{}, &mockActivator{}, &fixedVersion{})

	if err := o.ConfirmationDeclined(&PaymentError{DeclineCode: "stolen_card"}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if o.State().Status.CanRetry {
		t.Fatalf("stolen_card must not be retryable")
	}
	if err := o.RetryConfirmation(); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("expected ErrNotRetryable, got %v", err)
	}
}

func TestPoll_OnlyWhileProcessing(t *testing.T) {
	o := initiated(t, &mockGateway{}, &mockActivator{}, &fixedVersion{})
	if _, err := o.Poll(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("poll before confirmation: expected ErrInvalidPhase, got %v", err)
	}
}

func TestPoll_InconsistentStatusSurfacedNotCoerced(t *testing.T) {
	gw := &mockGateway{statusQueue: []*StatusResult{{
		Intent: IntentRecord{IntentID: "pi_test"},
		Status: StatusInfo{IsSuccessful: true, IsFailed: true},
	}}}
	o := initiated(t, gw, &mockActivator{}, &fixedVersion{})
	_ = o.ConfirmationSucceeded()

	if _, err := o.Poll(context.Background()); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if got := o.State().Phase; got != PhaseError {
		t.Errorf("phase = %s, want error", got)
	}
}

func TestPoll_RequiresActionRoundTrip(t *testing.T) {
	gw := &mockGateway{statusQueue: []*StatusResult{
		{Intent: IntentRecord{IntentID: "pi_test"}, Status: StatusInfo{IsPending: true, RequiresAction: true}},
		succeededPoll(),
	}}
	o := initiated(t, gw, &mockActivator{}, &fixedVersion{})
	_ = o.ConfirmationSucceeded()

	if _, err := o.Poll(context.Background()); err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if got := o.State().Phase; got != PhaseRequiresAction {
		t.Fatalf("phase = %s, want requires_action", got)
	}

	if _, err := o.Poll(context.Background()); err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if got := o.State().Phase; got != PhaseSucceeded {
		t.Errorf("phase = %s, want succeeded", got)
	}
}

func TestComplete_UnreachableWithoutObservedSuccess(t *testing.T) {
	o := initiated(t, &mockGateway{}, &mockActivator{}, &fixedVersion{})
	if _, err := o.Complete(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestComplete_ActivatorDomainRejectionIsTerminal(t *testing.T) {
	gw := &mockGateway{statusQueue: []*StatusResult{succeededPoll()}}
	act := &mockActivator{err: tenant.ErrIntentMismatch}
	o := initiated(t, gw, act, &fixedVersion{})
	_ = o.ConfirmationSucceeded()
	if _, err := o.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	_, err := o.Complete(context.Background())
	if !errors.Is(err, tenant.ErrIntentMismatch) {
		t.Fatalf("expected wrapped ErrIntentMismatch, got %v", err)
	}
	if act.calls != 1 {
		t.Errorf("domain rejection retried: %d calls", act.calls)
	}
	if got := o.State().Phase; got != PhaseError {
		t.Errorf("phase = %s, want error", got)
	}
}

func TestComplete_TransientFailureRevertsForReissue(t *testing.T) {
	gw := &mockGateway{statusQueue: []*StatusResult{succeededPoll()}}
	// Fails the first two attempts, succeeds on the bounded retry.
	act := &mockActivator{err: errors.New("connection reset"), failTimes: 2}
	o := initiated(t, gw, act, &fixedVersion{})
	_ = o.ConfirmationSucceeded()
	if _, err := o.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	result, err := o.Complete(context.Background())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if act.calls != 3 {
		t.Errorf("activator calls = %d, want 3 (two transient failures)", act.calls)
	}
	if result.Tenant.Status != tenant.StatusActive {
		t.Errorf("tenant status = %s", result.Tenant.Status)
	}
}

func TestComplete_AllAttemptsFailLeavesSucceeded(t *testing.T) {
	gw := &mockGateway{statusQueue: []*StatusResult{succeededPoll()}}
	act := &mockActivator{err: errors.New("timeout")}
	o := initiated(t, gw, act, &fixedVersion{})
	_ = o.ConfirmationSucceeded()
	if _, err := o.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if _, err := o.Complete(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	// Completion is never assumed from a timeout; the caller may re-issue.
	if got := o.State().Phase; got != PhaseSucceeded {
		t.Errorf("phase = %s, want succeeded for re-issue", got)
	}

	act.err = nil
	if _, err := o.Complete(context.Background()); err != nil {
		t.Fatalf("re-issued complete: %v", err)
	}
	if got := o.State().Phase; got != PhaseCompleted {
		t.Errorf("phase = %s, want completed", got)
	}
}

func TestSelectionChange_InvalidatesInFlightIntent(t *testing.T) {
	vs := &fixedVersion{v: 1}
	gw := &mockGateway{statusQueue: []*StatusResult{succeededPoll()}}
	o := initiated(t, gw, &mockActivator{}, vs)
	_ = o.ConfirmationSucceeded()

	vs.v = 2 // basket mutated after initiate

	if _, err := o.Poll(context.Background()); !errors.Is(err, ErrSelectionChanged) {
		t.Fatalf("expected ErrSelectionChanged, got %v", err)
	}
	if got := o.State().Phase; got != PhaseError {
		t.Errorf("phase = %s, want error", got)
	}

	// A fresh initiate picks up the new version and proceeds.
	if _, err := o.Initiate(context.Background(), InitiateRequest{TenantID: "ten_1", TotalCents: 200}); err != nil {
		t.Fatalf("fresh initiate: %v", err)
	}
	if o.State().BasketVersion != 2 {
		t.Errorf("basket version not re-snapshotted")
	}
}

func TestSingleFlight_SecondCallRejected(t *testing.T) {
	gw := &mockGateway{block: make(chan struct{})}
	o := NewOrchestrator(gw, &mockActivator{}, &fixedVersion{}, "ten_1")

	done := make(chan error, 1)
	go func() {
		_, err := o.Initiate(context.Background(), InitiateRequest{TenantID: "ten_1", TotalCents: 100})
		done <- err
	}()

	// Wait until the first call is parked inside the gateway.
	for o.State().Phase != PhaseInitiating {
		time.Sleep(time.Millisecond)
	}

	if _, err := o.Poll(context.Background()); !errors.Is(err, ErrCallInFlight) {
		t.Errorf("expected ErrCallInFlight, got %v", err)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
}
