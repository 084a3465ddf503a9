package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/avelinos/onboardly/internal/logging"
	"github.com/avelinos/onboardly/internal/metrics"
	"github.com/avelinos/onboardly/internal/syncutil"
	"github.com/avelinos/onboardly/internal/traces"
)

// Activator is the tenant activation gateway. Complete is idempotent on
// (tenantID, paymentIntentID): the client may re-issue the call after a
// timeout without knowing whether the first attempt landed, and must get
// the same outcome back.
type Activator struct {
	store Store
	locks *syncutil.KeyedMutex
	// notify, if set, is told about each first-time activation.
	notify ActivationListener
}

// ActivationListener observes first-time tenant activations. Idempotent
// replays are not re-announced.
type ActivationListener interface {
	TenantActivated(ctx context.Context, t *Tenant)
}

// NewActivator creates a new activation gateway.
func NewActivator(store Store) *Activator {
	return &Activator{store: store, locks: syncutil.NewKeyedMutex()}
}

// WithListener adds an activation listener (e.g. the webhook dispatcher).
func (a *Activator) WithListener(l ActivationListener) *Activator {
	a.notify = l
	return a
}

// Complete activates a pending tenant against a confirmed payment intent.
//
//   - pending tenant → activated, subscription persisted, tenant returned
//   - active tenant, same intent id → no-op, same tenant returned
//   - active tenant, different intent id → ErrIntentMismatch
//
// The per-tenant lock serializes concurrent Complete calls so a retry racing
// the original can never double-activate.
func (a *Activator) Complete(ctx context.Context, tenantID, paymentIntentID string) (*Tenant, error) {
	if paymentIntentID == "" {
		return nil, ErrMissingIntent
	}

	ctx, span := traces.StartSpan(ctx, "tenant.activate",
		traces.TenantID(tenantID), traces.PaymentIntentID(paymentIntentID))
	defer span.End()

	unlock, err := a.locks.LockContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := a.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if t.Status == StatusActive {
		if t.PaymentIntentID == paymentIntentID {
			// Replayed completion. Return the already-active tenant.
			metrics.ActivationReplaysTotal.Inc()
			logging.L(ctx).Info("tenant activation replayed",
				"tenant_id", t.ID, "payment_intent", paymentIntentID)
			return t, nil
		}
		return nil, ErrIntentMismatch
	}
	if t.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := time.Now()
	t.Status = StatusActive
	t.PaymentIntentID = paymentIntentID
	t.ActivatedAt = &now
	t.UpdatedAt = now

	if err := a.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to activate tenant: %w", err)
	}

	metrics.TenantActivationsTotal.Inc()
	logging.L(ctx).Info("tenant activated",
		"tenant_id", t.ID, "payment_intent", paymentIntentID)

	if a.notify != nil {
		a.notify.TenantActivated(ctx, t)
	}
	return t, nil
}

// SetSubscription stores the priced plan snapshot on a pending tenant just
// before payment is initiated, so activation persists exactly what was paid.
func (a *Activator) SetSubscription(ctx context.Context, tenantID string, sub *Subscription) error {
	unlock, err := a.locks.LockContext(ctx, tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := a.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.Status != StatusPending {
		return ErrNotPending
	}
	t.Subscription = sub
	t.UpdatedAt = time.Now()
	return a.store.Update(ctx, t)
}
