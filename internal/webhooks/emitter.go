package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/avelinos/onboardly/internal/idgen"
	"github.com/avelinos/onboardly/internal/tenant"
)

// Emitter wraps a Dispatcher to emit onboarding lifecycle events.
// All methods are fire-and-forget: errors are logged but never returned,
// and a nil Emitter is safe to call.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// EmitOnboardingStarted emits an onboarding.started event.
func (e *Emitter) EmitOnboardingStarted(sessionID, organizationName string) {
	e.emit(EventOnboardingStarted, map[string]interface{}{
		"sessionId":        sessionID,
		"organizationName": organizationName,
	})
}

// EmitPaymentFailed emits a payment.failed event.
func (e *Emitter) EmitPaymentFailed(tenantID, paymentIntentID, reason string, canRetry bool) {
	e.emit(EventPaymentFailed, map[string]interface{}{
		"tenantId":        tenantID,
		"paymentIntentId": paymentIntentID,
		"reason":          reason,
		"canRetry":        canRetry,
	})
}

// TenantActivated implements tenant.ActivationListener.
func (e *Emitter) TenantActivated(_ context.Context, t *tenant.Tenant) {
	e.emit(EventTenantActivated, map[string]interface{}{
		"tenantId":         t.ID,
		"organizationName": t.OrganizationName,
		"status":           string(t.Status),
		"paymentIntentId":  t.PaymentIntentID,
	})
}

var _ tenant.ActivationListener = (*Emitter)(nil)
