package payment

import (
	"context"
	"errors"

	"github.com/avelinos/onboardly/internal/circuitbreaker"
)

// ErrGatewayUnavailable is returned while the circuit to the payment
// provider is open.
var ErrGatewayUnavailable = errors.New("payment: gateway temporarily unavailable")

const breakerKey = "stripe"

// BreakerGateway wraps a Gateway with a circuit breaker so a provider
// outage fails fast instead of tying up every signup in timeouts.
type BreakerGateway struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
}

var _ Gateway = (*BreakerGateway)(nil)

// NewBreakerGateway wraps gw with the given breaker.
func NewBreakerGateway(gw Gateway, breaker *circuitbreaker.Breaker) *BreakerGateway {
	return &BreakerGateway{inner: gw, breaker: breaker}
}

func (b *BreakerGateway) CreateIntent(ctx context.Context, req InitiateRequest) (*IntentRecord, error) {
	if !b.breaker.Allow(breakerKey) {
		return nil, ErrGatewayUnavailable
	}
	rec, err := b.inner.CreateIntent(ctx, req)
	b.record(err)
	return rec, err
}

func (b *BreakerGateway) IntentStatus(ctx context.Context, intentID string) (*StatusResult, error) {
	if !b.breaker.Allow(breakerKey) {
		return nil, ErrGatewayUnavailable
	}
	res, err := b.inner.IntentStatus(ctx, intentID)
	b.record(err)
	return res, err
}

// record feeds the breaker. Declines are successes from the provider's
// point of view; only transport-level errors should trip the circuit,
// and those surface here as non-nil err.
func (b *BreakerGateway) record(err error) {
	if err != nil {
		b.breaker.RecordFailure(breakerKey)
		return
	}
	b.breaker.RecordSuccess(breakerKey)
}
