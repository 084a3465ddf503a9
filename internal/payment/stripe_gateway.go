package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/avelinos/onboardly/internal/traces"
)

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct{}

// NewStripeGateway creates the Stripe-backed payment gateway. The secret
// key is set process-wide; this service holds a single Stripe account.
func NewStripeGateway(secretKey string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	stripe.Key = secretKey
	return &StripeGateway{}, nil
}

// CreateIntent creates a payment intent for the priced snapshot. The
// customer is keyed on the tenant id so repeated initiates reuse one Stripe
// customer; the intent is keyed on the attempt id so a fresh attempt after
// a failed or errored one always yields a fresh intent.
func (g *StripeGateway) CreateIntent(ctx context.Context, req InitiateRequest) (*IntentRecord, error) {
	if req.TotalCents <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %d", req.TotalCents)
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if req.AttemptID == "" {
		return nil, fmt.Errorf("attempt id is required")
	}

	ctx, span := traces.StartSpan(ctx, "stripe.create_intent",
		traces.TenantID(req.TenantID), traces.PlanID(req.PlanID), traces.AmountCents(req.TotalCents))
	defer span.End()

	cust, err := customer.New(&stripe.CustomerParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String("onboarding_customer_" + req.TenantID),
		},
		Email: stripe.String(req.CustomerEmail),
		Name:  stripe.String(req.OrganizationName),
		Metadata: map[string]string{
			"tenant_id": req.TenantID,
		},
	})
	if err != nil {
		return nil, wrapStripeErr("create customer", err)
	}

	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(req.TotalCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Customer: stripe.String(cust.ID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"tenant_id":            req.TenantID,
			"plan_id":              req.PlanID,
			"billing_cycle":        string(req.BillingCycle),
			"plan_tot_amt":         strconv.FormatInt(req.PlanCents, 10),
			"branch_addon_tot_amt": strconv.FormatInt(req.BranchAddonCents, 10),
			"org_addon_tot_amt":    strconv.FormatInt(req.OrgAddonCents, 10),
		},
	}
	params.IdempotencyKey = stripe.String("onboarding_" + req.AttemptID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, wrapStripeErr("create payment intent", err)
	}
	return intentRecord(pi), nil
}

// IntentStatus retrieves the intent and normalizes Stripe's raw status into
// the orthogonal flag set the orchestrator runs on.
func (g *StripeGateway) IntentStatus(ctx context.Context, intentID string) (*StatusResult, error) {
	if intentID == "" {
		return nil, fmt.Errorf("payment intent id is required")
	}

	ctx, span := traces.StartSpan(ctx, "stripe.intent_status", traces.PaymentIntentID(intentID))
	defer span.End()

	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, wrapStripeErr("get payment intent", err)
	}

	result := &StatusResult{
		Intent: *intentRecord(pi),
		Status: normalizeStatus(pi),
	}
	if pi.LatestCharge != nil {
		result.Charge = &ChargeDetails{
			ChargeID:    pi.LatestCharge.ID,
			AmountCents: pi.LatestCharge.Amount,
			ReceiptURL:  pi.LatestCharge.ReceiptURL,
		}
	}
	return result, nil
}

func intentRecord(pi *stripe.PaymentIntent) *IntentRecord {
	rec := &IntentRecord{
		IntentID:     pi.ID,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		ClientSecret: pi.ClientSecret,
	}
	if pi.Customer != nil {
		rec.CustomerID = pi.Customer.ID
	}
	if pi.LastPaymentError != nil {
		rec.LastError = &PaymentError{
			Code:        string(pi.LastPaymentError.Code),
			Message:     pi.LastPaymentError.Msg,
			Type:        string(pi.LastPaymentError.Type),
			DeclineCode: string(pi.LastPaymentError.DeclineCode),
		}
	}
	return rec
}

// normalizeStatus maps Stripe's intent status to the one-of-three flag set.
func normalizeStatus(pi *stripe.PaymentIntent) StatusInfo {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusInfo{IsSuccessful: true, StatusMessage: "payment succeeded"}
	case stripe.PaymentIntentStatusProcessing:
		return StatusInfo{IsPending: true, StatusMessage: "payment processing"}
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return StatusInfo{IsPending: true, RequiresAction: true, StatusMessage: "additional action required"}
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			decline := string(pi.LastPaymentError.DeclineCode)
			return StatusInfo{
				IsFailed:      true,
				CanRetry:      RetryableDecline(decline),
				StatusMessage: declineDetail(pi.LastPaymentError),
			}
		}
		// Freshly created intent waiting for its first payment method.
		return StatusInfo{IsPending: true, StatusMessage: "awaiting payment method"}
	case stripe.PaymentIntentStatusCanceled:
		return StatusInfo{IsFailed: true, CanRetry: false, StatusMessage: "payment intent canceled"}
	default:
		return StatusInfo{IsPending: true, StatusMessage: "status: " + string(pi.Status)}
	}
}

// RetryableDecline reports whether a decline code permits retrying the same
// intent with a new payment method. Unknown codes default to retryable;
// hard declines and fraud signals do not.
func RetryableDecline(declineCode string) bool {
	switch declineCode {
	case "fraudulent", "stolen_card", "lost_card", "pickup_card",
		"merchant_blacklist", "do_not_honor", "do_not_try_again":
		return false
	}
	return true
}

func declineDetail(e *stripe.Error) string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.DeclineCode != "" {
		return "card declined: " + string(e.DeclineCode)
	}
	return "payment failed"
}

func wrapStripeErr(op string, err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		return fmt.Errorf("stripe %s: %s (%s)", op, stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
