package payment

import (
	"context"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v81"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name string
		pi   *stripe.PaymentIntent
		want StatusInfo
	}{
		{
			name: "succeeded",
			pi:   &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded},
			want: StatusInfo{IsSuccessful: true, StatusMessage: "payment succeeded"},
		},
		{
			name: "processing",
			pi:   &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing},
			want: StatusInfo{IsPending: true, StatusMessage: "payment processing"},
		},
		{
			name: "requires action",
			pi:   &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresAction},
			want: StatusInfo{IsPending: true, RequiresAction: true, StatusMessage: "additional action required"},
		},
		{
			name: "requires confirmation",
			pi:   &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresConfirmation},
			want: StatusInfo{IsPending: true, RequiresAction: true, StatusMessage: "additional action required"},
		},
		{
			name: "fresh intent without payment method is pending, not failed",
			pi:   &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod},
			want: StatusInfo{IsPending: true, StatusMessage: "awaiting payment method"},
		},
		{
			name: "declined soft",
			pi: &stripe.PaymentIntent{
				Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
				LastPaymentError: &stripe.Error{
					Msg:         "Your card has insufficient funds.",
					DeclineCode: stripe.DeclineCode("insufficient_funds"),
				},
			},
			want: StatusInfo{IsFailed: true, CanRetry: true, StatusMessage: "Your card has insufficient funds."},
		},
		{
			name: "declined hard",
			pi: &stripe.PaymentIntent{
				Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
				LastPaymentError: &stripe.Error{
					DeclineCode: stripe.DeclineCode("stolen_card"),
				},
			},
			want: StatusInfo{IsFailed: true, CanRetry: false, StatusMessage: "card declined: stolen_card"},
		},
		{
			name: "canceled",
			pi:   &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled},
			want: StatusInfo{IsFailed: true, CanRetry: false, StatusMessage: "payment intent canceled"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeStatus(tt.pi)
			if got != tt.want {
				t.Errorf("normalizeStatus() = %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("normalized status violates one-of-three: %v", err)
			}
		})
	}
}

func TestNormalizeStatus_UnknownIsPending(t *testing.T) {
	got := normalizeStatus(&stripe.PaymentIntent{Status: stripe.PaymentIntentStatus("some_future_status")})
	if !got.IsPending || got.IsFailed || got.IsSuccessful {
		t.Errorf("unknown status should map to pending, got %+v", got)
	}
	if !strings.Contains(got.StatusMessage, "some_future_status") {
		t.Errorf("message should carry the raw status, got %q", got.StatusMessage)
	}
}

func TestRetryableDecline(t *testing.T) {
	hard := []string{
		"fraudulent", "stolen_card", "lost_card", "pickup_card",
		"merchant_blacklist", "do_not_honor", "do_not_try_again",
	}
	for _, code := range hard {
		if RetryableDecline(code) {
			t.Errorf("RetryableDecline(%q) = true, want false", code)
		}
	}
	for _, code := range []string{"insufficient_funds", "expired_card", "incorrect_cvc", "", "brand_new_code"} {
		if !RetryableDecline(code) {
			t.Errorf("RetryableDecline(%q) = false, want true", code)
		}
	}
}

func TestIntentRecord(t *testing.T) {
	pi := &stripe.PaymentIntent{
		ID:           "pi_123",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Amount:       116500,
		ClientSecret: "pi_123_secret_abc",
		Customer:     &stripe.Customer{ID: "cus_456"},
		LastPaymentError: &stripe.Error{
			Code:        stripe.ErrorCodeCardDeclined,
			Msg:         "Your card was declined.",
			Type:        stripe.ErrorTypeCard,
			DeclineCode: stripe.DeclineCode("do_not_honor"),
		},
	}

	rec := intentRecord(pi)
	if rec.IntentID != "pi_123" || rec.AmountCents != 116500 {
		t.Errorf("record = %+v", rec)
	}
	if rec.CustomerID != "cus_456" {
		t.Errorf("customer = %q", rec.CustomerID)
	}
	if rec.ClientSecret != "pi_123_secret_abc" {
		t.Errorf("client secret = %q", rec.ClientSecret)
	}
	if rec.LastError == nil {
		t.Fatal("last error not mapped")
	}
	if rec.LastError.DeclineCode != "do_not_honor" || rec.LastError.Code != string(stripe.ErrorCodeCardDeclined) {
		t.Errorf("last error = %+v", rec.LastError)
	}
}

func TestIntentRecord_NoCustomerNoError(t *testing.T) {
	rec := intentRecord(&stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusProcessing})
	if rec.CustomerID != "" || rec.LastError != nil {
		t.Errorf("record = %+v", rec)
	}
}

func TestDeclineDetail(t *testing.T) {
	if got := declineDetail(&stripe.Error{Msg: "explicit message"}); got != "explicit message" {
		t.Errorf("got %q", got)
	}
	if got := declineDetail(&stripe.Error{DeclineCode: "do_not_honor"}); got != "card declined: do_not_honor" {
		t.Errorf("got %q", got)
	}
	if got := declineDetail(&stripe.Error{}); got != "payment failed" {
		t.Errorf("got %q", got)
	}
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	if _, err := NewStripeGateway(""); err == nil {
		t.Fatal("expected error for empty secret key")
	}
}

func TestCreateIntent_RejectsIncompleteRequest(t *testing.T) {
	g := &StripeGateway{}
	ctx := context.Background()

	cases := []struct {
		name string
		req  InitiateRequest
	}{
		{"zero amount", InitiateRequest{TenantID: "ten_1", AttemptID: "att_1"}},
		{"missing tenant", InitiateRequest{AttemptID: "att_1", TotalCents: 100}},
		{"missing attempt", InitiateRequest{TenantID: "ten_1", TotalCents: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.CreateIntent(ctx, tc.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
