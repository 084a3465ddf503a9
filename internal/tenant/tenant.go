// Package tenant holds tenant organization records and the activation
// gateway that flips a tenant from pending to active once its onboarding
// payment is confirmed.
package tenant

import (
	"errors"
	"time"

	"github.com/avelinos/onboardly/internal/catalog"
	"github.com/avelinos/onboardly/internal/selection"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrSlugTaken      = errors.New("tenant: slug already taken")
	ErrMissingIntent  = errors.New("tenant: payment intent reference required")
	ErrIntentMismatch = errors.New("tenant: tenant already activated with a different payment intent")
	ErrNotPending     = errors.New("tenant: tenant is not pending activation")
)

// Status represents a tenant's lifecycle state. The pending → active
// transition happens at most once, and only against a confirmed payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Subscription is the plan snapshot persisted at activation time.
type Subscription struct {
	PlanID       string                     `json:"planId"`
	PlanName     string                     `json:"planName"`
	BillingCycle catalog.BillingCycle       `json:"billingCycle"`
	BranchCount  int                        `json:"branchCount"`
	Addons       []*selection.SelectedAddon `json:"addons,omitempty"`
	TotalCents   int64                      `json:"totalCents"`
}

// Tenant represents an organization onboarding onto (or using) the platform.
type Tenant struct {
	ID               string        `json:"id"`
	OrganizationName string        `json:"organizationName"`
	Slug             string        `json:"slug"`
	Status           Status        `json:"status"`
	Subscription     *Subscription `json:"subscription,omitempty"`
	StripeCustomerID string        `json:"stripeCustomerId,omitempty"`
	// PaymentIntentID is the gateway reference the tenant was activated
	// against. It doubles as the activation idempotency key.
	PaymentIntentID string     `json:"paymentIntentId,omitempty"`
	ActivatedAt     *time.Time `json:"activatedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsActive returns true once the tenant has been activated.
func (t *Tenant) IsActive() bool { return t.Status == StatusActive }
