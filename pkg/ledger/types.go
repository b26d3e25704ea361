package ledger

import (
	"time"
)

// Status is the subscription status. Stripe statuses are stored verbatim.
type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// IsActive reports whether the status entitles the user to generate
func (s Status) IsActive() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// SubscriptionRecord is the ledger row for a single user
type SubscriptionRecord struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id,omitempty"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	StripePriceID        string     `json:"stripe_price_id,omitempty"`
	Status               Status     `json:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	QuotaLimit           int        `json:"quota_limit"`
	QuotaUsed            int        `json:"quota_used"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Remaining returns the generations left in the current period
func (r *SubscriptionRecord) Remaining() int {
	if r.QuotaUsed >= r.QuotaLimit {
		return 0
	}
	return r.QuotaLimit - r.QuotaUsed
}

// CheckoutUpdate is applied when a checkout session completes
type CheckoutUpdate struct {
	CustomerID     string
	SubscriptionID string
	PriceID        string
	// UserID comes from the session's client_reference_id and only fills a
	// row that has no owner yet.
	UserID string
}

// SubscriptionUpdate is applied on customer.subscription.created/updated
type SubscriptionUpdate struct {
	CustomerID     string
	SubscriptionID string
	PriceID        string
	Status         Status
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	QuotaLimit     int
}
