package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/lumen/pkg/observability"
)

var (
	ErrPriceRequired          = errors.New("priceId required")
	ErrUnknownPlan            = errors.New("unknown plan")
	ErrNoCustomer             = errors.New("no customer")
	ErrBillingNotConfigured   = errors.New("billing is not configured")
	ErrPublicURLNotConfigured = errors.New("public URL is not configured")
)

// CustomerStore links users to Stripe customers
type CustomerStore interface {
	CustomerID(ctx context.Context, userID string) (string, error)
	AttachCustomer(ctx context.Context, userID, customerID string) error
}

// CheckoutRequest selects a plan by name or by price id
type CheckoutRequest struct {
	Plan    string `json:"plan"`
	PriceID string `json:"priceId"`
}

// Bridge starts hosted checkout and portal sessions
type Bridge struct {
	provider  PaymentProvider
	customers CustomerStore
	plans     *Plans
	publicURL string
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// NewBridge creates a new Bridge
func NewBridge(provider PaymentProvider, customers CustomerStore, plans *Plans, publicURL string, metrics *observability.Metrics, logger *observability.Logger) *Bridge {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bridge{
		provider:  provider,
		customers: customers,
		plans:     plans,
		publicURL: strings.TrimRight(publicURL, "/"),
		metrics:   metrics,
		logger:    logger.WithComponent("billing"),
	}
}

// ResolvePrice validates req against the plan table
func (b *Bridge) ResolvePrice(req CheckoutRequest) (string, error) {
	switch {
	case req.PriceID != "":
		plan, ok := b.plans.ByPrice(req.PriceID)
		if !ok {
			return "", ErrUnknownPlan
		}
		return plan.PriceID, nil
	case req.Plan != "":
		plan, ok := b.plans.ByName(req.Plan)
		if !ok {
			return "", ErrUnknownPlan
		}
		if plan.PriceID == "" {
			return "", fmt.Errorf("%w: plan %s has no price", ErrBillingNotConfigured, plan.Name)
		}
		return plan.PriceID, nil
	default:
		return "", ErrPriceRequired
	}
}

// Checkout returns the hosted checkout URL for a subscription to the
// requested plan.
func (b *Bridge) Checkout(ctx context.Context, userID, email string, req CheckoutRequest) (string, error) {
	priceID, err := b.ResolvePrice(req)
	if err != nil {
		return "", err
	}
	if err := b.ready(); err != nil {
		return "", err
	}

	customerID, err := b.ensureCustomer(ctx, userID, email)
	if err != nil {
		b.metrics.RecordBillingSession("checkout", "error")
		return "", err
	}

	url, err := b.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     userID,
		SuccessURL: b.publicURL + "/dashboard",
		CancelURL:  b.publicURL + "/pricing",
	})
	if err != nil {
		b.metrics.RecordBillingSession("checkout", "error")
		b.logger.WithError(err).WithField("user_id", userID).Error("Failed to create checkout session")
		return "", err
	}

	b.metrics.RecordBillingSession("checkout", "success")
	return url, nil
}

// Portal returns the customer portal URL for the user's Stripe customer
func (b *Bridge) Portal(ctx context.Context, userID string) (string, error) {
	if err := b.ready(); err != nil {
		return "", err
	}

	customerID, err := b.customers.CustomerID(ctx, userID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", ErrNoCustomer
	}

	url, err := b.provider.CreatePortalSession(ctx, customerID, b.publicURL+"/dashboard")
	if err != nil {
		b.metrics.RecordBillingSession("portal", "error")
		b.logger.WithError(err).WithField("user_id", userID).Error("Failed to create portal session")
		return "", err
	}

	b.metrics.RecordBillingSession("portal", "success")
	return url, nil
}

func (b *Bridge) ready() error {
	if b.provider == nil || !b.provider.Configured() {
		return ErrBillingNotConfigured
	}
	if b.publicURL == "" {
		return ErrPublicURLNotConfigured
	}
	return nil
}

// ensureCustomer returns the user's customer, creating and linking one on
// first checkout
func (b *Bridge) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	customerID, err := b.customers.CustomerID(ctx, userID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}

	customerID, err = b.provider.CreateCustomer(ctx, email, userID)
	if err != nil {
		return "", err
	}
	if err := b.customers.AttachCustomer(ctx, userID, customerID); err != nil {
		return "", err
	}

	b.logger.WithFields(map[string]interface{}{
		"user_id":     userID,
		"customer_id": customerID,
	}).Info("Created Stripe customer")
	return customerID, nil
}
