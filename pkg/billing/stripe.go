package billing

import (
	"context"
	"errors"
	"sync"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// CheckoutParams describes a subscription checkout session
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

// PaymentProvider creates customers and hosted sessions
type PaymentProvider interface {
	Configured() bool
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// ProviderError carries the message of a failed Stripe call
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error { return e.Err }

// StripeProvider implements PaymentProvider with a stripe-go client that is
// built on first use.
type StripeProvider struct {
	secretKey string
	backends  *stripe.Backends

	once sync.Once
	api  *client.API
}

// NewStripeProvider creates a provider for secretKey. backends may be nil
// to use the production API.
func NewStripeProvider(secretKey string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{secretKey: secretKey, backends: backends}
}

// Configured reports whether a secret key is present
func (p *StripeProvider) Configured() bool {
	return p.secretKey != ""
}

func (p *StripeProvider) client() (*client.API, error) {
	if !p.Configured() {
		return nil, ErrBillingNotConfigured
	}
	p.once.Do(func() {
		p.api = &client.API{}
		p.api.Init(p.secretKey, p.backends)
	})
	return p.api, nil
}

// CreateCustomer creates a customer tagged with the user id
func (p *StripeProvider) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	sc, err := p.client()
	if err != nil {
		return "", err
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{"user_id": userID},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx

	cust, err := sc.Customers.New(params)
	if err != nil {
		return "", providerError(err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout and returns its URL
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (string, error) {
	sc, err := p.client()
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(cp.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		ClientReferenceID:   stripe.String(cp.UserID),
		SuccessURL:          stripe.String(cp.SuccessURL),
		CancelURL:           stripe.String(cp.CancelURL),
		Metadata:            map[string]string{"price_id": cp.PriceID},
	}
	params.Context = ctx

	sess, err := sc.CheckoutSessions.New(params)
	if err != nil {
		return "", providerError(err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the customer portal and returns its URL
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	sc, err := p.client()
	if err != nil {
		return "", err
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := sc.BillingPortalSessions.New(params)
	if err != nil {
		return "", providerError(err)
	}
	return sess.URL, nil
}

func providerError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return &ProviderError{Message: stripeErr.Msg, Err: err}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}
