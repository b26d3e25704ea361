package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/platinummonkey/lumen/pkg/billing"
	"github.com/platinummonkey/lumen/pkg/ledger"
	"github.com/platinummonkey/lumen/pkg/observability"
)

// ErrMissingCustomer is returned for events whose object carries no customer
var ErrMissingCustomer = errors.New("event has no customer")

// Ledger is the subset of the quota ledger the reconciler writes to
type Ledger interface {
	UpsertCheckout(ctx context.Context, u ledger.CheckoutUpdate) error
	UpsertSubscription(ctx context.Context, u ledger.SubscriptionUpdate) error
	MarkCanceled(ctx context.Context, customerID string) error
	ResetQuota(ctx context.Context, customerID string) error
}

// Reconciler applies verified Stripe events to the ledger
type Reconciler struct {
	ledger  Ledger
	plans   *billing.Plans
	secret  string
	dedup   Deduper
	metrics *observability.Metrics
	logger  *observability.Logger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithDeduper installs delivery de-duplication
func WithDeduper(d Deduper) Option {
	return func(r *Reconciler) {
		if d != nil {
			r.dedup = d
		}
	}
}

// WithMetrics records event outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler creates a reconciler verifying events with secret. An empty
// secret makes every delivery fail with a missing signature.
func NewReconciler(l Ledger, plans *billing.Plans, secret string, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger: l,
		plans:  plans,
		secret: secret,
		dedup:  NoopDeduper{},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("webhook")
	return r
}

// Apply dispatches a verified event. Unhandled event types are a no-op.
func (r *Reconciler) Apply(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return r.applyCheckout(ctx, event.Data.Raw)
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		return r.applySubscription(ctx, event.Data.Raw)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return r.applyCanceled(ctx, event.Data.Raw)
	case stripe.EventTypeInvoicePaymentSucceeded:
		return r.applyInvoicePaid(ctx, event.Data.Raw)
	default:
		return nil
	}
}

// Handles reports whether Apply acts on eventType
func Handles(eventType stripe.EventType) bool {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeInvoicePaymentSucceeded:
		return true
	}
	return false
}

func (r *Reconciler) applyCheckout(ctx context.Context, raw json.RawMessage) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("failed to decode checkout session: %w", err)
	}
	if sess.Customer == nil || sess.Customer.ID == "" {
		return ErrMissingCustomer
	}

	update := ledger.CheckoutUpdate{
		CustomerID: sess.Customer.ID,
		PriceID:    checkoutPrice(&sess),
		UserID:     sess.ClientReferenceID,
	}
	if sess.Subscription != nil {
		update.SubscriptionID = sess.Subscription.ID
	}
	return r.ledger.UpsertCheckout(ctx, update)
}

// checkoutPrice prefers the first line item, then the price the bridge put in
// the session metadata
func checkoutPrice(sess *stripe.CheckoutSession) string {
	if sess.LineItems != nil && len(sess.LineItems.Data) > 0 {
		if item := sess.LineItems.Data[0]; item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return sess.Metadata["price_id"]
}

func (r *Reconciler) applySubscription(ctx context.Context, raw json.RawMessage) error {
	sub, err := decodeSubscription(raw)
	if err != nil {
		return err
	}

	var priceID string
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if item := sub.Items.Data[0]; item != nil && item.Price != nil {
			priceID = item.Price.ID
		}
	}

	return r.ledger.UpsertSubscription(ctx, ledger.SubscriptionUpdate{
		CustomerID:     sub.Customer.ID,
		SubscriptionID: sub.ID,
		PriceID:        priceID,
		Status:         ledger.Status(sub.Status),
		PeriodStart:    epoch(sub.CurrentPeriodStart),
		PeriodEnd:      epoch(sub.CurrentPeriodEnd),
		QuotaLimit:     r.plans.QuotaForPrice(priceID),
	})
}

func (r *Reconciler) applyCanceled(ctx context.Context, raw json.RawMessage) error {
	sub, err := decodeSubscription(raw)
	if err != nil {
		return err
	}
	return r.ledger.MarkCanceled(ctx, sub.Customer.ID)
}

func (r *Reconciler) applyInvoicePaid(ctx context.Context, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("failed to decode invoice: %w", err)
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return ErrMissingCustomer
	}
	return r.ledger.ResetQuota(ctx, inv.Customer.ID)
}

func decodeSubscription(raw json.RawMessage) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, ErrMissingCustomer
	}
	return &sub, nil
}

// epoch converts Stripe epoch seconds; zero means unset
func epoch(seconds int64) *time.Time {
	if seconds == 0 {
		return nil
	}
	t := time.Unix(seconds, 0).UTC()
	return &t
}
