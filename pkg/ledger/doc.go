// Package ledger stores the per-user subscription and quota record.
//
// # Overview
//
// Every user owns at most one SubscriptionRecord. The record is created lazily
// (EnsureUser), linked to a Stripe customer by the checkout bridge
// (AttachCustomer), and from then on mutated only by the webhook reconciler,
// keyed by stripe_customer_id:
//
//	checkout.session.completed     -> UpsertCheckout     (status active)
//	customer.subscription.*        -> UpsertSubscription (status verbatim, quota_limit from plan)
//	customer.subscription.deleted  -> MarkCanceled
//	invoice.payment_succeeded      -> ResetQuota         (quota_used = 0)
//
// quota_limit is only ever written from plan resolution and quota_used is only
// incremented after a successful generation (IncrementQuotaUsed).
//
// # Concurrency
//
// Each mutation is a single statement, so Postgres row locking provides the
// atomicity. Applying the same event twice leaves the row unchanged apart from
// updated_at.
package ledger
