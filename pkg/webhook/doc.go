// Package webhook reconciles Stripe events into the quota ledger.
//
// The Reconciler is mounted at POST /api/webhooks/stripe. It verifies the
// Stripe-Signature header before anything else, then applies the event to
// the ledger keyed by stripe_customer_id. Every ledger write is an
// idempotent upsert or update, so redelivered events converge on the same
// row.
//
// When a Redis client is available, a RedisDeduper claims each event id for
// a TTL so that concurrent or repeated deliveries skip the ledger entirely.
// The claim is released when handling fails, letting Stripe's retry through.
package webhook
