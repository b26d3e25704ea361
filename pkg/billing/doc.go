// Package billing connects users to Stripe's hosted checkout and customer
// portal, and owns the plan table that turns a Stripe price into a monthly
// generation quota.
//
// # Plans
//
// Two plans ship by default:
//
//	basic  STRIPE_PRICE_BASIC   50 generations per period
//	pro    STRIPE_PRICE_PRO    200 generations per period
//
// LUMEN_PLANS_FILE may point at a YAML file that overrides or adds plans:
//
//	default_quota: 50
//	plans:
//	  - name: pro
//	    price_id: price_123
//	    quota: 250
//
// A price that matches no plan resolves to the default quota.
//
// # Checkout
//
//	url, err := bridge.Checkout(ctx, userID, email, billing.CheckoutRequest{Plan: "pro"})
//
// The bridge finds or creates the user's Stripe customer, links it in the
// ledger and returns the hosted checkout URL. The resulting subscription is
// recorded later by the webhook reconciler, never by the bridge.
//
// # Related Packages
//
//   - pkg/ledger: subscription records
//   - pkg/webhook: Stripe event reconciliation
package billing
