package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/lumen/pkg/billing"
	"github.com/platinummonkey/lumen/pkg/httputil"
	"github.com/platinummonkey/lumen/pkg/ledger"
	"github.com/platinummonkey/lumen/pkg/middleware"
	"github.com/platinummonkey/lumen/pkg/storage/postgres"
)

type sessionResponse struct {
	URL string `json:"url"`
}

// SubscriptionResponse is the caller's ledger record plus derived fields
type SubscriptionResponse struct {
	*ledger.SubscriptionRecord
	Active    bool   `json:"active"`
	Plan      string `json:"plan"`
	Remaining int    `json:"remaining"`
}

// createCheckout handles POST /api/create-subscription-checkout
func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		httputil.WriteInternalError(w, "Billing is not configured")
		return
	}

	// An unreadable body is treated as empty and reported as a missing price.
	var req billing.CheckoutRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		req = billing.CheckoutRequest{}
	}

	var email string
	if identity := middleware.GetIdentity(r); identity != nil {
		email = identity.Email
	}

	url, err := s.deps.Bridge.Checkout(r.Context(), userID(r), email, req)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sessionResponse{URL: url})
}

// createPortal handles POST /api/create-portal-session
func (s *Server) createPortal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		httputil.WriteInternalError(w, "Billing is not configured")
		return
	}

	url, err := s.deps.Bridge.Portal(r.Context(), userID(r))
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sessionResponse{URL: url})
}

func (s *Server) writeBillingError(w http.ResponseWriter, r *http.Request, err error) {
	var providerErr *billing.ProviderError

	switch {
	case errors.Is(err, billing.ErrPriceRequired):
		httputil.WriteBadRequest(w, "priceId required")
	case errors.Is(err, billing.ErrUnknownPlan):
		httputil.WriteBadRequest(w, "Unknown plan")
	case errors.Is(err, billing.ErrNoCustomer):
		httputil.WriteBadRequest(w, "No customer")
	case errors.Is(err, billing.ErrBillingNotConfigured):
		httputil.WriteInternalError(w, "Billing is not configured")
	case errors.Is(err, billing.ErrPublicURLNotConfigured):
		httputil.WriteInternalError(w, "Public URL is not configured")
	case errors.Is(err, postgres.ErrNotConfigured):
		httputil.WriteInternalError(w, "Persistence is not configured")
	case errors.As(err, &providerErr):
		httputil.WriteInternalError(w, providerErr.Message)
	default:
		s.logError(r, err, "Billing request failed")
		httputil.WriteInternalError(w, "Server error")
	}
}

// getSubscription handles GET /api/subscription
func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		httputil.WriteInternalError(w, "Persistence is not configured")
		return
	}

	record, err := s.deps.Subscriptions.EnsureUser(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, postgres.ErrNotConfigured) {
			httputil.WriteInternalError(w, "Persistence is not configured")
			return
		}
		s.logError(r, err, "Failed to load subscription")
		httputil.WriteInternalError(w, "Failed to load subscription")
		return
	}

	resp := SubscriptionResponse{
		SubscriptionRecord: record,
		Active:             record.Status.IsActive(),
		Remaining:          record.Remaining(),
	}
	if s.deps.Plans != nil {
		resp.Plan = s.deps.Plans.NameForPrice(record.StripePriceID)
	}
	httputil.WriteSuccess(w, resp)
}
