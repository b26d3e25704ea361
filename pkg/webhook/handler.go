package webhook

import (
	"io"
	"net/http"

	stripewebhook "github.com/stripe/stripe-go/v79/webhook"

	"github.com/platinummonkey/lumen/pkg/contextkeys"
	"github.com/platinummonkey/lumen/pkg/httputil"
)

// MaxBodyBytes bounds the payload read from Stripe. Larger deliveries are
// refused with 413 rather than verified against a truncated body.
const MaxBodyBytes = int64(1 << 20)

// SignatureHeader carries the Stripe signature
const SignatureHeader = "Stripe-Signature"

type receivedResponse struct {
	Received bool `json:"received"`
}

// ServeHTTP verifies and applies one Stripe delivery
func (r *Reconciler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(req.Body, MaxBodyBytes+1))
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid payload")
		return
	}
	if int64(len(payload)) > MaxBodyBytes {
		r.metrics.RecordWebhook("unverified", "too_large")
		r.logger.WithFields(map[string]interface{}{
			"limit":      MaxBodyBytes,
			"request_id": contextkeys.GetRequestID(req.Context()),
		}).Warn("Stripe delivery exceeds body limit")
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	signature := req.Header.Get(SignatureHeader)
	if signature == "" || r.secret == "" {
		httputil.WriteBadRequest(w, "Missing signature")
		return
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, r.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		r.metrics.RecordWebhook("unverified", "rejected")
		r.logger.WithError(err).Warn("Stripe signature verification failed")
		httputil.WriteBadRequest(w, "Webhook Error: "+err.Error())
		return
	}

	ctx := req.Context()
	logger := r.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"request_id": contextkeys.GetRequestID(ctx),
	})

	claimed, err := r.dedup.Claim(ctx, event.ID)
	if err != nil {
		logger.WithError(err).Warn("Event de-duplication unavailable, applying anyway")
		claimed = true
	}
	if !claimed {
		r.metrics.RecordWebhook(string(event.Type), "duplicate")
		logger.Debug("Duplicate Stripe delivery acknowledged")
		httputil.WriteSuccess(w, receivedResponse{Received: true})
		return
	}

	if err := r.Apply(ctx, event); err != nil {
		if releaseErr := r.dedup.Release(ctx, event.ID); releaseErr != nil {
			logger.WithError(releaseErr).Warn("Failed to release event claim")
		}
		r.metrics.RecordWebhook(string(event.Type), "error")
		logger.WithError(err).Error("Webhook handling error")
		httputil.WriteInternalError(w, "Handler error")
		return
	}

	result := "ignored"
	if Handles(event.Type) {
		result = "applied"
		logger.Info("Stripe event applied")
	}
	r.metrics.RecordWebhook(string(event.Type), result)
	httputil.WriteSuccess(w, receivedResponse{Received: true})
}
