package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/lumen/pkg/gateway"
	"github.com/platinummonkey/lumen/pkg/httputil"
	"github.com/platinummonkey/lumen/pkg/inference"
	"github.com/platinummonkey/lumen/pkg/observability"
)

const (
	billingRequiredMessage = "Replicate API requires credits. Please add credits to your Replicate account or use a different image generation service."
	billingRequiredDetails = "The Replicate API requires payment to use. You can add credits at https://replicate.com/account/billing"
	unavailableMessage     = "Image generation service unavailable"
	unavailableFallback    = "You can add credits at https://replicate.com/account/billing to use the image generation feature."
)

// unavailableResponse is the 503 body; fallback tells the user what to do next
type unavailableResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details"`
	Fallback string `json:"fallback"`
}

// generate handles POST /api/generate
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		httputil.WriteInternalError(w, "Server configuration error")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)

	req := &gateway.Request{UserID: userID(r)}
	file, err := httputil.ReadFormFile(r, "image", s.deps.MaxUploadBytes)
	switch {
	case errors.Is(err, httputil.ErrMissingFile):
	case err != nil:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		httputil.WriteBadRequest(w, "Invalid form data")
		return
	default:
		req.Image = file.Data
		req.Filename = file.Filename
		req.ContentType = file.ContentType
	}
	req.Prompt = r.FormValue("prompt")
	req.Model = r.FormValue("model")

	resp, err := s.deps.Generator.Generate(r.Context(), req)
	if err != nil {
		s.writeGenerateError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	var providerErr *inference.ProviderError

	switch {
	case errors.Is(err, gateway.ErrMissingInput):
		httputil.WriteBadRequest(w, "Image and prompt are required")
	case errors.Is(err, inference.ErrUnsupportedModel):
		httputil.WriteBadRequest(w, "Unsupported model selected")
	case errors.Is(err, gateway.ErrNotConfigured):
		s.logError(r, err, "Generation is not configured")
		httputil.WriteInternalError(w, "Server configuration error")
	case errors.Is(err, gateway.ErrInputUpload):
		httputil.WriteInternalError(w, "Failed to upload image")
	case errors.Is(err, inference.ErrBillingRequired):
		httputil.WriteDetailedError(w, http.StatusPaymentRequired, billingRequiredMessage, billingRequiredDetails)
	case errors.As(err, &providerErr):
		httputil.WriteJSON(w, http.StatusServiceUnavailable, unavailableResponse{
			Error:    unavailableMessage,
			Details:  fmt.Sprintf("Replicate API error: %s. Please add credits to your Replicate account or try again later.", providerErr.Message),
			Fallback: unavailableFallback,
		})
	case errors.Is(err, gateway.ErrEmptyOutput):
		httputil.WriteInternalError(w, "No output generated from Replicate (empty response)")
	case errors.Is(err, gateway.ErrNoImageURL):
		httputil.WriteInternalError(w, "No image URL returned from Replicate")
	case errors.Is(err, gateway.ErrOutputUpload):
		httputil.WriteInternalError(w, "Failed to upload generated image")
	case errors.Is(err, gateway.ErrProjectNotSaved):
		httputil.WriteInternalError(w, "Failed to save project")
	default:
		s.logError(r, err, "Generation failed")
		httputil.WriteInternalError(w, "Internal server error")
	}
}

// listModels handles GET /api/models
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"models": inference.Models()})
}

func (s *Server) logError(r *http.Request, err error, message string) {
	observability.FromContext(r.Context()).WithComponent("api").WithError(err).Error(message)
}
