package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/prudhvinik1/m3upanel/internal/services"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBytes = 64 << 10

type checkoutResponse struct {
	URL string `json:"url"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// CreateCheckoutSession handles POST /stripe/create-checkout-session.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	s, _ := SessionFromContext(r.Context())

	url, err := h.payments.CreateCheckout(r.Context(), s)
	if errors.Is(err, services.ErrDeviceNotFound) {
		h.endStaleSession(w, r)
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err != nil {
		// Processor errors are logged by writeError and never echoed.
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{URL: url})
}

// StripeWebhook handles POST /stripe/webhook. The raw body is needed for
// signature verification, so it is read before any decoding.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true})
}
