package adaptor

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"expert-booking/internal/dto/request"
	"expert-booking/internal/usecase"
	"expert-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	errorResponder
	service usecase.PaymentService
}

func NewPaymentHandler(service usecase.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		errorResponder: errorResponder{log: log.With(zap.String("handler", "payment"))},
		service:        service,
	}
}

// StartCheckout handles POST /api/bookings/{slotId}/checkout (slot client)
func (h *PaymentHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	// an empty body means no promo and default redirect urls
	var req request.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	checkout, err := h.service.StartCheckout(r.Context(), principal, chi.URLParam(r, "slotId"), &req)
	if err != nil {
		h.handleServiceError(w, err, "start checkout")
		return
	}

	utils.ResponseSuccess(w, "Checkout started", checkout)
}

// Webhook handles POST /api/payments/webhook (provider signature)
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.handleServiceError(w, err, "handle payment webhook")
		return
	}

	utils.ResponseSuccess(w, "received", nil)
}
