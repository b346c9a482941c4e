package wire

import (
	"net/http"

	"expert-booking/internal/adaptor"
	"expert-booking/pkg/middleware"
	"expert-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wirePayment(
	r chi.Router,
	paymentHandler *adaptor.PaymentHandler,
	authenticate func(http.Handler) http.Handler,
	log *zap.Logger,
) {
	// ==================== CLIENT ROUTES ====================
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(log, utils.RoleClient))

		// POST /api/bookings/{slotId}/checkout - Open a hosted checkout for a held slot
		r.Post("/api/bookings/{slotId}/checkout", paymentHandler.StartCheckout)
	})

	// ==================== PROVIDER ROUTES ====================
	// POST /api/payments/webhook - Authenticated by the provider signature, not a bearer token
	r.Post("/api/payments/webhook", paymentHandler.Webhook)
}
