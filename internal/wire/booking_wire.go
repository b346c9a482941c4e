package wire

import (
	"net/http"

	"expert-booking/internal/adaptor"
	"expert-booking/pkg/middleware"
	"expert-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireBooking(
	r chi.Router,
	bookingHandler *adaptor.BookingHandler,
	authenticate func(http.Handler) http.Handler,
	log *zap.Logger,
) {
	// ==================== PROTECTED ROUTES (require auth) ====================
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		// Ownership is checked by the service; admins see every slot.
		r.Get("/api/bookings/{slotId}", bookingHandler.GetSlot)
		r.Get("/api/bookings/by-checkout/{sessionId}", bookingHandler.GetSlotByCheckoutSession)

		// POST /api/bookings/{slotId}/cancel - The slot's client or expert
		r.Post("/api/bookings/{slotId}/cancel", bookingHandler.CancelAppointment)
	})

	// ==================== CLIENT ROUTES ====================
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(log, utils.RoleClient))

		// POST /api/bookings - Hold a slot
		r.Post("/api/bookings", bookingHandler.BookSlot)

		// GET /api/client/bookings - The caller's appointments
		r.Get("/api/client/bookings", bookingHandler.ListClientBookings)
	})

	// ==================== EXPERT ROUTES ====================
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(log, utils.RoleExpert))

		// GET /api/expert/bookings - The caller's appointments as an expert
		r.Get("/api/expert/bookings", bookingHandler.ListExpertBookings)
	})

	// ==================== ADMIN ROUTES ====================
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(log, utils.RoleAdmin))

		// DELETE /api/bookings/{slotId} - Remove a slot and its back-references
		r.Delete("/api/bookings/{slotId}", bookingHandler.DeleteBookedSlot)
	})
}
