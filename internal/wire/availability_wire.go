package wire

import (
	"net/http"

	"expert-booking/internal/adaptor"
	"expert-booking/pkg/middleware"
	"expert-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireAvailability(
	r chi.Router,
	availabilityHandler *adaptor.AvailabilityHandler,
	authenticate func(http.Handler) http.Handler,
	log *zap.Logger,
) {
	// ==================== PUBLIC ROUTES ====================
	// GET /api/availability/{expertId}?duration=&specialtyId= - Bookable start times over the horizon
	r.Get("/api/availability/{expertId}", availabilityHandler.GetAvailability)

	// ==================== EXPERT ROUTES ====================
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(log, utils.RoleExpert, utils.RoleAdmin))

		// PATCH /api/experts/{id}/weekly-schedule - Replace the template (the expert or an admin)
		r.Patch("/api/experts/{id}/weekly-schedule", availabilityHandler.UpdateWeeklySchedule)
	})
}
