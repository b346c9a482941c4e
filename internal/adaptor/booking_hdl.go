package adaptor

import (
	"encoding/json"
	"net/http"

	"expert-booking/internal/dto/request"
	"expert-booking/internal/usecase"
	"expert-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type BookingHandler struct {
	errorResponder
	service usecase.BookingService
}

func NewBookingHandler(service usecase.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{
		errorResponder: errorResponder{log: log.With(zap.String("handler", "booking"))},
		service:        service,
	}
}

// BookSlot handles POST /api/bookings (client)
func (h *BookingHandler) BookSlot(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req request.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	slot, err := h.service.BookSlot(r.Context(), principal.ID.String(), &req)
	if err != nil {
		h.handleServiceError(w, err, "book slot")
		return
	}

	utils.ResponseCreated(w, "Slot held", slot)
}

// ListClientBookings handles GET /api/client/bookings (client)
func (h *BookingHandler) ListClientBookings(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	bookings, err := h.service.ListClientBookings(r.Context(), principal.ID.String(), paginationFromQuery(r))
	if err != nil {
		h.handleServiceError(w, err, "list client bookings")
		return
	}

	utils.ResponseSuccess(w, "success", bookings)
}

// ListExpertBookings handles GET /api/expert/bookings (expert)
func (h *BookingHandler) ListExpertBookings(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	bookings, err := h.service.ListExpertBookings(r.Context(), principal.ID.String(), paginationFromQuery(r))
	if err != nil {
		h.handleServiceError(w, err, "list expert bookings")
		return
	}

	utils.ResponseSuccess(w, "success", bookings)
}

// GetSlot handles GET /api/bookings/{slotId} (owner or admin)
func (h *BookingHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	slot, err := h.service.GetSlot(r.Context(), principal, chi.URLParam(r, "slotId"))
	if err != nil {
		h.handleServiceError(w, err, "get slot")
		return
	}

	utils.ResponseSuccess(w, "success", slot)
}

// GetSlotByCheckoutSession handles GET /api/bookings/by-checkout/{sessionId} (owner or admin)
func (h *BookingHandler) GetSlotByCheckoutSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		utils.ResponseBadRequest(w, "Session ID is required", nil)
		return
	}

	slot, err := h.service.GetSlotByCheckoutSession(r.Context(), principal, sessionID)
	if err != nil {
		h.handleServiceError(w, err, "get slot by checkout session")
		return
	}

	utils.ResponseSuccess(w, "success", slot)
}

// CancelAppointment handles POST /api/bookings/{slotId}/cancel (slot client or expert)
func (h *BookingHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	slot, err := h.service.CancelAppointment(r.Context(), principal, chi.URLParam(r, "slotId"))
	if err != nil {
		h.handleServiceError(w, err, "cancel appointment")
		return
	}

	utils.ResponseSuccess(w, "Appointment cancelled", slot)
}

// ==================== ADMIN METHODS ====================

// DeleteBookedSlot handles DELETE /api/bookings/{slotId} (admin only)
func (h *BookingHandler) DeleteBookedSlot(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBookedSlot(r.Context(), chi.URLParam(r, "slotId")); err != nil {
		h.handleServiceError(w, err, "delete booked slot")
		return
	}

	utils.ResponseSuccess(w, "Booked slot deleted", nil)
}

func paginationFromQuery(r *http.Request) *request.PaginatedRequest {
	query := r.URL.Query()
	return &request.PaginatedRequest{
		Page:    utils.ParseInt(query.Get("page"), 1),
		PerPage: utils.ParseInt(query.Get("per_page"), 10),
	}
}
