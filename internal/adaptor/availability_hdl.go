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

type AvailabilityHandler struct {
	errorResponder
	service usecase.AvailabilityService
}

func NewAvailabilityHandler(service usecase.AvailabilityService, log *zap.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		errorResponder: errorResponder{log: log.With(zap.String("handler", "availability"))},
		service:        service,
	}
}

// GetAvailability handles GET /api/availability/{expertId} (public)
func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	expertID := chi.URLParam(r, "expertId")
	if expertID == "" {
		utils.ResponseBadRequest(w, "Expert ID is required", nil)
		return
	}

	query := r.URL.Query()
	req := request.AvailabilityRequest{
		Duration:    utils.ParseInt(query.Get("duration"), 0),
		SpecialtyID: query.Get("specialtyId"),
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	availability, err := h.service.GetAvailability(r.Context(), expertID, &req)
	if err != nil {
		h.handleServiceError(w, err, "get availability")
		return
	}

	utils.ResponseSuccess(w, "success", availability)
}

// UpdateWeeklySchedule handles PATCH /api/experts/{id}/weekly-schedule (expert or admin)
func (h *AvailabilityHandler) UpdateWeeklySchedule(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	expertID := chi.URLParam(r, "id")
	if expertID == "" {
		utils.ResponseBadRequest(w, "Expert ID is required", nil)
		return
	}

	var req request.UpdateWeeklyScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	schedule, err := h.service.UpdateWeeklySchedule(r.Context(), principal, expertID, &req)
	if err != nil {
		h.handleServiceError(w, err, "update weekly schedule")
		return
	}

	utils.ResponseSuccess(w, "Weekly schedule updated", schedule)
}
