package adaptor

import (
	"net/http"

	"expert-booking/internal/usecase"
	"expert-booking/pkg/utils"

	"go.uber.org/zap"
)

type Handler struct {
	Availability *AvailabilityHandler
	Booking      *BookingHandler
	Payment      *PaymentHandler
}

func NewHandler(service *usecase.Service, log *zap.Logger) *Handler {
	return &Handler{
		Availability: NewAvailabilityHandler(service.Availability, log),
		Booking:      NewBookingHandler(service.Booking, log),
		Payment:      NewPaymentHandler(service.Payment, log),
	}
}

// errorResponder maps service errors onto the response envelope.
type errorResponder struct {
	log *zap.Logger
}

func (e errorResponder) handleServiceError(w http.ResponseWriter, err error, operation string) {
	switch usecase.KindOf(err) {
	case usecase.KindValidation:
		e.log.Warn(operation+" validation failed",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case usecase.KindNotFound:
		e.log.Warn(operation+" failed - not found",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseNotFound(w, err.Error())

	case usecase.KindConflict:
		e.log.Warn(operation+" failed - conflict",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseConflict(w, err.Error())

	case usecase.KindAuthorization:
		e.log.Warn(operation+" failed - forbidden",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseForbidden(w, err.Error())

	case usecase.KindUpstreamPayment:
		e.log.Error(operation+" failed - payment provider",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseInternalError(w, "Payment provider error")

	default:
		e.log.Error("Failed to "+operation,
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseInternalError(w, "Internal server error")
	}
}

// principalOrUnauthorized writes 401 when the request carries no principal.
func principalOrUnauthorized(w http.ResponseWriter, r *http.Request) (utils.Principal, bool) {
	principal, ok := utils.GetPrincipalFromContext(r.Context())
	if !ok {
		utils.ResponseUnauthorized(w, "Authentication required")
	}
	return principal, ok
}
