package usecase

import (
	"expert-booking/internal/data/entity"
	"expert-booking/pkg/payment"
)

// transitions lists the payment events each state accepts. Anything missing is a
// stale or redelivered event and leaves the slot as it is.
var transitions = map[entity.SlotState]map[payment.EventKind]entity.SlotState{
	entity.SlotStateHeld: {
		payment.EventAuthorized:     entity.SlotStateAuthorized,
		payment.EventCaptured:       entity.SlotStateCaptured,
		payment.EventCheckoutFailed: entity.SlotStateCancelled,
	},
	entity.SlotStateCheckoutStarted: {
		payment.EventAuthorized:     entity.SlotStateAuthorized,
		payment.EventCaptured:       entity.SlotStateCaptured,
		payment.EventCheckoutFailed: entity.SlotStateCancelled,
	},
	// A payment landing here only stands if the interval is still free.
	entity.SlotStateHoldExpired: {
		payment.EventAuthorized:     entity.SlotStateAuthorized,
		payment.EventCaptured:       entity.SlotStateCaptured,
		payment.EventCheckoutFailed: entity.SlotStateCancelled,
	},
	entity.SlotStateAuthorized: {
		payment.EventCaptured:              entity.SlotStateCaptured,
		payment.EventAuthorizationCanceled: entity.SlotStateVoided,
	},
}

func nextState(from entity.SlotState, kind payment.EventKind) (entity.SlotState, bool) {
	to, ok := transitions[from][kind]
	return to, ok
}
