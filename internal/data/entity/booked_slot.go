package entity

import (
	"time"

	"expert-booking/internal/calendar"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SlotState is the payment-hold state of a booked slot, derived from its stored flags.
type SlotState string

const (
	SlotStateHeld            SlotState = "held"
	SlotStateCheckoutStarted SlotState = "checkout_started"
	SlotStateHoldExpired     SlotState = "hold_expired"
	SlotStateAuthorized      SlotState = "authorized"
	SlotStateCaptured        SlotState = "captured"
	SlotStateVoided          SlotState = "voided"
	SlotStateCancelled       SlotState = "cancelled"
)

// Terminal states never move again on payment events.
func (s SlotState) Terminal() bool {
	return s == SlotStateCaptured || s == SlotStateVoided || s == SlotStateCancelled
}

type BookedSlot struct {
	BaseNoDelete
	ExpertID    uuid.UUID        `db:"expert_id"`
	ClientID    uuid.UUID        `db:"client_id"`
	SpecialtyID uuid.UUID        `db:"specialty_id"`
	Date        calendar.Date    `db:"date"`
	Start       calendar.Clock   `db:"start_time"`
	End         calendar.Clock   `db:"end_time"`
	Price       decimal.Decimal  `db:"price"`
	AmountDue   *decimal.Decimal `db:"amount_due"`
	Visio       bool             `db:"visio"`
	Location    *string          `db:"location"`

	Cancel bool `db:"cancel"`
	Paid   bool `db:"paid"`
	Ended  bool `db:"ended"`

	HoldExpiresAt       *time.Time `db:"hold_expires_at"`
	CheckoutSessionRef  *string    `db:"checkout_session_ref"`
	CheckoutURL         *string    `db:"checkout_url"`
	Authorized          bool       `db:"authorized"`
	PaymentIntentRef    *string    `db:"payment_intent_ref"`
	AuthorizedAt        *time.Time `db:"authorized_at"`
	CaptureScheduledFor *time.Time `db:"capture_scheduled_for"`
	CapturedAt          *time.Time `db:"captured_at"`
	PromoCode           *string    `db:"promo_code"`

	EmailConfirmationSent  bool `db:"email_confirmation_sent"`
	ExpertNotificationSent bool `db:"expert_notification_sent"`
	EmailEndedSent         bool `db:"email_ended_sent"`
}

func (s *BookedSlot) Interval() calendar.Interval {
	return calendar.Interval{Start: s.Start, End: s.End}
}

func (s *BookedSlot) Duration() int {
	return int(s.End - s.Start)
}

func (s *BookedSlot) StartsAt(loc *time.Location) time.Time {
	return s.Date.At(s.Start, loc)
}

func (s *BookedSlot) EndsAt(loc *time.Location) time.Time {
	return s.Date.At(s.End, loc)
}

func (s *BookedSlot) holdActive(now time.Time) bool {
	return s.HoldExpiresAt != nil && s.HoldExpiresAt.After(now)
}

// Blocks reports whether the slot holds the day's capacity at now.
func (s *BookedSlot) Blocks(now time.Time) bool {
	if s.Cancel {
		return false
	}
	return s.Paid ||
		s.holdActive(now) ||
		s.Authorized ||
		(s.CaptureScheduledFor != nil && s.CaptureScheduledFor.After(now))
}

// State derives the payment-hold state from the stored flags.
func (s *BookedSlot) State(now time.Time) SlotState {
	switch {
	case s.Cancel:
		return SlotStateCancelled
	case s.Paid:
		return SlotStateCaptured
	case s.Authorized:
		return SlotStateAuthorized
	case s.AuthorizedAt != nil:
		return SlotStateVoided
	case s.holdActive(now) && s.CheckoutSessionRef != nil:
		return SlotStateCheckoutStarted
	case s.holdActive(now):
		return SlotStateHeld
	default:
		return SlotStateHoldExpired
	}
}

// IsOwnedBy reports whether id is the slot's client or expert.
func (s *BookedSlot) IsOwnedBy(id uuid.UUID) bool {
	return s.ClientID == id || s.ExpertID == id
}
