// Package payment talks to the card payment provider: hosted checkout with manual
// capture, capture/cancel of authorizations and signed webhook events.
package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MetadataSlotKey tags provider objects with the booked slot they pay for.
const MetadataSlotKey = "booked_slot_id"

var (
	ErrInvalidSignature    = errors.New("payment: invalid webhook signature")
	ErrAuthorizationClosed = errors.New("payment: authorization already captured or cancelled")
)

type CheckoutParams struct {
	SlotID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
	ExpiresAt   time.Time
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

type EventKind string

const (
	EventAuthorized            EventKind = "authorized"
	EventCaptured              EventKind = "captured"
	EventAuthorizationCanceled EventKind = "authorization_canceled"
	EventCheckoutFailed        EventKind = "checkout_failed"
	EventAccountUpdated        EventKind = "account_updated"
	EventIgnored               EventKind = "ignored"
)

// Event is a verified webhook delivery reduced to what the booking flow needs.
type Event struct {
	ID               string
	Type             string
	Kind             EventKind
	SlotID           string
	SessionRef       string
	PaymentIntentRef string
}

// MinorUnits converts an amount to the provider's integer currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
