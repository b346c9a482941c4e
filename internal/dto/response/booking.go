package response

import (
	"time"

	"expert-booking/internal/data/entity"
)

type BookedSlotResponse struct {
	ID                  string     `json:"id"`
	ExpertID            string     `json:"expert_id"`
	ClientID            string     `json:"client_id"`
	SpecialtyID         string     `json:"specialty_id"`
	Date                string     `json:"date"`
	Start               string     `json:"start"`
	End                 string     `json:"end"`
	Duration            int        `json:"duration"`
	Price               string     `json:"price"`
	AmountDue           *string    `json:"amount_due,omitempty"`
	Visio               bool       `json:"visio"`
	Location            *string    `json:"location,omitempty"`
	State               string     `json:"state"`
	Cancel              bool       `json:"cancel"`
	Paid                bool       `json:"paid"`
	Ended               bool       `json:"ended"`
	HoldExpiresAt       *time.Time `json:"hold_expires_at,omitempty"`
	CheckoutURL         *string    `json:"checkout_url,omitempty"`
	Authorized          bool       `json:"authorized"`
	CaptureScheduledFor *time.Time `json:"capture_scheduled_for,omitempty"`
	CapturedAt          *time.Time `json:"captured_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type CheckoutResponse struct {
	SlotID    string    `json:"slot_id"`
	SessionID string    `json:"session_id"`
	URL       string    `json:"url"`
	AmountDue string    `json:"amount_due"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BookedSlotToResponse renders a slot as seen at now. Slots whose end already
// passed report ended even before the sweep persists it.
func BookedSlotToResponse(slot *entity.BookedSlot, now time.Time, loc *time.Location) BookedSlotResponse {
	resp := BookedSlotResponse{
		ID:                  slot.ID.String(),
		ExpertID:            slot.ExpertID.String(),
		ClientID:            slot.ClientID.String(),
		SpecialtyID:         slot.SpecialtyID.String(),
		Date:                slot.Date.String(),
		Start:               slot.Start.String(),
		End:                 slot.End.String(),
		Duration:            slot.Duration(),
		Price:               slot.Price.StringFixed(2),
		Visio:               slot.Visio,
		Location:            slot.Location,
		State:               string(slot.State(now)),
		Cancel:              slot.Cancel,
		Paid:                slot.Paid,
		Ended:               slot.Ended || slot.EndsAt(loc).Before(now),
		HoldExpiresAt:       slot.HoldExpiresAt,
		CheckoutURL:         slot.CheckoutURL,
		Authorized:          slot.Authorized,
		CaptureScheduledFor: slot.CaptureScheduledFor,
		CapturedAt:          slot.CapturedAt,
		CreatedAt:           slot.CreatedAt,
	}
	if slot.AmountDue != nil {
		due := slot.AmountDue.StringFixed(2)
		resp.AmountDue = &due
	}
	return resp
}
