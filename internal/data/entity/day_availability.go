package entity

import (
	"expert-booking/internal/calendar"

	"github.com/google/uuid"
)

type DayAvailability struct {
	BaseNoDelete
	ExpertID      uuid.UUID        `db:"expert_id"`
	Date          calendar.Date    `db:"date"`
	Ranges        []calendar.Range `db:"ranges"`
	BookedSlotIDs []uuid.UUID      `db:"booked_slot_ids"`
}

func (d *DayAvailability) Covers(start, end calendar.Clock) bool {
	return calendar.AnyContains(d.Ranges, start, end)
}
