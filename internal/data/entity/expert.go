package entity

import (
	"expert-booking/internal/calendar"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Durations with a configurable price.
var PriceTierDurations = []int{15, 30, 45, 60, 90}

type Expert struct {
	BaseNoDelete
	DisplayName    string                  `db:"display_name"`
	WeeklySchedule calendar.WeeklySchedule `db:"weekly_schedule"`
	GapMinutes     int                     `db:"gap_minutes"`
	BookedSlotIDs  []uuid.UUID             `db:"booked_slot_ids"`
}

// SpecialtyOffering is what an expert charges for one specialty.
type SpecialtyOffering struct {
	ExpertID        uuid.UUID               `db:"expert_id"`
	SpecialtyID     uuid.UUID               `db:"specialty_id"`
	LeadTimeMinutes *int                    `db:"lead_time_minutes"`
	Prices          map[int]decimal.Decimal `db:"-"`
}

type Client struct {
	BaseNoDelete
	BookedSlotIDs []uuid.UUID `db:"booked_slot_ids"`
}
