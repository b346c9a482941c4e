package entity

import (
	"time"

	"github.com/google/uuid"
)

type PromoCode struct {
	Code          string     `db:"code"`
	PercentOff    int        `db:"percent_off"`
	Active        bool       `db:"active"`
	ValidFrom     *time.Time `db:"valid_from"`
	ValidTo       *time.Time `db:"valid_to"`
	SingleUse     bool       `db:"single_use"`
	Used          bool       `db:"used"`
	ReservedBy    *uuid.UUID `db:"reserved_by"`
	ReservedUntil *time.Time `db:"reserved_until"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (p *PromoCode) InWindow(now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return false
	}
	return true
}

// ReservedByOther reports a live reservation held by a different slot. A reservation
// without an end runs until the holder's payment is captured or voided.
func (p *PromoCode) ReservedByOther(slotID uuid.UUID, now time.Time) bool {
	if p.ReservedBy == nil || *p.ReservedBy == slotID {
		return false
	}
	return p.ReservedUntil == nil || p.ReservedUntil.After(now)
}
