package request

import "expert-booking/internal/calendar"

type AvailabilityRequest struct {
	Duration    int    `json:"duration" validate:"required,oneof=15 30 45 60 90"`
	SpecialtyID string `json:"specialty_id" validate:"omitempty,uuid"`
}

type UpdateWeeklyScheduleRequest struct {
	WeeklySchedule calendar.WeeklySchedule `json:"weekly_schedule"`
}
