package response

import (
	"expert-booking/internal/calendar"
)

type AvailabilityResponse struct {
	ExpertID string                    `json:"expert_id"`
	Duration int                       `json:"duration"`
	LeadTime int                       `json:"lead_time"`
	Gap      int                       `json:"gap"`
	Days     []DayAvailabilityResponse `json:"days"`
}

type DayAvailabilityResponse struct {
	Date    string              `json:"date"`
	Weekday string              `json:"weekday"`
	Ranges  []calendar.Range    `json:"ranges"`
	Slots   []calendar.Interval `json:"slots"`
}

type WeeklyScheduleResponse struct {
	ExpertID       string                  `json:"expert_id"`
	WeeklySchedule calendar.WeeklySchedule `json:"weekly_schedule"`
}
