package calendar

import "time"

// CaptureRule fixes the weekly capture moment, e.g. every Monday at 10:00.
type CaptureRule struct {
	Weekday  time.Weekday
	At       Clock
	Location *time.Location
}

// Next returns the first rule occurrence strictly after from, rolled forward by
// whole weeks until it is strictly after appointmentEnd.
func (r CaptureRule) Next(from, appointmentEnd time.Time) time.Time {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)
	day := DateOf(local)
	offset := (int(r.Weekday) - int(day.Weekday()) + 7) % 7
	next := day.AddDays(offset).At(r.At, loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	for !next.After(appointmentEnd) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
