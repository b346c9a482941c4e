package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidRange = errors.New("invalid time range")

// Range is a same-day [Start, End) window of availability.
type Range struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (r Range) Minutes() int { return int(r.End - r.Start) }

// Contains reports whether [start, end) lies entirely inside r.
func (r Range) Contains(start, end Clock) bool {
	return start >= r.Start && end <= r.End
}

func (r Range) Validate() error {
	if r.Start < 0 || r.End > MinutesPerDay {
		return fmt.Errorf("%w: %s-%s is outside the day", ErrInvalidRange, r.Start, r.End)
	}
	if r.Start >= r.End {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// ValidateRanges checks each range and rejects overlaps once sorted.
func ValidateRanges(ranges []Range) error {
	sorted := SortRanges(ranges)
	for i, r := range sorted {
		if err := r.Validate(); err != nil {
			return err
		}
		if i > 0 && sorted[i-1].End > r.Start {
			return fmt.Errorf("%w: %s-%s overlaps %s-%s", ErrInvalidRange,
				sorted[i-1].Start, sorted[i-1].End, r.Start, r.End)
		}
	}
	return nil
}

// SortRanges returns a copy of ranges ordered by start time.
func SortRanges(ranges []Range) []Range {
	out := make([]Range, len(ranges))
	copy(out, ranges)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// AnyContains reports whether one of ranges holds [start, end).
func AnyContains(ranges []Range, start, end Clock) bool {
	for _, r := range ranges {
		if r.Contains(start, end) {
			return true
		}
	}
	return false
}

// WeeklySchedule is an expert's recurring template, keyed like the stored JSON document.
type WeeklySchedule struct {
	Monday    []Range `json:"mon"`
	Tuesday   []Range `json:"tue"`
	Wednesday []Range `json:"wed"`
	Thursday  []Range `json:"thu"`
	Friday    []Range `json:"fri"`
	Saturday  []Range `json:"sat"`
	Sunday    []Range `json:"sun"`
}

func (w WeeklySchedule) RangesFor(day time.Weekday) []Range {
	switch day {
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	default:
		return w.Sunday
	}
}

func (w WeeklySchedule) Validate() error {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if err := ValidateRanges(w.RangesFor(day)); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
	}
	return nil
}

// Normalized returns the schedule with every day's ranges sorted.
func (w WeeklySchedule) Normalized() WeeklySchedule {
	return WeeklySchedule{
		Monday:    SortRanges(w.Monday),
		Tuesday:   SortRanges(w.Tuesday),
		Wednesday: SortRanges(w.Wednesday),
		Thursday:  SortRanges(w.Thursday),
		Friday:    SortRanges(w.Friday),
		Saturday:  SortRanges(w.Saturday),
		Sunday:    SortRanges(w.Sunday),
	}
}
