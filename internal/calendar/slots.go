package calendar

import (
	"sort"
	"time"
)

// Interval is a booked or candidate [Start, End) on a single day.
type Interval struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && i.End > o.Start
}

// SlotQuery describes one materialized day to expand into bookable slots.
type SlotQuery struct {
	Date     Date
	Ranges   []Range
	Duration int
	LeadTime int
	Gap      int
	Blocking []Interval
	Now      time.Time
	Location *time.Location
}

// window forbids candidate starts s with From < s < To.
type window struct {
	From, To Clock
}

func (w window) forbids(s Clock) bool {
	return s > w.From && s < w.To
}

// forbiddenWindows turns blocking intervals into merged start windows. A candidate
// of the given duration starting inside a window would overlap a blocking interval
// widened by gap on both sides.
func forbiddenWindows(blocking []Interval, duration, gap int) []window {
	if len(blocking) == 0 {
		return nil
	}
	windows := make([]window, 0, len(blocking))
	for _, b := range blocking {
		windows = append(windows, window{
			From: b.Start.Add(-gap - duration),
			To:   b.End.Add(gap),
		})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].From < windows[j].From })

	merged := windows[:1]
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if w.From < last.To {
			if w.To > last.To {
				last.To = w.To
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// GenerateSlots expands the query's ranges into bookable intervals in chronological order.
func GenerateSlots(q SlotQuery) []Interval {
	if q.Duration <= 0 {
		return nil
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	earliest := q.Now.Add(time.Duration(q.LeadTime) * time.Minute)
	windows := forbiddenWindows(q.Blocking, q.Duration, q.Gap)

	var out []Interval
	for _, r := range SortRanges(q.Ranges) {
		current := r.Start
		for current.Add(q.Duration) <= r.End {
			if w, ok := windowAt(windows, current); ok {
				current = w.To
				continue
			}
			if q.Date.At(current, loc).Before(earliest) {
				current = current.Add(q.Duration)
				continue
			}

			candidate := Interval{Start: current, End: current.Add(q.Duration)}
			if !overlapsAny(candidate, q.Blocking) {
				out = append(out, candidate)
			}
			current = current.Add(q.Duration)
		}
	}
	return out
}

func windowAt(windows []window, s Clock) (window, bool) {
	for _, w := range windows {
		if w.From >= s {
			break
		}
		if w.forbids(s) {
			return w, true
		}
	}
	return window{}, false
}

func overlapsAny(candidate Interval, blocking []Interval) bool {
	for _, b := range blocking {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
