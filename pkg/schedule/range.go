// Package schedule holds the date-range math shared by the availability and
// conflict checks. Every overlap decision in the service goes through
// Overlaps so the inclusive-boundary rule lives in exactly one place.
package schedule

import "time"

// DateRange is an inclusive [Start, End] interval.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalizes start/end ordering.
func NewDateRange(start, end time.Time) DateRange {
	if end.Before(start) {
		start, end = end, start
	}
	return DateRange{Start: start, End: end}
}

// IsZero reports whether both bounds are unset.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Overlaps reports whether two inclusive ranges share at least one day.
// A shared boundary day counts: a unit cannot be at the last day of one job
// and the first day of the next at the same time.
func (r DateRange) Overlaps(other DateRange) bool {
	return !r.Start.After(other.End) && !r.End.Before(other.Start)
}

// Contains reports whether t falls inside the range, boundaries included.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Intersection returns the overlapping part of two ranges. The boolean is
// false when the ranges do not overlap.
func (r DateRange) Intersection(other DateRange) (DateRange, bool) {
	if !r.Overlaps(other) {
		return DateRange{}, false
	}

	start := r.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := r.End
	if other.End.Before(end) {
		end = other.End
	}

	return DateRange{Start: start, End: end}, true
}

// Days returns the number of calendar days the range spans, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}
