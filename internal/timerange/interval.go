// Package timerange holds half-open time intervals and the set operations the
// availability engine is built on.
package timerange

import (
	"sort"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds an interval from a start and a duration.
func New(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Empty reports whether the interval covers no time.
func (i Interval) Empty() bool {
	return !i.End.After(i.Start)
}

// Overlaps reports whether the two intervals share any instant. Touching
// intervals ([a,b) and [b,c)) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// In converts both bounds to loc.
func (i Interval) In(loc *time.Location) Interval {
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

// Merge sorts intervals by start and coalesces overlapping or adjacent ones.
// Empty intervals are dropped. The input slice is not modified.
func Merge(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Empty() {
			continue
		}
		sorted = append(sorted, iv)
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Start.Equal(sorted[b].Start) {
			return sorted[a].End.Before(sorted[b].End)
		}
		return sorted[a].Start.Before(sorted[b].Start)
	})

	var out []Interval
	for _, iv := range sorted {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract removes the merged busy set from window and returns the remaining
// free sub-intervals in order. busy must already be merged.
func Subtract(window Interval, busy []Interval) []Interval {
	if window.Empty() {
		return nil
	}
	var free []Interval
	cursor := window.Start
	for _, b := range busy {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(window.End) {
			break
		}
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(window.End) {
			return free
		}
	}
	if cursor.Before(window.End) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	return free
}

// AnyOverlap reports whether candidate intersects any interval in set.
func AnyOverlap(candidate Interval, set []Interval) bool {
	for _, iv := range set {
		if candidate.Overlaps(iv) {
			return true
		}
	}
	return false
}
