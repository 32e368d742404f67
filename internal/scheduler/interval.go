package scheduler

import (
	"errors"
	"iter"
	"time"
)

// DefaultSlotStep is the grid spacing used when callers do not supply one.
const DefaultSlotStep = 30 * time.Minute

// ErrInvalidInterval is returned when an interval does not satisfy start < end.
var ErrInvalidInterval = errors.New("scheduler: interval start must be before end")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval constructs an interval, rejecting empty or inverted ranges.
func NewInterval(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Valid reports whether the interval satisfies start < end.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps reports whether a and b share any instant. Back-to-back intervals
// do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// ClipToDay returns the UTC calendar day containing day, from 00:00:00.000
// through 23:59:59.999.
func ClipToDay(day time.Time) Interval {
	start := startOfDayUTC(day)
	return Interval{Start: start, End: start.Add(24*time.Hour - time.Millisecond)}
}

// WorkingWindow restricts the UTC calendar day containing day to
// [hours.Start:00, hours.End:00).
func WorkingWindow(day time.Time, hours WorkingHours) Interval {
	start := startOfDayUTC(day)
	return Interval{
		Start: start.Add(time.Duration(hours.Start) * time.Hour),
		End:   start.Add(time.Duration(hours.End) * time.Hour),
	}
}

// GenerateGrid yields fixed-length candidates starting at window.Start and
// advancing by step. A candidate whose end would pass window.End is dropped
// and ends the sequence. The returned sequence may be ranged over repeatedly.
func GenerateGrid(window Interval, duration, step time.Duration) iter.Seq[Interval] {
	if step <= 0 {
		step = DefaultSlotStep
	}
	return func(yield func(Interval) bool) {
		if duration <= 0 {
			return
		}
		for start := window.Start; ; start = start.Add(step) {
			end := start.Add(duration)
			if end.After(window.End) {
				return
			}
			if !yield(Interval{Start: start, End: end}) {
				return
			}
		}
	}
}

func startOfDayUTC(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
