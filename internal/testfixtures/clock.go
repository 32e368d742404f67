package testfixtures

import (
	"sync"
	"time"

	"github.com/example/assistant-calendar/internal/scheduler"
)

// Clock is a settable UTC time source that also answers calendar questions
// relative to the instant it currently shows.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start.UTC()}
}

// Now reports the clock's instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowFunc returns Now for injection into services; a nil clock yields time.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Day returns UTC midnight offset days away from the clock's current day.
func (c *Clock) Day(offset int) time.Time {
	now := c.Now()
	return time.Date(now.Year(), now.Month(), now.Day()+offset, 0, 0, 0, 0, time.UTC)
}

// At returns hour:minute UTC on the day offset days from today.
func (c *Clock) At(offset, hour, minute int) time.Time {
	return c.Day(offset).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// WorkingDay returns the bookable window of the day offset days from today.
func (c *Clock) WorkingDay(offset int, hours scheduler.WorkingHours) scheduler.Interval {
	return scheduler.WorkingWindow(c.Day(offset), hours)
}
