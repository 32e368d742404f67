package scheduler

import "time"

// FindAvailableSlots lists every grid-aligned slot of the given duration
// inside the working window of day during which none of participantIDs has a
// blocking meeting. Slots use the default 30 minute grid and are returned in
// ascending order.
func FindAvailableSlots(day time.Time, participantIDs []string, duration time.Duration, hours WorkingHours, existing []Meeting) []Interval {
	return FindAvailableSlotsWithStep(day, participantIDs, duration, hours, existing, DefaultSlotStep)
}

// FindAvailableSlotsWithStep is FindAvailableSlots with an explicit grid step.
func FindAvailableSlotsWithStep(day time.Time, participantIDs []string, duration time.Duration, hours WorkingHours, existing []Meeting, step time.Duration) []Interval {
	window := WorkingWindow(day, hours)
	if !window.Valid() {
		return nil
	}

	relevant := meetingsWithin(window, existing)

	var slots []Interval
	for candidate := range GenerateGrid(window, duration, step) {
		if HasConflict(candidate, participantIDs, relevant, "") {
			continue
		}
		slots = append(slots, candidate)
	}
	return slots
}

// meetingsWithin drops meetings that cannot touch the window so the per-slot
// check only walks the day's commitments.
func meetingsWithin(window Interval, existing []Meeting) []Meeting {
	out := make([]Meeting, 0, len(existing))
	for _, meeting := range existing {
		if meeting.Status.Blocks() && Overlaps(window, meeting.Interval) {
			out = append(out, meeting)
		}
	}
	return out
}
