package persistence

// BlockingStatuses are the meeting statuses that occupy attendees' time.
var BlockingStatuses = []string{MeetingStatusScheduled, MeetingStatusInProgress}

// Matches reports whether the meeting satisfies every non-empty field of the filter.
func (f MeetingFilter) Matches(m Meeting) bool {
	if f.StartsAfter != nil && !m.End.After(*f.StartsAfter) {
		return false
	}
	if f.EndsBefore != nil && !m.Start.Before(*f.EndsBefore) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, m.Status) {
		return false
	}
	if len(f.ParticipantIDs) > 0 && !intersects(m.AttendeeIDs(), f.ParticipantIDs) {
		return false
	}
	return true
}

// GuardFilter selects the meetings a MeetingGuard must see when m is written:
// blocking meetings that overlap m and share at least one attendee with it.
func GuardFilter(m Meeting) MeetingFilter {
	start, end := m.Start, m.End
	return MeetingFilter{
		ParticipantIDs: m.AttendeeIDs(),
		StartsAfter:    &start,
		EndsBefore:     &end,
		Statuses:       BlockingStatuses,
	}
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func intersects(values []string, targets []string) bool {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	for _, target := range targets {
		if _, ok := set[target]; ok {
			return true
		}
	}
	return false
}
