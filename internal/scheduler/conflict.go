package scheduler

// DetectConflicts returns every blocking meeting in existing that overlaps
// candidate and shares at least one attendee with participantIDs. The meeting
// identified by excludeMeetingID, when non-empty, is never reported so a
// meeting does not conflict with its own prior version. Results keep the
// order of existing.
//
// Callers usually pass a repository pre-filtered set; overlap and attendee
// membership are re-checked here regardless.
func DetectConflicts(candidate Interval, participantIDs []string, existing []Meeting, excludeMeetingID string) []Meeting {
	if len(existing) == 0 || len(participantIDs) == 0 {
		return nil
	}

	wanted := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		if id != "" {
			wanted[id] = struct{}{}
		}
	}

	var conflicts []Meeting
	for _, meeting := range existing {
		if excludeMeetingID != "" && meeting.ID == excludeMeetingID {
			continue
		}
		if !meeting.Status.Blocks() {
			continue
		}
		if !Overlaps(candidate, meeting.Interval) {
			continue
		}
		if !sharesAttendee(meeting, wanted) {
			continue
		}
		conflicts = append(conflicts, meeting)
	}
	return conflicts
}

// HasConflict reports whether DetectConflicts would return any meeting.
func HasConflict(candidate Interval, participantIDs []string, existing []Meeting, excludeMeetingID string) bool {
	return len(DetectConflicts(candidate, participantIDs, existing, excludeMeetingID)) > 0
}

func sharesAttendee(meeting Meeting, wanted map[string]struct{}) bool {
	if _, ok := wanted[meeting.OrganizerID]; ok {
		return true
	}
	for _, p := range meeting.Participants {
		if _, ok := wanted[p.UserID]; ok {
			return true
		}
	}
	return false
}
