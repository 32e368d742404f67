package scheduler

import "fmt"

// MeetingStatus is the lifecycle state of a meeting.
type MeetingStatus string

const (
	StatusScheduled  MeetingStatus = "scheduled"
	StatusInProgress MeetingStatus = "in_progress"
	StatusCompleted  MeetingStatus = "completed"
	StatusCancelled  MeetingStatus = "cancelled"
)

// Blocks reports whether a meeting in this state occupies its attendees' time.
func (s MeetingStatus) Blocks() bool {
	return s == StatusScheduled || s == StatusInProgress
}

// Terminal reports whether no further transitions are possible.
func (s MeetingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s MeetingStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s to next.
//
//	scheduled -> in_progress -> completed
//	scheduled | in_progress -> cancelled
func (s MeetingStatus) CanTransition(next MeetingStatus) bool {
	switch s {
	case StatusScheduled:
		return next == StatusInProgress || next == StatusCompleted || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

// AttendanceStatus records a participant's response to an invitation.
type AttendanceStatus string

const (
	AttendanceInvited   AttendanceStatus = "invited"
	AttendanceAccepted  AttendanceStatus = "accepted"
	AttendanceDeclined  AttendanceStatus = "declined"
	AttendanceTentative AttendanceStatus = "tentative"
)

// ParseAttendanceStatus converts a wire value into an AttendanceStatus.
func ParseAttendanceStatus(value string) (AttendanceStatus, error) {
	switch status := AttendanceStatus(value); status {
	case AttendanceInvited, AttendanceAccepted, AttendanceDeclined, AttendanceTentative:
		return status, nil
	}
	return "", fmt.Errorf("scheduler: unknown attendance status %q", value)
}

// Participant is an invited user and their response.
type Participant struct {
	UserID string
	Status AttendanceStatus
}

// Meeting is the read snapshot of a persisted meeting used by the detector.
type Meeting struct {
	ID           string
	OrganizerID  string
	Participants []Participant
	Interval     Interval
	Status       MeetingStatus
}

// Attendees returns the organizer followed by the participants, without
// duplicates and in display order.
func (m Meeting) Attendees() []string {
	seen := make(map[string]struct{}, len(m.Participants)+1)
	out := make([]string, 0, len(m.Participants)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(m.OrganizerID)
	for _, p := range m.Participants {
		add(p.UserID)
	}
	return out
}

// WorkingHours is a per-day window expressed as whole hours in UTC.
type WorkingHours struct {
	Start int
	End   int
}

// DefaultWorkingHours is 09:00-17:00.
var DefaultWorkingHours = WorkingHours{Start: 9, End: 17}

// Validate checks that both bounds fall in 0-23 and Start precedes End.
func (h WorkingHours) Validate() error {
	if h.Start < 0 || h.Start > 23 || h.End < 0 || h.End > 23 {
		return fmt.Errorf("scheduler: working hours must be between 0 and 23")
	}
	if h.Start >= h.End {
		return fmt.Errorf("scheduler: working hours start must be before end")
	}
	return nil
}
