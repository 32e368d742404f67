package persistence

import "time"

// User represents an employee account known to the assistant.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Meeting statuses as stored in the meetings.status column.
const (
	MeetingStatusScheduled  = "scheduled"
	MeetingStatusInProgress = "in_progress"
	MeetingStatusCompleted  = "completed"
	MeetingStatusCancelled  = "cancelled"
)

// Meeting represents a calendar entry stored in persistence. Start and End
// are stored in UTC.
type Meeting struct {
	ID           string
	OrganizerID  string
	Title        string
	Description  string
	Location     string
	MeetingType  string
	Start        time.Time
	End          time.Time
	Status       string
	Participants []MeetingParticipant
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// Version starts at 1 and grows by one with every update. An update must
	// carry the version it was derived from.
	Version int64
}

// MeetingParticipant is an invited user and their attendance status.
type MeetingParticipant struct {
	UserID string
	Status string
}

// AttendeeIDs returns the organizer followed by the participant IDs.
func (m Meeting) AttendeeIDs() []string {
	ids := make([]string, 0, len(m.Participants)+1)
	seen := make(map[string]struct{}, len(m.Participants)+1)
	for _, id := range append([]string{m.OrganizerID}, participantIDs(m.Participants)...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func participantIDs(participants []MeetingParticipant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids
}
