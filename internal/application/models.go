package application

import (
	"time"

	"github.com/example/assistant-calendar/internal/scheduler"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// MeetingInput captures caller provided meeting fields. Participants are
// identified by email address or user id.
type MeetingInput struct {
	Title        string
	Description  string
	Location     string
	MeetingType  string
	Start        time.Time
	End          time.Time
	Participants []string
}

// Participant is an invitee of a meeting together with their response.
// Email and DisplayName are filled from the user directory when known and
// are not persisted with the meeting.
type Participant struct {
	UserID      string
	Email       string
	DisplayName string
	Status      scheduler.AttendanceStatus
}

// Meeting represents a persisted meeting.
type Meeting struct {
	ID           string
	OrganizerID  string
	Title        string
	Description  string
	Location     string
	MeetingType  string
	Start        time.Time
	End          time.Time
	Status       scheduler.MeetingStatus
	Participants []Participant
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// Version is the stored revision the meeting was read at.
	Version int64
}

// Interval returns the meeting's half-open time range.
func (m Meeting) Interval() scheduler.Interval {
	return scheduler.Interval{Start: m.Start, End: m.End}
}

// AttendeeIDs returns the organizer followed by every distinct participant.
func (m Meeting) AttendeeIDs() []string {
	return toSchedulerMeeting(m).Attendees()
}

// ParticipantStatus returns the response recorded for userID.
func (m Meeting) ParticipantStatus(userID string) (scheduler.AttendanceStatus, bool) {
	for _, p := range m.Participants {
		if p.UserID == userID {
			return p.Status, true
		}
	}
	return "", false
}

// ScheduleMeetingParams wraps the data required to schedule a meeting.
type ScheduleMeetingParams struct {
	Principal Principal
	Input     MeetingInput
}

// ScheduleResult reports the stored meeting and whether invitations went out.
type ScheduleResult struct {
	Meeting          Meeting
	NotificationSent bool
}

// MeetingActionParams identifies a meeting acted on by a principal.
type MeetingActionParams struct {
	Principal Principal
	MeetingID string
}

// RescheduleMeetingParams wraps the data required to move a meeting.
type RescheduleMeetingParams struct {
	Principal Principal
	MeetingID string
	Start     time.Time
	End       time.Time
}

// RespondParams records a participant's answer to an invitation.
type RespondParams struct {
	Principal Principal
	MeetingID string
	Status    scheduler.AttendanceStatus
}

// UserScheduleParams requests the upcoming meetings of a user.
type UserScheduleParams struct {
	Principal Principal
	UserID    string
	Days      int
}

// AvailableSlotsParams requests common free slots for a set of people.
type AvailableSlotsParams struct {
	Principal       Principal
	Participants    []string
	Date            time.Time
	DurationMinutes int
	WorkingHours    *scheduler.WorkingHours
}

// AvailableSlotsResult lists the free slots found for a day.
type AvailableSlotsResult struct {
	Date         time.Time
	Duration     time.Duration
	WorkingHours scheduler.WorkingHours
	Participants []User
	Slots        []scheduler.Interval
}

// UserInput captures caller provided user attributes.
type UserInput struct {
	Email       string
	DisplayName string
	Password    string
	IsAdmin     bool
}

// User represents an employee account exposed by the application services.
type User struct {
	ID          string
	Email       string
	DisplayName string
	IsAdmin     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateUserParams wraps the data required to create a user.
type CreateUserParams struct {
	Principal Principal
	Input     UserInput
}

// UserCredentials models the authentication attributes persisted for a user.
type UserCredentials struct {
	User         User
	PasswordHash string
}

// AuthenticateParams captures the data required to authenticate a user.
type AuthenticateParams struct {
	Email    string
	Password string
}

// AuthenticateResult captures the outcome of a successful authentication attempt.
type AuthenticateResult struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

// ConfirmPasswordResetParams carries a reset code and the replacement password.
type ConfirmPasswordResetParams struct {
	Email       string
	Code        string
	NewPassword string
}
