package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/assistant-calendar/internal/application"
	"github.com/example/assistant-calendar/internal/persistence"
	"github.com/example/assistant-calendar/internal/scheduler"
)

var (
	userCounter    uint64
	meetingCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// DefaultPassword satisfies the password policy and is used by fixture inputs.
const DefaultPassword = "correct horse battery"

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic user record that can be materialised
// for application or persistence tests.
type UserFixture struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := UserFixture{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		DisplayName:  fmt.Sprintf("User %03d", idx),
		PasswordHash: fmt.Sprintf("hash-%03d", idx),
		IsAdmin:      false,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserDisplayName overrides the generated display name.
func WithUserDisplayName(name string) UserOption {
	return func(f *UserFixture) {
		f.DisplayName = name
	}
}

// WithUserPasswordHash overrides the generated password hash.
func WithUserPasswordHash(hash string) UserOption {
	return func(f *UserFixture) {
		f.PasswordHash = hash
	}
}

// WithUserAdmin sets the admin flag on the generated fixture.
func WithUserAdmin(isAdmin bool) UserOption {
	return func(f *UserFixture) {
		f.IsAdmin = isAdmin
	}
}

// WithUserCreatedAt sets the created timestamp on the fixture.
func WithUserCreatedAt(t time.Time) UserOption {
	return func(f *UserFixture) {
		f.CreatedAt = t
	}
}

// WithUserUpdatedAt sets the updated timestamp on the fixture.
func WithUserUpdatedAt(t time.Time) UserOption {
	return func(f *UserFixture) {
		f.UpdatedAt = t
	}
}

// WithUserTimestamps sets both created and updated timestamps on the fixture.
func WithUserTimestamps(created, updated time.Time) UserOption {
	return func(f *UserFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Application returns the fixture as an application.User value.
func (f UserFixture) Application() application.User {
	return application.User{
		ID:          f.ID,
		Email:       f.Email,
		DisplayName: f.DisplayName,
		IsAdmin:     f.IsAdmin,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// Credentials returns the fixture as application.UserCredentials.
func (f UserFixture) Credentials() application.UserCredentials {
	creds := f.Application()
	return application.UserCredentials{
		User:         creds,
		PasswordHash: f.PasswordHash,
	}
}

// Principal returns an application.Principal derived from the fixture.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, IsAdmin: f.IsAdmin}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		PasswordHash: f.PasswordHash,
		IsAdmin:      f.IsAdmin,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Input returns the fixture as an application.UserInput.
func (f UserFixture) Input() application.UserInput {
	return application.UserInput{
		Email:       f.Email,
		DisplayName: f.DisplayName,
		Password:    DefaultPassword,
		IsAdmin:     f.IsAdmin,
	}
}

// --------------------------- Meeting fixtures ----------------------------

// MeetingFixture represents a deterministic meeting with participants.
type MeetingFixture struct {
	ID           string
	OrganizerID  string
	Title        string
	Description  string
	Location     string
	MeetingType  string
	Start        time.Time
	End          time.Time
	Status       scheduler.MeetingStatus
	Participants []MeetingParticipantFixture
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MeetingParticipantFixture is an invitee and their response.
type MeetingParticipantFixture struct {
	UserID string
	Status scheduler.AttendanceStatus
}

// MeetingOption configures the generated meeting fixture.
type MeetingOption func(*MeetingFixture)

// NewMeetingFixture returns a one hour scheduled meeting starting the day
// after ReferenceTime at 10:00 UTC.
func NewMeetingFixture(opts ...MeetingOption) MeetingFixture {
	idx := atomic.AddUint64(&meetingCounter, 1)
	day := referenceTime.Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := day.Add(10 * time.Hour)
	fixture := MeetingFixture{
		ID:          fmt.Sprintf("meeting-%03d", idx),
		OrganizerID: "organizer",
		Title:       fmt.Sprintf("Meeting %03d", idx),
		Start:       start,
		End:         start.Add(time.Hour),
		Status:      scheduler.StatusScheduled,
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMeetingID overrides the generated meeting ID.
func WithMeetingID(id string) MeetingOption {
	return func(f *MeetingFixture) {
		f.ID = id
	}
}

// WithMeetingOrganizer sets the organizer.
func WithMeetingOrganizer(id string) MeetingOption {
	return func(f *MeetingFixture) {
		f.OrganizerID = id
	}
}

// WithMeetingTitle overrides the title.
func WithMeetingTitle(title string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Title = title
	}
}

// WithMeetingTimes sets the start and end instants.
func WithMeetingTimes(start, end time.Time) MeetingOption {
	return func(f *MeetingFixture) {
		f.Start = start
		f.End = end
	}
}

// WithMeetingStatus sets the lifecycle status.
func WithMeetingStatus(status scheduler.MeetingStatus) MeetingOption {
	return func(f *MeetingFixture) {
		f.Status = status
	}
}

// WithMeetingParticipants invites the given users with status invited.
func WithMeetingParticipants(ids ...string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Participants = f.Participants[:0]
		for _, id := range ids {
			f.Participants = append(f.Participants, MeetingParticipantFixture{UserID: id, Status: scheduler.AttendanceInvited})
		}
	}
}

// WithMeetingParticipantStatus sets the response of one participant.
func WithMeetingParticipantStatus(id string, status scheduler.AttendanceStatus) MeetingOption {
	return func(f *MeetingFixture) {
		for i := range f.Participants {
			if f.Participants[i].UserID == id {
				f.Participants[i].Status = status
				return
			}
		}
		f.Participants = append(f.Participants, MeetingParticipantFixture{UserID: id, Status: status})
	}
}

// WithMeetingDetails sets the optional descriptive fields.
func WithMeetingDetails(description, location, meetingType string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Description = description
		f.Location = location
		f.MeetingType = meetingType
	}
}

// Persistence returns the fixture as a persistence.Meeting value.
func (f MeetingFixture) Persistence() persistence.Meeting {
	participants := make([]persistence.MeetingParticipant, 0, len(f.Participants))
	for _, p := range f.Participants {
		participants = append(participants, persistence.MeetingParticipant{UserID: p.UserID, Status: string(p.Status)})
	}
	return persistence.Meeting{
		ID:           f.ID,
		OrganizerID:  f.OrganizerID,
		Title:        f.Title,
		Description:  f.Description,
		Location:     f.Location,
		MeetingType:  f.MeetingType,
		Start:        f.Start,
		End:          f.End,
		Status:       string(f.Status),
		Participants: participants,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Application returns the fixture as an application.Meeting value.
func (f MeetingFixture) Application() application.Meeting {
	participants := make([]application.Participant, 0, len(f.Participants))
	for _, p := range f.Participants {
		participants = append(participants, application.Participant{UserID: p.UserID, Status: p.Status})
	}
	return application.Meeting{
		ID:           f.ID,
		OrganizerID:  f.OrganizerID,
		Title:        f.Title,
		Description:  f.Description,
		Location:     f.Location,
		MeetingType:  f.MeetingType,
		Start:        f.Start,
		End:          f.End,
		Status:       f.Status,
		Participants: participants,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Scheduler returns the fixture as a scheduler.Meeting value.
func (f MeetingFixture) Scheduler() scheduler.Meeting {
	participants := make([]scheduler.Participant, 0, len(f.Participants))
	for _, p := range f.Participants {
		participants = append(participants, scheduler.Participant{UserID: p.UserID, Status: p.Status})
	}
	return scheduler.Meeting{
		ID:           f.ID,
		OrganizerID:  f.OrganizerID,
		Interval:     scheduler.Interval{Start: f.Start, End: f.End},
		Status:       f.Status,
		Participants: participants,
	}
}
