package persistence

import (
	"context"
	"time"
)

// UserRepository exposes CRUD operations for users.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// MeetingFilter narrows meeting queries. Empty fields do not filter.
// A meeting matches the time range when it overlaps (StartsAfter, EndsBefore).
type MeetingFilter struct {
	ParticipantIDs []string
	StartsAfter    *time.Time
	EndsBefore     *time.Time
	Statuses       []string
}

// MeetingGuard inspects the meetings that share an attendee with, and overlap,
// the meeting being written. It runs inside the write's atomicity boundary;
// a non-nil error aborts the write and is returned to the caller unchanged.
type MeetingGuard func(existing []Meeting) error

// MeetingRepository stores meetings and their participants. CreateMeeting
// stores version 1; UpdateMeeting fails with ErrStaleWrite unless the
// meeting's Version matches the stored one.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting, guard MeetingGuard) error
	UpdateMeeting(ctx context.Context, meeting Meeting, guard MeetingGuard) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
}
