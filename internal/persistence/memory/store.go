// Package memory provides process-local implementations of the persistence
// repositories. Data is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/example/assistant-calendar/internal/persistence"
)

// Store keeps users and meetings in maps guarded by a single lock, which also
// serialises meeting guards with the writes they protect.
type Store struct {
	mu       sync.RWMutex
	users    map[string]persistence.User
	meetings map[string]persistence.Meeting
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]persistence.User),
		meetings: make(map[string]persistence.Meeting),
	}
}

// --- UserRepository implementation ---

// CreateUser stores a new user.
func (s *Store) CreateUser(ctx context.Context, user persistence.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.ID == "" || user.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("memory: user %s: %w", user.ID, persistence.ErrDuplicate)
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	user.Email = normalizeEmail(user.Email)
	s.users[user.ID] = user
	return nil
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(ctx context.Context, user persistence.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = existing.CreatedAt
	s.users[user.ID] = user
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail retrieves a user by case-insensitive email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := normalizeEmail(email)
	for _, user := range s.users {
		if user.Email == lower {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

// ListUsers returns all users ordered by CreatedAt then ID.
func (s *Store) ListUsers(ctx context.Context) ([]persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]persistence.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *Store) ensureUniqueEmailLocked(id, email string) error {
	lower := normalizeEmail(email)
	for existingID, user := range s.users {
		if existingID != id && user.Email == lower {
			return fmt.Errorf("memory: email %s: %w", email, persistence.ErrDuplicate)
		}
	}
	return nil
}

// --- MeetingRepository implementation ---

// CreateMeeting stores a new meeting once guard accepts the meetings it would
// overlap.
func (s *Store) CreateMeeting(ctx context.Context, meeting persistence.Meeting, guard persistence.MeetingGuard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meeting.ID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[meeting.ID]; ok {
		return fmt.Errorf("memory: meeting %s: %w", meeting.ID, persistence.ErrDuplicate)
	}
	if err := s.validateMeetingLocked(meeting); err != nil {
		return err
	}
	if err := s.runGuardLocked(meeting, guard); err != nil {
		return err
	}

	meeting.Version = 1
	s.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

// UpdateMeeting replaces an existing meeting and its participants once guard
// accepts the meetings it would overlap. The write is refused when the stored
// version moved past meeting.Version.
func (s *Store) UpdateMeeting(ctx context.Context, meeting persistence.Meeting, guard persistence.MeetingGuard) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.meetings[meeting.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if existing.Version != meeting.Version {
		return fmt.Errorf("memory: meeting %s at version %d, write based on %d: %w",
			meeting.ID, existing.Version, meeting.Version, persistence.ErrStaleWrite)
	}
	if err := s.validateMeetingLocked(meeting); err != nil {
		return err
	}
	if err := s.runGuardLocked(meeting, guard); err != nil {
		return err
	}

	meeting.OrganizerID = existing.OrganizerID
	meeting.CreatedAt = existing.CreatedAt
	meeting.Version = existing.Version + 1
	s.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

// GetMeeting retrieves a meeting by ID.
func (s *Store) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return cloneMeeting(meeting), nil
}

// ListMeetings returns meetings matching the filter ordered by Start then ID.
func (s *Store) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked(filter, ""), nil
}

func (s *Store) listLocked(filter persistence.MeetingFilter, excludeID string) []persistence.Meeting {
	meetings := make([]persistence.Meeting, 0)
	for id, meeting := range s.meetings {
		if id == excludeID || !filter.Matches(meeting) {
			continue
		}
		meetings = append(meetings, cloneMeeting(meeting))
	}
	sort.Slice(meetings, func(i, j int) bool {
		if meetings[i].Start.Equal(meetings[j].Start) {
			return meetings[i].ID < meetings[j].ID
		}
		return meetings[i].Start.Before(meetings[j].Start)
	})
	return meetings
}

func (s *Store) runGuardLocked(meeting persistence.Meeting, guard persistence.MeetingGuard) error {
	if guard == nil {
		return nil
	}
	return guard(s.listLocked(persistence.GuardFilter(meeting), meeting.ID))
}

func (s *Store) validateMeetingLocked(meeting persistence.Meeting) error {
	if !meeting.End.After(meeting.Start) {
		return persistence.ErrConstraintViolation
	}
	switch meeting.Status {
	case persistence.MeetingStatusScheduled, persistence.MeetingStatusInProgress,
		persistence.MeetingStatusCompleted, persistence.MeetingStatusCancelled:
	default:
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.users[meeting.OrganizerID]; !ok {
		return fmt.Errorf("memory: organizer %s: %w", meeting.OrganizerID, persistence.ErrForeignKeyViolation)
	}
	seen := make(map[string]struct{}, len(meeting.Participants))
	for _, participant := range meeting.Participants {
		if _, ok := s.users[participant.UserID]; !ok {
			return fmt.Errorf("memory: participant %s: %w", participant.UserID, persistence.ErrForeignKeyViolation)
		}
		if _, dup := seen[participant.UserID]; dup {
			return fmt.Errorf("memory: participant %s listed twice: %w", participant.UserID, persistence.ErrDuplicate)
		}
		seen[participant.UserID] = struct{}{}
	}
	return nil
}

func cloneMeeting(meeting persistence.Meeting) persistence.Meeting {
	clone := meeting
	if meeting.Participants != nil {
		clone.Participants = make([]persistence.MeetingParticipant, len(meeting.Participants))
		copy(clone.Participants, meeting.Participants)
	}
	return clone
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
