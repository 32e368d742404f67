// Package adapters bridges the persistence repositories to the collaborator
// interfaces consumed by the application services. The same adapters serve
// the SQLite and in-memory backends.
package adapters

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/assistant-calendar/internal/application"
	"github.com/example/assistant-calendar/internal/persistence"
	"github.com/example/assistant-calendar/internal/scheduler"
)

// MeetingRepository implements application.MeetingRepository.
type MeetingRepository struct {
	repo persistence.MeetingRepository
}

func NewMeetingRepository(repo persistence.MeetingRepository) *MeetingRepository {
	return &MeetingRepository{repo: repo}
}

func (a *MeetingRepository) CreateMeeting(ctx context.Context, meeting application.Meeting, guard application.ConflictGuard) (application.Meeting, error) {
	if err := a.repo.CreateMeeting(ctx, toPersistenceMeeting(meeting), toMeetingGuard(guard)); err != nil {
		return application.Meeting{}, err
	}
	return a.GetMeeting(ctx, meeting.ID)
}

func (a *MeetingRepository) UpdateMeeting(ctx context.Context, meeting application.Meeting, guard application.ConflictGuard) (application.Meeting, error) {
	if err := a.repo.UpdateMeeting(ctx, toPersistenceMeeting(meeting), toMeetingGuard(guard)); err != nil {
		return application.Meeting{}, err
	}
	return a.GetMeeting(ctx, meeting.ID)
}

func (a *MeetingRepository) GetMeeting(ctx context.Context, id string) (application.Meeting, error) {
	stored, err := a.repo.GetMeeting(ctx, id)
	if err != nil {
		return application.Meeting{}, err
	}
	return toApplicationMeeting(stored), nil
}

func (a *MeetingRepository) ListMeetings(ctx context.Context, filter application.MeetingRepositoryFilter) ([]application.Meeting, error) {
	models, err := a.repo.ListMeetings(ctx, toPersistenceFilter(filter))
	if err != nil {
		return nil, err
	}
	meetings := make([]application.Meeting, 0, len(models))
	for _, model := range models {
		meetings = append(meetings, toApplicationMeeting(model))
	}
	return meetings, nil
}

// toMeetingGuard lets the application's conflict check run inside the
// repository's write critical section.
func toMeetingGuard(guard application.ConflictGuard) persistence.MeetingGuard {
	if guard == nil {
		return nil
	}
	return func(existing []persistence.Meeting) error {
		converted := make([]application.Meeting, 0, len(existing))
		for _, m := range existing {
			converted = append(converted, toApplicationMeeting(m))
		}
		return guard(converted)
	}
}

// ParticipantDirectory implements application.ParticipantDirectory over the
// user repository.
type ParticipantDirectory struct {
	repo persistence.UserRepository
}

func NewParticipantDirectory(repo persistence.UserRepository) *ParticipantDirectory {
	return &ParticipantDirectory{repo: repo}
}

// ResolveParticipants treats identifiers containing "@" as email addresses and
// everything else as user ids. Users matched twice are returned once.
func (a *ParticipantDirectory) ResolveParticipants(ctx context.Context, identifiers []string) ([]application.User, []string, error) {
	users := make([]application.User, 0, len(identifiers))
	seen := make(map[string]struct{}, len(identifiers))
	var missing []string

	for _, identifier := range identifiers {
		identifier = strings.TrimSpace(identifier)
		if identifier == "" {
			continue
		}

		var (
			stored persistence.User
			err    error
		)
		if strings.Contains(identifier, "@") {
			stored, err = a.repo.GetUserByEmail(ctx, identifier)
		} else {
			stored, err = a.repo.GetUser(ctx, identifier)
		}
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				missing = append(missing, identifier)
				continue
			}
			return nil, nil, err
		}

		if _, dup := seen[stored.ID]; dup {
			continue
		}
		seen[stored.ID] = struct{}{}
		users = append(users, toApplicationUser(stored))
	}
	return users, missing, nil
}

// LookupUsers returns the known users among ids keyed by id.
func (a *ParticipantDirectory) LookupUsers(ctx context.Context, ids []string) (map[string]application.User, error) {
	out := make(map[string]application.User, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done || id == "" {
			continue
		}
		stored, err := a.repo.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = toApplicationUser(stored)
	}
	return out, nil
}

// CredentialStore implements application.CredentialStore.
type CredentialStore struct {
	repo persistence.UserRepository
	now  func() time.Time
}

func NewCredentialStore(repo persistence.UserRepository, now func() time.Time) *CredentialStore {
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{repo: repo, now: now}
}

func (a *CredentialStore) GetUserCredentialsByEmail(ctx context.Context, email string) (application.UserCredentials, error) {
	stored, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return application.UserCredentials{}, err
	}
	return application.UserCredentials{
		User:         toApplicationUser(stored),
		PasswordHash: stored.PasswordHash,
	}, nil
}

func (a *CredentialStore) GetUser(ctx context.Context, id string) (application.User, error) {
	stored, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, err
	}
	return toApplicationUser(stored), nil
}

func (a *CredentialStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	stored, err := a.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	stored.PasswordHash = passwordHash
	stored.UpdatedAt = a.now().UTC()
	return a.repo.UpdateUser(ctx, stored)
}

// UserRepository implements application.UserRepository.
type UserRepository struct {
	repo persistence.UserRepository
}

func NewUserRepository(repo persistence.UserRepository) *UserRepository {
	return &UserRepository{repo: repo}
}

func (a *UserRepository) CreateUser(ctx context.Context, user application.User, passwordHash string) (application.User, error) {
	if err := a.repo.CreateUser(ctx, toPersistenceUser(user, passwordHash)); err != nil {
		return application.User{}, err
	}
	stored, err := a.repo.GetUser(ctx, user.ID)
	if err != nil {
		return application.User{}, err
	}
	return toApplicationUser(stored), nil
}

func (a *UserRepository) ListUsers(ctx context.Context) ([]application.User, error) {
	models, err := a.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]application.User, 0, len(models))
	for _, model := range models {
		users = append(users, toApplicationUser(model))
	}
	return users, nil
}

func toApplicationUser(model persistence.User) application.User {
	return application.User{
		ID:          model.ID,
		Email:       model.Email,
		DisplayName: model.DisplayName,
		IsAdmin:     model.IsAdmin,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

func toPersistenceUser(user application.User, passwordHash string) persistence.User {
	return persistence.User{
		ID:           user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		PasswordHash: passwordHash,
		IsAdmin:      user.IsAdmin,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}

func toApplicationMeeting(model persistence.Meeting) application.Meeting {
	participants := make([]application.Participant, 0, len(model.Participants))
	for _, p := range model.Participants {
		participants = append(participants, application.Participant{
			UserID: p.UserID,
			Status: scheduler.AttendanceStatus(p.Status),
		})
	}
	return application.Meeting{
		ID:           model.ID,
		OrganizerID:  model.OrganizerID,
		Title:        model.Title,
		Description:  model.Description,
		Location:     model.Location,
		MeetingType:  model.MeetingType,
		Start:        model.Start,
		End:          model.End,
		Status:       scheduler.MeetingStatus(model.Status),
		Participants: participants,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
		Version:      model.Version,
	}
}

func toPersistenceMeeting(meeting application.Meeting) persistence.Meeting {
	participants := make([]persistence.MeetingParticipant, 0, len(meeting.Participants))
	for _, p := range meeting.Participants {
		participants = append(participants, persistence.MeetingParticipant{
			UserID: p.UserID,
			Status: string(p.Status),
		})
	}
	return persistence.Meeting{
		ID:           meeting.ID,
		OrganizerID:  meeting.OrganizerID,
		Title:        meeting.Title,
		Description:  meeting.Description,
		Location:     meeting.Location,
		MeetingType:  meeting.MeetingType,
		Start:        meeting.Start.UTC(),
		End:          meeting.End.UTC(),
		Status:       string(meeting.Status),
		Participants: participants,
		CreatedAt:    meeting.CreatedAt,
		UpdatedAt:    meeting.UpdatedAt,
		Version:      meeting.Version,
	}
}

func toPersistenceFilter(filter application.MeetingRepositoryFilter) persistence.MeetingFilter {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	return persistence.MeetingFilter{
		ParticipantIDs: append([]string(nil), filter.ParticipantIDs...),
		StartsAfter:    filter.StartsAfter,
		EndsBefore:     filter.EndsBefore,
		Statuses:       statuses,
	}
}
