package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/assistant-calendar/internal/persistence"
	"github.com/example/assistant-calendar/internal/scheduler"
)

// MeetingRepository captures the persistence interactions needed by the service.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting, guard ConflictGuard) (Meeting, error)
	UpdateMeeting(ctx context.Context, meeting Meeting, guard ConflictGuard) (Meeting, error)
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingRepositoryFilter) ([]Meeting, error)
}

// ConflictGuard is evaluated by the repository against the stored meetings
// that overlap the one being written and share an attendee with it. It runs
// inside the same critical section as the write; a non-nil result aborts the
// write and is returned unchanged.
type ConflictGuard func(existing []Meeting) error

// MeetingRepositoryFilter narrows queries issued to the meeting repository.
// A meeting matches the time bounds when it overlaps (StartsAfter, EndsBefore).
type MeetingRepositoryFilter struct {
	ParticipantIDs []string
	StartsAfter    *time.Time
	EndsBefore     *time.Time
	Statuses       []scheduler.MeetingStatus
}

// ParticipantDirectory resolves identifiers supplied by callers into users.
type ParticipantDirectory interface {
	// ResolveParticipants returns the users matching identifiers, each an
	// email address or a user id, together with the identifiers that matched
	// nobody.
	ResolveParticipants(ctx context.Context, identifiers []string) ([]User, []string, error)
	LookupUsers(ctx context.Context, ids []string) (map[string]User, error)
}

// Notifier delivers meeting lifecycle messages to attendees.
type Notifier interface {
	MeetingScheduled(ctx context.Context, meeting Meeting, recipients []User) error
	MeetingCancelled(ctx context.Context, meeting Meeting, recipients []User) error
	MeetingRescheduled(ctx context.Context, meeting Meeting, previous scheduler.Interval, recipients []User) error
}

// MeetingMetrics records the outcome of each service operation.
type MeetingMetrics interface {
	ObserveMeetingOperation(operation, outcome string)
}

// MeetingServiceDeps lists the collaborators of a MeetingService. Users and
// Meetings are required; the rest fall back to defaults.
type MeetingServiceDeps struct {
	Meetings     MeetingRepository
	Users        ParticipantDirectory
	Authorizer   Authorizer
	Notifier     Notifier
	Metrics      MeetingMetrics
	IDGenerator  func() string
	Now          func() time.Time
	Logger       *slog.Logger
	SlotStep     time.Duration
	WorkingHours scheduler.WorkingHours
}

// MeetingService orchestrates validation, conflict checks and persistence for
// meeting operations.
type MeetingService struct {
	meetings     MeetingRepository
	users        ParticipantDirectory
	authorizer   Authorizer
	notifier     Notifier
	metrics      MeetingMetrics
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
	slotStep     time.Duration
	workingHours scheduler.WorkingHours
}

const (
	defaultScheduleDays    = 7
	maxScheduleDays        = 90
	defaultSlotMinutes     = 60
	maxSlotMinutes         = 24 * 60
	meetingTimeGranularity = time.Second
	maxWriteAttempts       = 3
)

// NewMeetingService wires dependencies for meeting operations.
func NewMeetingService(deps MeetingServiceDeps) *MeetingService {
	if deps.Authorizer == nil {
		deps.Authorizer = OrganizerOrAdmin{}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "" }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.SlotStep <= 0 {
		deps.SlotStep = scheduler.DefaultSlotStep
	}
	if deps.WorkingHours == (scheduler.WorkingHours{}) {
		deps.WorkingHours = scheduler.DefaultWorkingHours
	}
	return &MeetingService{
		meetings:     deps.Meetings,
		users:        deps.Users,
		authorizer:   deps.Authorizer,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		idGenerator:  deps.IDGenerator,
		now:          deps.Now,
		logger:       defaultLogger(deps.Logger),
		slotStep:     deps.SlotStep,
		workingHours: deps.WorkingHours,
	}
}

func (s *MeetingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MeetingService", operation, attrs...)
}

func (s *MeetingService) finish(ctx context.Context, logger *slog.Logger, operation string, err error, attrs ...any) {
	if s.metrics != nil {
		s.metrics.ObserveMeetingOperation(operation, outcomeLabel(err))
	}
	if err != nil {
		level := slog.LevelWarn
		if kind := ErrorKind(err); kind == "repository" || kind == "unexpected" {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "meeting operation failed", "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.With(attrs...).InfoContext(ctx, "meeting operation succeeded")
}

func (s *MeetingService) ready() error {
	if s == nil {
		return fmt.Errorf("MeetingService is nil")
	}
	if s.meetings == nil {
		return fmt.Errorf("meeting repository not configured")
	}
	if s.users == nil {
		return fmt.Errorf("participant directory not configured")
	}
	return nil
}

// Schedule validates the request, refuses slots that collide with any
// attendee's blocking meeting and stores the meeting. The conflict check is
// repeated inside the repository write so concurrent requests for the same
// slot cannot both succeed.
func (s *MeetingService) Schedule(ctx context.Context, params ScheduleMeetingParams) (result ScheduleResult, err error) {
	if err = s.ready(); err != nil {
		return
	}
	input := params.Input
	organizerID := params.Principal.UserID

	logger := s.loggerWith(ctx, "Schedule",
		"organizer_id", organizerID,
		"participant_count", len(input.Participants),
	)
	defer func() {
		s.finish(ctx, logger, "schedule", err,
			"meeting_id", result.Meeting.ID,
			"notification_sent", result.NotificationSent,
		)
	}()

	if organizerID == "" {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	validateMeetingInput(input, vErr)
	validateMeetingTimes(input.Start, input.End, s.now(), vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	resolved, missing, resolveErr := s.users.ResolveParticipants(ctx, uniqueStrings(trimAll(input.Participants)))
	if resolveErr != nil {
		err = &RepositoryError{Op: "resolve participants", Err: resolveErr}
		return
	}
	if len(missing) > 0 {
		err = newValidationError("participants", fmt.Sprintf("unknown participants: %s", strings.Join(missing, ", ")))
		return
	}

	participants := make([]Participant, 0, len(resolved))
	invitees := make([]User, 0, len(resolved))
	for _, user := range resolved {
		if user.ID == organizerID || containsParticipant(participants, user.ID) {
			continue
		}
		participants = append(participants, Participant{
			UserID:      user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Status:      scheduler.AttendanceInvited,
		})
		invitees = append(invitees, user)
	}
	if len(participants) == 0 {
		err = newValidationError("participants", "at least one participant other than the organizer is required")
		return
	}

	now := s.now()
	meeting := Meeting{
		ID:           s.idGenerator(),
		OrganizerID:  organizerID,
		Title:        strings.TrimSpace(input.Title),
		Description:  strings.TrimSpace(input.Description),
		Location:     strings.TrimSpace(input.Location),
		MeetingType:  strings.TrimSpace(input.MeetingType),
		Start:        normalizeMeetingTime(input.Start),
		End:          normalizeMeetingTime(input.End),
		Status:       scheduler.StatusScheduled,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	attendees := meeting.AttendeeIDs()
	if err = s.precheckConflicts(ctx, meeting.Interval(), attendees, ""); err != nil {
		return
	}

	persisted, createErr := s.meetings.CreateMeeting(ctx, meeting, conflictGuard(meeting.Interval(), attendees, ""))
	if createErr != nil {
		err = s.mapWriteError(ctx, "create meeting", createErr)
		return
	}
	persisted.Participants = meeting.Participants

	result = ScheduleResult{Meeting: persisted}
	if s.notifier != nil {
		if notifyErr := s.notifier.MeetingScheduled(ctx, persisted, invitees); notifyErr != nil {
			logger.WarnContext(ctx, "meeting invitation delivery failed", "error", notifyErr)
		} else {
			result.NotificationSent = true
		}
	}
	return
}

// Cancel moves a meeting to cancelled. Cancelling an already cancelled
// meeting succeeds without changes; completed meetings cannot be cancelled.
func (s *MeetingService) Cancel(ctx context.Context, params MeetingActionParams) (meeting Meeting, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "Cancel", "meeting_id", params.MeetingID, "principal_id", params.Principal.UserID)
	defer func() { s.finish(ctx, logger, "cancel", err, "status", meeting.Status) }()

	_, meeting, written, err := s.applyChange(ctx, logger, s.managedLoader(params.Principal, params.MeetingID),
		func(existing Meeting) (Meeting, ConflictGuard, bool, error) {
			switch existing.Status {
			case scheduler.StatusCancelled:
				return existing, nil, false, nil
			case scheduler.StatusCompleted:
				return Meeting{}, nil, false, ErrInvalidTransition
			}
			updated := existing
			updated.Status = scheduler.StatusCancelled
			updated.UpdatedAt = s.now()
			return updated, nil, true, nil
		})
	if err != nil || !written {
		return
	}

	if s.notifier != nil {
		if notifyErr := s.notifier.MeetingCancelled(ctx, meeting, s.recipients(ctx, meeting)); notifyErr != nil {
			logger.WarnContext(ctx, "cancellation delivery failed", "error", notifyErr)
		}
	}
	return
}

// Reschedule moves a scheduled or in-progress meeting to a new time. The
// meeting's own previous slot never counts as a conflict.
func (s *MeetingService) Reschedule(ctx context.Context, params RescheduleMeetingParams) (meeting Meeting, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "Reschedule", "meeting_id", params.MeetingID, "principal_id", params.Principal.UserID)
	defer func() { s.finish(ctx, logger, "reschedule", err, "start", meeting.Start, "end", meeting.End) }()

	previous, meeting, _, err := s.applyChange(ctx, logger, s.managedLoader(params.Principal, params.MeetingID),
		func(existing Meeting) (Meeting, ConflictGuard, bool, error) {
			if existing.Status.Terminal() {
				return Meeting{}, nil, false, ErrInvalidTransition
			}
			vErr := &ValidationError{}
			validateMeetingTimes(params.Start, params.End, s.now(), vErr)
			if vErr.HasErrors() {
				return Meeting{}, nil, false, vErr
			}

			updated := existing
			updated.Start = normalizeMeetingTime(params.Start)
			updated.End = normalizeMeetingTime(params.End)
			updated.UpdatedAt = s.now()

			attendees := updated.AttendeeIDs()
			if err := s.precheckConflicts(ctx, updated.Interval(), attendees, updated.ID); err != nil {
				return Meeting{}, nil, false, err
			}
			return updated, conflictGuard(updated.Interval(), attendees, updated.ID), true, nil
		})
	if err != nil {
		return
	}

	if s.notifier != nil {
		if notifyErr := s.notifier.MeetingRescheduled(ctx, meeting, previous.Interval(), s.recipients(ctx, meeting)); notifyErr != nil {
			logger.WarnContext(ctx, "reschedule delivery failed", "error", notifyErr)
		}
	}
	return
}

// Start marks a scheduled meeting as in progress.
func (s *MeetingService) Start(ctx context.Context, params MeetingActionParams) (Meeting, error) {
	return s.transition(ctx, "start", params, scheduler.StatusInProgress)
}

// Complete marks a scheduled or in-progress meeting as completed.
func (s *MeetingService) Complete(ctx context.Context, params MeetingActionParams) (Meeting, error) {
	return s.transition(ctx, "complete", params, scheduler.StatusCompleted)
}

func (s *MeetingService) transition(ctx context.Context, operation string, params MeetingActionParams, next scheduler.MeetingStatus) (meeting Meeting, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, operation, "meeting_id", params.MeetingID, "principal_id", params.Principal.UserID)
	defer func() { s.finish(ctx, logger, operation, err, "status", meeting.Status) }()

	_, meeting, _, err = s.applyChange(ctx, logger, s.managedLoader(params.Principal, params.MeetingID),
		func(existing Meeting) (Meeting, ConflictGuard, bool, error) {
			if !existing.Status.CanTransition(next) {
				return Meeting{}, nil, false, ErrInvalidTransition
			}
			updated := existing
			updated.Status = next
			updated.UpdatedAt = s.now()
			return updated, nil, true, nil
		})
	return
}

// Respond records the principal's answer to an invitation. Only invited
// participants may respond, and only while the meeting is not finished.
func (s *MeetingService) Respond(ctx context.Context, params RespondParams) (meeting Meeting, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "Respond",
		"meeting_id", params.MeetingID,
		"principal_id", params.Principal.UserID,
		"response", params.Status,
	)
	defer func() { s.finish(ctx, logger, "respond", err) }()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if _, parseErr := scheduler.ParseAttendanceStatus(string(params.Status)); parseErr != nil || params.Status == scheduler.AttendanceInvited {
		err = newValidationError("status", "status must be one of accepted, declined, tentative")
		return
	}

	load := func(ctx context.Context) (Meeting, error) {
		existing, getErr := s.meetings.GetMeeting(ctx, params.MeetingID)
		if getErr != nil {
			return Meeting{}, mapMeetingRepoError("get meeting", getErr)
		}
		return existing, nil
	}
	_, meeting, _, err = s.applyChange(ctx, logger, load,
		func(existing Meeting) (Meeting, ConflictGuard, bool, error) {
			if _, ok := existing.ParticipantStatus(params.Principal.UserID); !ok {
				return Meeting{}, nil, false, ErrUnauthorized
			}
			if existing.Status.Terminal() {
				return Meeting{}, nil, false, ErrInvalidTransition
			}
			updated := cloneMeeting(existing)
			for i := range updated.Participants {
				if updated.Participants[i].UserID == params.Principal.UserID {
					updated.Participants[i].Status = params.Status
				}
			}
			updated.UpdatedAt = s.now()
			return updated, nil, true, nil
		})
	return
}

// GetMeeting returns a meeting visible to the principal: its attendees and
// administrators.
func (s *MeetingService) GetMeeting(ctx context.Context, principal Principal, meetingID string) (Meeting, error) {
	if err := s.ready(); err != nil {
		return Meeting{}, err
	}
	meeting, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return Meeting{}, mapMeetingRepoError("get meeting", err)
	}
	if !principal.IsAdmin && !containsString(meeting.AttendeeIDs(), principal.UserID) {
		return Meeting{}, ErrUnauthorized
	}
	s.describeParticipants(ctx, []Meeting{meeting})
	return meeting, nil
}

// meetingChange derives the next state of a stored meeting together with
// the guard its write needs. write is false when existing already is the
// result and nothing should be stored.
type meetingChange func(existing Meeting) (updated Meeting, guard ConflictGuard, write bool, err error)

// applyChange reads a meeting, applies change and stores the result at the
// version it was read at. When another writer got there first the meeting is
// read again and change re-evaluated, up to maxWriteAttempts times.
func (s *MeetingService) applyChange(ctx context.Context, logger *slog.Logger, load func(context.Context) (Meeting, error), change meetingChange) (previous, meeting Meeting, written bool, err error) {
	for attempt := 1; ; attempt++ {
		previous, err = load(ctx)
		if err != nil {
			return Meeting{}, Meeting{}, false, err
		}
		updated, guard, write, changeErr := change(previous)
		if changeErr != nil {
			return Meeting{}, Meeting{}, false, changeErr
		}
		if !write {
			return previous, previous, false, nil
		}

		updated.Version = previous.Version
		meeting, err = s.meetings.UpdateMeeting(ctx, updated, guard)
		if err == nil {
			return previous, meeting, true, nil
		}
		err = s.mapWriteError(ctx, "update meeting", err)
		if !errors.Is(err, ErrConcurrentUpdate) || attempt >= maxWriteAttempts {
			return Meeting{}, Meeting{}, false, err
		}
		logger.DebugContext(ctx, "meeting changed concurrently, retrying", "attempt", attempt)
	}
}

func (s *MeetingService) managedLoader(principal Principal, meetingID string) func(context.Context) (Meeting, error) {
	return func(ctx context.Context) (Meeting, error) {
		return s.loadManaged(ctx, principal, meetingID)
	}
}

func (s *MeetingService) loadManaged(ctx context.Context, principal Principal, meetingID string) (Meeting, error) {
	if principal.UserID == "" {
		return Meeting{}, ErrUnauthorized
	}
	existing, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return Meeting{}, mapMeetingRepoError("get meeting", err)
	}
	if !s.authorizer.CanManage(principal, existing) {
		return Meeting{}, ErrUnauthorized
	}
	return existing, nil
}

// precheckConflicts reports conflicts before the write so callers get the
// full list without holding the repository's critical section for lookups.
func (s *MeetingService) precheckConflicts(ctx context.Context, candidate scheduler.Interval, attendees []string, excludeID string) error {
	existing, err := s.meetings.ListMeetings(ctx, MeetingRepositoryFilter{
		ParticipantIDs: attendees,
		StartsAfter:    &candidate.Start,
		EndsBefore:     &candidate.End,
		Statuses:       []scheduler.MeetingStatus{scheduler.StatusScheduled, scheduler.StatusInProgress},
	})
	if err != nil {
		return mapMeetingRepoError("list meetings", err)
	}
	if cErr := findConflicts(candidate, attendees, existing, excludeID); cErr != nil {
		s.describeParticipants(ctx, cErr.Conflicts)
		return cErr
	}
	return nil
}

func (s *MeetingService) mapWriteError(ctx context.Context, op string, err error) error {
	var cErr *ConflictError
	if errors.As(err, &cErr) {
		s.describeParticipants(ctx, cErr.Conflicts)
		return cErr
	}
	return mapMeetingRepoError(op, err)
}

// describeParticipants fills participant names from the directory. Lookup
// failures leave the ids in place.
func (s *MeetingService) describeParticipants(ctx context.Context, meetings []Meeting) {
	ids := make([]string, 0)
	for _, m := range meetings {
		ids = append(ids, m.AttendeeIDs()...)
	}
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return
	}
	users, err := s.users.LookupUsers(ctx, ids)
	if err != nil {
		s.loggerWith(ctx, "describeParticipants").WarnContext(ctx, "participant lookup failed", "error", err)
		return
	}
	for i := range meetings {
		for j := range meetings[i].Participants {
			if user, ok := users[meetings[i].Participants[j].UserID]; ok {
				meetings[i].Participants[j].Email = user.Email
				meetings[i].Participants[j].DisplayName = user.DisplayName
			}
		}
	}
}

func (s *MeetingService) recipients(ctx context.Context, meeting Meeting) []User {
	ids := make([]string, 0, len(meeting.Participants))
	for _, p := range meeting.Participants {
		ids = append(ids, p.UserID)
	}
	users, err := s.users.LookupUsers(ctx, ids)
	if err != nil {
		s.loggerWith(ctx, "recipients", "meeting_id", meeting.ID).WarnContext(ctx, "recipient lookup failed", "error", err)
		return nil
	}
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if user, ok := users[id]; ok {
			out = append(out, user)
		}
	}
	return out
}

// conflictGuard builds the check the repository runs atomically with a write.
func conflictGuard(candidate scheduler.Interval, attendees []string, excludeID string) ConflictGuard {
	return func(existing []Meeting) error {
		if cErr := findConflicts(candidate, attendees, existing, excludeID); cErr != nil {
			return cErr
		}
		return nil
	}
}

func findConflicts(candidate scheduler.Interval, attendees []string, existing []Meeting, excludeID string) *ConflictError {
	snapshots := make([]scheduler.Meeting, len(existing))
	byID := make(map[string]Meeting, len(existing))
	for i, m := range existing {
		snapshots[i] = toSchedulerMeeting(m)
		byID[m.ID] = m
	}

	hits := scheduler.DetectConflicts(candidate, attendees, snapshots, excludeID)
	if len(hits) == 0 {
		return nil
	}
	conflicts := make([]Meeting, 0, len(hits))
	for _, hit := range hits {
		conflicts = append(conflicts, cloneMeeting(byID[hit.ID]))
	}
	return &ConflictError{Conflicts: conflicts}
}

func toSchedulerMeeting(meeting Meeting) scheduler.Meeting {
	participants := make([]scheduler.Participant, len(meeting.Participants))
	for i, p := range meeting.Participants {
		participants[i] = scheduler.Participant{UserID: p.UserID, Status: p.Status}
	}
	return scheduler.Meeting{
		ID:           meeting.ID,
		OrganizerID:  meeting.OrganizerID,
		Participants: participants,
		Interval:     meeting.Interval(),
		Status:       meeting.Status,
	}
}

func cloneMeeting(meeting Meeting) Meeting {
	out := meeting
	out.Participants = make([]Participant, len(meeting.Participants))
	copy(out.Participants, meeting.Participants)
	return out
}

func validateMeetingInput(input MeetingInput, vErr *ValidationError) {
	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	if len(uniqueStrings(trimAll(input.Participants))) == 0 {
		vErr.add("participants", "at least one participant is required")
	}
}

func validateMeetingTimes(start, end, now time.Time, vErr *ValidationError) {
	if start.IsZero() {
		vErr.add("start", "start time is required")
	}
	if end.IsZero() {
		vErr.add("end", "end time is required")
	}
	if start.IsZero() || end.IsZero() {
		return
	}
	if !start.Before(end) {
		vErr.add("end", "end time must be after start time")
	}
	if start.Before(now) {
		vErr.add("start", "start time must not be in the past")
	}
}

func normalizeMeetingTime(t time.Time) time.Time {
	return t.UTC().Truncate(meetingTimeGranularity)
}

func mapMeetingRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	var cErr *ConflictError
	if errors.As(err, &cErr) {
		return cErr
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, persistence.ErrStaleWrite) {
		return ErrConcurrentUpdate
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		return newValidationError("end", "end time must be after start time")
	}
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		return newValidationError("participants", "related records are missing")
	}
	return &RepositoryError{Op: op, Err: err}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsParticipant(participants []Participant, userID string) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
