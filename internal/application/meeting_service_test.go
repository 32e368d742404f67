package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/assistant-calendar/internal/persistence"
	"github.com/example/assistant-calendar/internal/scheduler"
)

var testNow = time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)

// slot returns a wall clock time on the day after testNow.
func slot(hour, minute int) time.Time {
	return time.Date(2024, 3, 15, hour, minute, 0, 0, time.UTC)
}

// meetingRepoStub is an in-memory MeetingRepository that evaluates guards
// under its lock like the real repositories.
type meetingRepoStub struct {
	mu       sync.Mutex
	meetings map[string]Meeting
	order    []string
	err      error
	// afterGet runs outside the lock each time GetMeeting returns a meeting.
	afterGet func(r *meetingRepoStub, id string)
	updates  int
}

func newMeetingRepoStub(seed ...Meeting) *meetingRepoStub {
	repo := &meetingRepoStub{meetings: make(map[string]Meeting)}
	for _, m := range seed {
		if m.Version == 0 {
			m.Version = 1
		}
		repo.meetings[m.ID] = m
		repo.order = append(repo.order, m.ID)
	}
	return repo
}

func (r *meetingRepoStub) CreateMeeting(ctx context.Context, meeting Meeting, guard ConflictGuard) (Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Meeting{}, r.err
	}
	if guard != nil {
		if err := guard(r.overlappingLocked(meeting)); err != nil {
			return Meeting{}, err
		}
	}
	meeting.Version = 1
	r.meetings[meeting.ID] = cloneMeeting(meeting)
	r.order = append(r.order, meeting.ID)
	return meeting, nil
}

func (r *meetingRepoStub) UpdateMeeting(ctx context.Context, meeting Meeting, guard ConflictGuard) (Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Meeting{}, r.err
	}
	r.updates++
	stored, ok := r.meetings[meeting.ID]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	if stored.Version != meeting.Version {
		return Meeting{}, persistence.ErrStaleWrite
	}
	if guard != nil {
		if err := guard(r.overlappingLocked(meeting)); err != nil {
			return Meeting{}, err
		}
	}
	meeting.Version++
	r.meetings[meeting.ID] = cloneMeeting(meeting)
	return meeting, nil
}

func (r *meetingRepoStub) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	m, err := r.get(id)
	if err == nil && r.afterGet != nil {
		r.afterGet(r, id)
	}
	return m, err
}

func (r *meetingRepoStub) get(id string) (Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Meeting{}, r.err
	}
	m, ok := r.meetings[id]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	return cloneMeeting(m), nil
}

// change edits a stored meeting the way a competing writer would.
func (r *meetingRepoStub) change(id string, edit func(m *Meeting)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := cloneMeeting(r.meetings[id])
	edit(&m)
	m.Version++
	r.meetings[id] = m
}

func (r *meetingRepoStub) updateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *meetingRepoStub) ListMeetings(ctx context.Context, filter MeetingRepositoryFilter) ([]Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []Meeting
	for _, id := range r.order {
		m := r.meetings[id]
		if filter.StartsAfter != nil && !m.End.After(*filter.StartsAfter) {
			continue
		}
		if filter.EndsBefore != nil && !m.Start.Before(*filter.EndsBefore) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, m.Status) {
			continue
		}
		if len(filter.ParticipantIDs) > 0 && !sharesAny(m.AttendeeIDs(), filter.ParticipantIDs) {
			continue
		}
		out = append(out, cloneMeeting(m))
	}
	return out, nil
}

func (r *meetingRepoStub) overlappingLocked(candidate Meeting) []Meeting {
	var out []Meeting
	for _, id := range r.order {
		m := r.meetings[id]
		if scheduler.Overlaps(m.Interval(), candidate.Interval()) && sharesAny(m.AttendeeIDs(), candidate.AttendeeIDs()) {
			out = append(out, cloneMeeting(m))
		}
	}
	return out
}

func (r *meetingRepoStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.meetings)
}

func containsStatus(statuses []scheduler.MeetingStatus, status scheduler.MeetingStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func sharesAny(a, b []string) bool {
	for _, x := range a {
		if containsString(b, x) {
			return true
		}
	}
	return false
}

// directoryStub resolves users by id or email.
type directoryStub struct {
	users []User
	err   error
}

func (d *directoryStub) ResolveParticipants(ctx context.Context, identifiers []string) ([]User, []string, error) {
	if d.err != nil {
		return nil, nil, d.err
	}
	var resolved []User
	var missing []string
	for _, ident := range identifiers {
		found := false
		for _, u := range d.users {
			if u.ID == ident || u.Email == ident {
				resolved = append(resolved, u)
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, ident)
		}
	}
	return resolved, missing, nil
}

func (d *directoryStub) LookupUsers(ctx context.Context, ids []string) (map[string]User, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]User)
	for _, id := range ids {
		for _, u := range d.users {
			if u.ID == id {
				out[id] = u
			}
		}
	}
	return out, nil
}

type notifierStub struct {
	mu          sync.Mutex
	scheduled   []string
	cancelled   []string
	rescheduled []string
	recipients  map[string][]string
	err         error
}

func (n *notifierStub) record(kind *[]string, meeting Meeting, recipients []User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	*kind = append(*kind, meeting.ID)
	if n.recipients == nil {
		n.recipients = make(map[string][]string)
	}
	ids := make([]string, 0, len(recipients))
	for _, u := range recipients {
		ids = append(ids, u.ID)
	}
	n.recipients[meeting.ID] = ids
	return nil
}

func (n *notifierStub) MeetingScheduled(ctx context.Context, meeting Meeting, recipients []User) error {
	return n.record(&n.scheduled, meeting, recipients)
}

func (n *notifierStub) MeetingCancelled(ctx context.Context, meeting Meeting, recipients []User) error {
	return n.record(&n.cancelled, meeting, recipients)
}

func (n *notifierStub) MeetingRescheduled(ctx context.Context, meeting Meeting, previous scheduler.Interval, recipients []User) error {
	return n.record(&n.rescheduled, meeting, recipients)
}

type metricsStub struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (m *metricsStub) ObserveMeetingOperation(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string][]string)
	}
	m.outcomes[operation] = append(m.outcomes[operation], outcome)
}

var staff = []User{
	{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"},
	{ID: "bob", Email: "bob@example.com", DisplayName: "Bob"},
	{ID: "carol", Email: "carol@example.com", DisplayName: "Carol"},
	{ID: "root", Email: "root@example.com", DisplayName: "Root", IsAdmin: true},
}

type serviceHarness struct {
	svc      *MeetingService
	repo     *meetingRepoStub
	notifier *notifierStub
	metrics  *metricsStub
}

func newHarness(seed ...Meeting) serviceHarness {
	repo := newMeetingRepoStub(seed...)
	notifier := &notifierStub{}
	metrics := &metricsStub{}
	var seq atomic.Int64
	svc := NewMeetingService(MeetingServiceDeps{
		Meetings:    repo,
		Users:       &directoryStub{users: staff},
		Notifier:    notifier,
		Metrics:     metrics,
		IDGenerator: func() string { return fmt.Sprintf("meeting-%d", seq.Add(1)) },
		Now:         func() time.Time { return testNow },
	})
	return serviceHarness{svc: svc, repo: repo, notifier: notifier, metrics: metrics}
}

func existingMeeting(id, organizer string, participants []string, start, end time.Time, status scheduler.MeetingStatus) Meeting {
	ps := make([]Participant, 0, len(participants))
	for _, p := range participants {
		ps = append(ps, Participant{UserID: p, Status: scheduler.AttendanceInvited})
	}
	return Meeting{ID: id, OrganizerID: organizer, Title: "Existing " + id, Start: start, End: end, Status: status, Participants: ps}
}

func scheduleInput(start, end time.Time, participants ...string) MeetingInput {
	return MeetingInput{Title: "Planning", Start: start, End: end, Participants: participants}
}

func TestMeetingService_Schedule(t *testing.T) {
	t.Parallel()

	alice := Principal{UserID: "alice"}

	t.Run("stores the meeting and notifies participants", func(t *testing.T) {
		t.Parallel()
		h := newHarness()

		tokyo := time.FixedZone("JST", 9*60*60)
		start := time.Date(2024, 3, 15, 19, 0, 0, 500, tokyo)
		result, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{
			Principal: alice,
			Input:     scheduleInput(start, start.Add(time.Hour), "bob@example.com", "carol", "alice@example.com"),
		})
		if err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
		m := result.Meeting
		if m.ID != "meeting-1" || m.OrganizerID != "alice" || m.Status != scheduler.StatusScheduled {
			t.Fatalf("unexpected meeting %+v", m)
		}
		if !m.Start.Equal(slot(10, 0)) || m.Start.Location() != time.UTC {
			t.Fatalf("expected start normalized to 10:00 UTC, got %v", m.Start)
		}
		if len(m.Participants) != 2 || m.Participants[0].UserID != "bob" || m.Participants[1].UserID != "carol" {
			t.Fatalf("expected organizer to be dropped from participants, got %+v", m.Participants)
		}
		for _, p := range m.Participants {
			if p.Status != scheduler.AttendanceInvited {
				t.Fatalf("expected invited status, got %s", p.Status)
			}
		}
		if !result.NotificationSent {
			t.Fatalf("expected notification to be reported as sent")
		}
		if got := h.notifier.recipients["meeting-1"]; len(got) != 2 {
			t.Fatalf("expected two recipients, got %v", got)
		}
		if h.metrics.outcomes["schedule"][0] != "success" {
			t.Fatalf("expected success outcome, got %v", h.metrics.outcomes)
		}
	})

	t.Run("validates required fields and times", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			name  string
			input MeetingInput
			field string
		}{
			{"missing title", MeetingInput{Start: slot(10, 0), End: slot(11, 0), Participants: []string{"bob"}}, "title"},
			{"end before start", scheduleInput(slot(11, 0), slot(10, 0), "bob"), "end"},
			{"zero length", scheduleInput(slot(10, 0), slot(10, 0), "bob"), "end"},
			{"start in the past", scheduleInput(testNow.Add(-time.Hour), testNow, "bob"), "start"},
			{"missing start", MeetingInput{Title: "x", End: slot(10, 0), Participants: []string{"bob"}}, "start"},
			{"no participants", scheduleInput(slot(10, 0), slot(11, 0)), "participants"},
			{"unknown participant", scheduleInput(slot(10, 0), slot(11, 0), "bob", "zed@example.com"), "participants"},
			{"only the organizer", scheduleInput(slot(10, 0), slot(11, 0), "alice"), "participants"},
		}
		for _, tc := range cases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				h := newHarness()
				_, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Principal: alice, Input: tc.input})
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if _, ok := vErr.FieldErrors[tc.field]; !ok {
					t.Fatalf("expected %s error, got %#v", tc.field, vErr.FieldErrors)
				}
				if h.repo.count() != 0 {
					t.Fatalf("expected nothing to be stored")
				}
			})
		}
	})

	t.Run("reports every conflicting meeting", func(t *testing.T) {
		t.Parallel()
		h := newHarness(
			existingMeeting("m-1", "carol", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled),
			existingMeeting("m-2", "bob", nil, slot(10, 30), slot(12, 0), scheduler.StatusInProgress),
			existingMeeting("m-3", "bob", nil, slot(10, 0), slot(12, 0), scheduler.StatusCancelled),
		)

		_, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Principal: alice, Input: scheduleInput(slot(10, 30), slot(11, 30), "bob")})
		var cErr *ConflictError
		if !errors.As(err, &cErr) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected errors.Is(err, ErrConflict)")
		}
		if len(cErr.Conflicts) != 2 || cErr.Conflicts[0].ID != "m-1" || cErr.Conflicts[1].ID != "m-2" {
			t.Fatalf("unexpected conflicts %+v", cErr.Conflicts)
		}
		if cErr.Conflicts[0].Participants[0].DisplayName != "Bob" {
			t.Fatalf("expected participant names to be filled, got %+v", cErr.Conflicts[0].Participants)
		}
		if h.repo.count() != 3 {
			t.Fatalf("expected no new meeting to be stored")
		}
		if h.metrics.outcomes["schedule"][0] != "conflict" {
			t.Fatalf("expected conflict outcome, got %v", h.metrics.outcomes)
		}
	})

	t.Run("the organizer's own calendar blocks too", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "carol", []string{"alice"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))

		_, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Principal: alice, Input: scheduleInput(slot(10, 0), slot(10, 30), "bob")})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict on organizer, got %v", err)
		}
	})

	t.Run("back-to-back meetings are accepted", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "carol", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))

		if _, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Principal: alice, Input: scheduleInput(slot(11, 0), slot(12, 0), "bob")}); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
	})

	t.Run("notification failures do not fail the request", func(t *testing.T) {
		t.Parallel()
		h := newHarness()
		h.notifier.err = errors.New("broker unavailable")

		result, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Principal: alice, Input: scheduleInput(slot(10, 0), slot(11, 0), "bob")})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if result.NotificationSent {
			t.Fatalf("expected NotificationSent to be false")
		}
		if h.repo.count() != 1 {
			t.Fatalf("expected meeting to be stored")
		}
	})

	t.Run("repository failures are wrapped", func(t *testing.T) {
		t.Parallel()
		h := newHarness()
		h.repo.err = errors.New("disk full")

		_, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Principal: alice, Input: scheduleInput(slot(10, 0), slot(11, 0), "bob")})
		var rErr *RepositoryError
		if !errors.As(err, &rErr) {
			t.Fatalf("expected RepositoryError, got %v", err)
		}
	})

	t.Run("requires an authenticated organizer", func(t *testing.T) {
		t.Parallel()
		h := newHarness()
		_, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Input: scheduleInput(slot(10, 0), slot(11, 0), "bob")})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestMeetingService_Schedule_ConcurrentRequestsForSameSlot(t *testing.T) {
	t.Parallel()

	h := newHarness()
	const workers = 16

	var wg sync.WaitGroup
	var successes, conflicts atomic.Int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			organizer := []string{"alice", "carol", "root"}[i%3]
			_, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{
				Principal: Principal{UserID: organizer},
				Input:     scheduleInput(slot(10, 0), slot(11, 0), "bob"),
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("expected exactly one success, got %d", successes.Load())
	}
	if conflicts.Load() != workers-1 {
		t.Fatalf("expected %d conflicts, got %d", workers-1, conflicts.Load())
	}
	if h.repo.count() != 1 {
		t.Fatalf("expected one stored meeting, got %d", h.repo.count())
	}
}

func TestMeetingService_Cancel(t *testing.T) {
	t.Parallel()

	seed := func(status scheduler.MeetingStatus) serviceHarness {
		return newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), status))
	}

	t.Run("organizer cancels and participants are told", func(t *testing.T) {
		t.Parallel()
		h := seed(scheduler.StatusScheduled)
		m, err := h.svc.Cancel(context.Background(), MeetingActionParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1"})
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if m.Status != scheduler.StatusCancelled {
			t.Fatalf("expected cancelled, got %s", m.Status)
		}
		if len(h.notifier.cancelled) != 1 || h.notifier.recipients["m-1"][0] != "bob" {
			t.Fatalf("expected cancellation notice to bob, got %+v", h.notifier)
		}
	})

	t.Run("administrators may cancel any meeting", func(t *testing.T) {
		t.Parallel()
		h := seed(scheduler.StatusInProgress)
		if _, err := h.svc.Cancel(context.Background(), MeetingActionParams{Principal: Principal{UserID: "root", IsAdmin: true}, MeetingID: "m-1"}); err != nil {
			t.Fatalf("expected admin cancel to succeed, got %v", err)
		}
	})

	t.Run("participants cannot cancel", func(t *testing.T) {
		t.Parallel()
		h := seed(scheduler.StatusScheduled)
		if _, err := h.svc.Cancel(context.Background(), MeetingActionParams{Principal: Principal{UserID: "bob"}, MeetingID: "m-1"}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("cancelling twice is a no-op", func(t *testing.T) {
		t.Parallel()
		h := seed(scheduler.StatusCancelled)
		m, err := h.svc.Cancel(context.Background(), MeetingActionParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1"})
		if err != nil || m.Status != scheduler.StatusCancelled {
			t.Fatalf("expected idempotent success, got %v %v", m.Status, err)
		}
		if len(h.notifier.cancelled) != 0 {
			t.Fatalf("expected no second notification")
		}
	})

	t.Run("completed meetings cannot be cancelled", func(t *testing.T) {
		t.Parallel()
		h := seed(scheduler.StatusCompleted)
		if _, err := h.svc.Cancel(context.Background(), MeetingActionParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1"}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("unknown meetings are not found", func(t *testing.T) {
		t.Parallel()
		h := seed(scheduler.StatusScheduled)
		if _, err := h.svc.Cancel(context.Background(), MeetingActionParams{Principal: Principal{UserID: "alice"}, MeetingID: "nope"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("a cancelled slot can be booked again", func(t *testing.T) {
		t.Parallel()
		h := seed(scheduler.StatusScheduled)
		if _, err := h.svc.Cancel(context.Background(), MeetingActionParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1"}); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if _, err := h.svc.Schedule(context.Background(), ScheduleMeetingParams{Principal: Principal{UserID: "carol"}, Input: scheduleInput(slot(10, 0), slot(11, 0), "bob")}); err != nil {
			t.Fatalf("expected freed slot to be bookable, got %v", err)
		}
	})
}

func TestMeetingService_Reschedule(t *testing.T) {
	t.Parallel()

	t.Run("overlapping its own previous slot is allowed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		m, err := h.svc.Reschedule(context.Background(), RescheduleMeetingParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1", Start: slot(10, 30), End: slot(11, 30)})
		if err != nil {
			t.Fatalf("Reschedule failed: %v", err)
		}
		if !m.Start.Equal(slot(10, 30)) || !m.End.Equal(slot(11, 30)) {
			t.Fatalf("unexpected times %v - %v", m.Start, m.End)
		}
		if len(h.notifier.rescheduled) != 1 {
			t.Fatalf("expected reschedule notification")
		}
	})

	t.Run("conflicts with other meetings are rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(
			existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled),
			existingMeeting("m-2", "carol", []string{"bob"}, slot(13, 0), slot(14, 0), scheduler.StatusScheduled),
		)
		_, err := h.svc.Reschedule(context.Background(), RescheduleMeetingParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1", Start: slot(13, 30), End: slot(14, 30)})
		var cErr *ConflictError
		if !errors.As(err, &cErr) || len(cErr.Conflicts) != 1 || cErr.Conflicts[0].ID != "m-2" {
			t.Fatalf("expected conflict with m-2, got %v", err)
		}
		stored, _ := h.repo.GetMeeting(context.Background(), "m-1")
		if !stored.Start.Equal(slot(10, 0)) {
			t.Fatalf("expected stored meeting to be unchanged, got %v", stored.Start)
		}
	})

	t.Run("finished meetings cannot move", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusCancelled))
		_, err := h.svc.Reschedule(context.Background(), RescheduleMeetingParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1", Start: slot(12, 0), End: slot(13, 0)})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("only the organizer or an admin may move a meeting", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		_, err := h.svc.Reschedule(context.Background(), RescheduleMeetingParams{Principal: Principal{UserID: "bob"}, MeetingID: "m-1", Start: slot(12, 0), End: slot(13, 0)})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("new times are validated", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		_, err := h.svc.Reschedule(context.Background(), RescheduleMeetingParams{Principal: Principal{UserID: "alice"}, MeetingID: "m-1", Start: slot(13, 0), End: slot(12, 0)})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestMeetingService_StartAndComplete(t *testing.T) {
	t.Parallel()

	h := newHarness(
		existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled),
		existingMeeting("m-2", "alice", []string{"bob"}, slot(12, 0), slot(13, 0), scheduler.StatusScheduled),
	)
	ctx := context.Background()
	alice := Principal{UserID: "alice"}

	m, err := h.svc.Start(ctx, MeetingActionParams{Principal: alice, MeetingID: "m-1"})
	if err != nil || m.Status != scheduler.StatusInProgress {
		t.Fatalf("expected in_progress, got %v %v", m.Status, err)
	}
	if _, err := h.svc.Start(ctx, MeetingActionParams{Principal: alice, MeetingID: "m-1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	m, err = h.svc.Complete(ctx, MeetingActionParams{Principal: alice, MeetingID: "m-1"})
	if err != nil || m.Status != scheduler.StatusCompleted {
		t.Fatalf("expected completed, got %v %v", m.Status, err)
	}
	if _, err := h.svc.Start(ctx, MeetingActionParams{Principal: alice, MeetingID: "m-1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completed meeting to stay completed, got %v", err)
	}

	m, err = h.svc.Complete(ctx, MeetingActionParams{Principal: alice, MeetingID: "m-2"})
	if err != nil || m.Status != scheduler.StatusCompleted {
		t.Fatalf("expected scheduled meeting to complete directly, got %v %v", m.Status, err)
	}
	if _, err := h.svc.Start(ctx, MeetingActionParams{Principal: Principal{UserID: "bob"}, MeetingID: "m-2"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for participant, got %v", err)
	}
}

func TestMeetingService_Respond(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("participants record their answer", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob", "carol"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		m, err := h.svc.Respond(ctx, RespondParams{Principal: Principal{UserID: "bob"}, MeetingID: "m-1", Status: scheduler.AttendanceDeclined})
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		if status, _ := m.ParticipantStatus("bob"); status != scheduler.AttendanceDeclined {
			t.Fatalf("expected declined, got %s", status)
		}
		if status, _ := m.ParticipantStatus("carol"); status != scheduler.AttendanceInvited {
			t.Fatalf("expected carol untouched, got %s", status)
		}
	})

	t.Run("declined participants still block the slot", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		if _, err := h.svc.Respond(ctx, RespondParams{Principal: Principal{UserID: "bob"}, MeetingID: "m-1", Status: scheduler.AttendanceDeclined}); err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		_, err := h.svc.Schedule(ctx, ScheduleMeetingParams{Principal: Principal{UserID: "carol"}, Input: scheduleInput(slot(10, 0), slot(11, 0), "bob")})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("non participants are rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		if _, err := h.svc.Respond(ctx, RespondParams{Principal: Principal{UserID: "carol"}, MeetingID: "m-1", Status: scheduler.AttendanceAccepted}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("invited is not a valid answer", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		var vErr *ValidationError
		if _, err := h.svc.Respond(ctx, RespondParams{Principal: Principal{UserID: "bob"}, MeetingID: "m-1", Status: scheduler.AttendanceInvited}); !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestMeetingService_WritesRereadChangedMeetings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	alice := Principal{UserID: "alice"}
	// once lets a competing writer act between the service's read and its write.
	once := func(edit func(m *Meeting)) func(r *meetingRepoStub, id string) {
		var done atomic.Bool
		return func(r *meetingRepoStub, id string) {
			if done.CompareAndSwap(false, true) {
				r.change(id, edit)
			}
		}
	}

	t.Run("a reschedule racing a cancel does not revive the meeting", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		h.repo.afterGet = once(func(m *Meeting) { m.Status = scheduler.StatusCancelled })

		_, err := h.svc.Reschedule(ctx, RescheduleMeetingParams{Principal: alice, MeetingID: "m-1", Start: slot(12, 0), End: slot(13, 0)})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		stored, _ := h.repo.get("m-1")
		if stored.Status != scheduler.StatusCancelled || !stored.Start.Equal(slot(10, 0)) {
			t.Fatalf("expected the cancellation to stand, got %s at %v", stored.Status, stored.Start)
		}
		if len(h.notifier.rescheduled) != 0 {
			t.Fatalf("expected no reschedule notice")
		}
	})

	t.Run("a response keeps a concurrent reschedule", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		h.repo.afterGet = once(func(m *Meeting) { m.Start, m.End = slot(14, 0), slot(15, 0) })

		m, err := h.svc.Respond(ctx, RespondParams{Principal: Principal{UserID: "bob"}, MeetingID: "m-1", Status: scheduler.AttendanceAccepted})
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		if !m.Start.Equal(slot(14, 0)) {
			t.Fatalf("expected the moved time to survive, got %v", m.Start)
		}
		if status, _ := m.ParticipantStatus("bob"); status != scheduler.AttendanceAccepted {
			t.Fatalf("expected accepted, got %s", status)
		}
		if h.repo.updateCalls() != 2 {
			t.Fatalf("expected one stale write and one retry, got %d writes", h.repo.updateCalls())
		}
	})

	t.Run("a cancel racing a start is re-evaluated", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		h.repo.afterGet = once(func(m *Meeting) { m.Status = scheduler.StatusCompleted })

		if _, err := h.svc.Cancel(ctx, MeetingActionParams{Principal: alice, MeetingID: "m-1"}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if len(h.notifier.cancelled) != 0 {
			t.Fatalf("expected no cancellation notice")
		}
	})

	t.Run("persistent interference gives up", func(t *testing.T) {
		t.Parallel()
		h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
		h.repo.afterGet = func(r *meetingRepoStub, id string) {
			r.change(id, func(m *Meeting) { m.Title = "edited elsewhere" })
		}

		_, err := h.svc.Start(ctx, MeetingActionParams{Principal: alice, MeetingID: "m-1"})
		if !errors.Is(err, ErrConcurrentUpdate) {
			t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
		}
		if ErrorKind(err) != "concurrent_update" {
			t.Fatalf("unexpected error kind %q", ErrorKind(err))
		}
		if h.repo.updateCalls() != maxWriteAttempts {
			t.Fatalf("expected %d attempts, got %d", maxWriteAttempts, h.repo.updateCalls())
		}
		stored, _ := h.repo.get("m-1")
		if stored.Status != scheduler.StatusScheduled {
			t.Fatalf("expected no status change, got %s", stored.Status)
		}
	})
}

func TestMeetingService_GetMeeting(t *testing.T) {
	t.Parallel()

	h := newHarness(existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled))
	ctx := context.Background()

	m, err := h.svc.GetMeeting(ctx, Principal{UserID: "bob"}, "m-1")
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if m.Participants[0].Email != "bob@example.com" {
		t.Fatalf("expected participant details, got %+v", m.Participants)
	}
	if _, err := h.svc.GetMeeting(ctx, Principal{UserID: "carol"}, "m-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for outsider, got %v", err)
	}
	if _, err := h.svc.GetMeeting(ctx, Principal{UserID: "root", IsAdmin: true}, "m-1"); err != nil {
		t.Fatalf("expected admin to see meeting, got %v", err)
	}
}

func TestMeetingService_UserSchedule(t *testing.T) {
	t.Parallel()

	day := func(d, hour int) time.Time { return time.Date(2024, 3, 14+d, hour, 0, 0, 0, time.UTC) }
	h := newHarness(
		existingMeeting("m-late", "alice", []string{"bob"}, day(3, 10), day(3, 11), scheduler.StatusScheduled),
		existingMeeting("m-early", "carol", []string{"bob"}, day(1, 9), day(1, 10), scheduler.StatusScheduled),
		existingMeeting("m-cancelled", "alice", []string{"bob"}, day(2, 9), day(2, 10), scheduler.StatusCancelled),
		existingMeeting("m-done", "bob", nil, day(1, 12), day(1, 13), scheduler.StatusCompleted),
		existingMeeting("m-far", "alice", []string{"bob"}, day(20, 9), day(20, 10), scheduler.StatusScheduled),
		existingMeeting("m-past", "alice", []string{"bob"}, day(-1, 9), day(-1, 10), scheduler.StatusScheduled),
		existingMeeting("m-other", "alice", []string{"carol"}, day(1, 9), day(1, 10), scheduler.StatusScheduled),
	)
	ctx := context.Background()

	meetings, err := h.svc.UserSchedule(ctx, UserScheduleParams{Principal: Principal{UserID: "bob"}, UserID: "bob"})
	if err != nil {
		t.Fatalf("UserSchedule failed: %v", err)
	}
	got := make([]string, 0, len(meetings))
	for _, m := range meetings {
		got = append(got, m.ID)
	}
	want := []string{"m-early", "m-done", "m-late"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if !sort.SliceIsSorted(meetings, func(i, j int) bool { return meetings[i].Start.Before(meetings[j].Start) }) {
		t.Fatalf("expected meetings ordered by start")
	}

	long, err := h.svc.UserSchedule(ctx, UserScheduleParams{Principal: Principal{UserID: "bob"}, Days: 30})
	if err != nil {
		t.Fatalf("UserSchedule failed: %v", err)
	}
	if len(long) != 4 {
		t.Fatalf("expected 30 day window to include m-far, got %d meetings", len(long))
	}

	for _, days := range []int{-1, 91} {
		var vErr *ValidationError
		if _, err := h.svc.UserSchedule(ctx, UserScheduleParams{Principal: Principal{UserID: "bob"}, Days: days}); !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError for days=%d, got %v", days, err)
		}
	}

	admin := Principal{UserID: "root", IsAdmin: true}
	if _, err := h.svc.UserSchedule(ctx, UserScheduleParams{Principal: admin, UserID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	visibility := []struct {
		name      string
		principal Principal
		userID    string
		want      error
	}{
		{name: "own schedule", principal: Principal{UserID: "bob"}, userID: "bob"},
		{name: "administrator reads another user", principal: admin, userID: "bob"},
		{name: "organizer of a shared meeting", principal: Principal{UserID: "alice"}, userID: "bob", want: ErrUnauthorized},
		{name: "unrelated user", principal: Principal{UserID: "carol"}, userID: "bob", want: ErrUnauthorized},
		{name: "anonymous", userID: "bob", want: ErrUnauthorized},
	}
	for _, tc := range visibility {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.UserSchedule(ctx, UserScheduleParams{Principal: tc.principal, UserID: tc.userID})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMeetingService_AvailableSlots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(
		existingMeeting("m-1", "alice", []string{"bob"}, slot(10, 0), slot(11, 0), scheduler.StatusScheduled),
		existingMeeting("m-2", "carol", nil, slot(14, 0), slot(15, 0), scheduler.StatusScheduled),
		existingMeeting("m-3", "bob", nil, slot(15, 0), slot(16, 0), scheduler.StatusCancelled),
	)

	t.Run("intersects the calendars of all participants", func(t *testing.T) {
		t.Parallel()
		result, err := h.svc.AvailableSlots(ctx, AvailableSlotsParams{
			Principal:    Principal{UserID: "alice"},
			Participants: []string{"bob@example.com", "carol"},
			Date:         slot(0, 0),
		})
		if err != nil {
			t.Fatalf("AvailableSlots failed: %v", err)
		}
		if result.Duration != time.Hour {
			t.Fatalf("expected default duration of one hour, got %v", result.Duration)
		}
		for _, s := range result.Slots {
			if scheduler.Overlaps(s, scheduler.Interval{Start: slot(10, 0), End: slot(11, 0)}) ||
				scheduler.Overlaps(s, scheduler.Interval{Start: slot(14, 0), End: slot(15, 0)}) {
				t.Fatalf("slot %v overlaps a busy period", s)
			}
		}
		// 15 grid slots minus three around each busy hour.
		if len(result.Slots) != 9 {
			t.Fatalf("expected 9 slots, got %d", len(result.Slots))
		}
		if len(result.Participants) != 2 {
			t.Fatalf("expected resolved participants, got %+v", result.Participants)
		}
	})

	t.Run("defaults to the caller's own calendar", func(t *testing.T) {
		t.Parallel()
		result, err := h.svc.AvailableSlots(ctx, AvailableSlotsParams{Principal: Principal{UserID: "bob"}, Date: slot(0, 0), DurationMinutes: 30})
		if err != nil {
			t.Fatalf("AvailableSlots failed: %v", err)
		}
		// 16 half hour slots minus the two covering 10:00-11:00.
		if len(result.Slots) != 14 {
			t.Fatalf("expected 14 slots, got %d", len(result.Slots))
		}
	})

	t.Run("custom working hours", func(t *testing.T) {
		t.Parallel()
		result, err := h.svc.AvailableSlots(ctx, AvailableSlotsParams{
			Principal:    Principal{UserID: "bob"},
			Date:         slot(0, 0),
			WorkingHours: &scheduler.WorkingHours{Start: 8, End: 10},
		})
		if err != nil {
			t.Fatalf("AvailableSlots failed: %v", err)
		}
		if len(result.Slots) != 3 || !result.Slots[0].Start.Equal(slot(8, 0)) {
			t.Fatalf("unexpected slots %v", result.Slots)
		}
	})

	t.Run("validates parameters", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			name   string
			params AvailableSlotsParams
			field  string
		}{
			{"missing date", AvailableSlotsParams{Principal: Principal{UserID: "bob"}}, "date"},
			{"duration too long", AvailableSlotsParams{Principal: Principal{UserID: "bob"}, Date: slot(0, 0), DurationMinutes: 1441}, "duration"},
			{"negative duration", AvailableSlotsParams{Principal: Principal{UserID: "bob"}, Date: slot(0, 0), DurationMinutes: -5}, "duration"},
			{"inverted hours", AvailableSlotsParams{Principal: Principal{UserID: "bob"}, Date: slot(0, 0), WorkingHours: &scheduler.WorkingHours{Start: 17, End: 9}}, "working_hours"},
			{"unknown participant", AvailableSlotsParams{Principal: Principal{UserID: "bob"}, Date: slot(0, 0), Participants: []string{"zed"}}, "participants"},
		}
		for _, tc := range cases {
			var vErr *ValidationError
			if _, err := h.svc.AvailableSlots(ctx, tc.params); !errors.As(err, &vErr) {
				t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
			}
			if _, ok := vErr.FieldErrors[tc.field]; !ok {
				t.Fatalf("%s: expected %s error, got %#v", tc.name, tc.field, vErr.FieldErrors)
			}
		}
	})
}
