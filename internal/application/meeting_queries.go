package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/assistant-calendar/internal/scheduler"
)

// UserSchedule lists the non-cancelled meetings of a user that overlap the
// next Days days, ordered by start time. Days defaults to seven. Principals
// see their own schedule; administrators may read anyone's.
func (s *MeetingService) UserSchedule(ctx context.Context, params UserScheduleParams) (meetings []Meeting, err error) {
	if err = s.ready(); err != nil {
		return
	}
	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		userID = params.Principal.UserID
	}

	logger := s.loggerWith(ctx, "UserSchedule", "user_id", userID, "days", params.Days)
	defer func() { s.finish(ctx, logger, "user_schedule", err, "meeting_count", len(meetings)) }()

	if params.Principal.UserID == "" || (userID != params.Principal.UserID && !params.Principal.IsAdmin) {
		err = ErrUnauthorized
		return
	}

	days := params.Days
	if days == 0 {
		days = defaultScheduleDays
	}
	if days < 1 || days > maxScheduleDays {
		err = newValidationError("days", fmt.Sprintf("days must be between 1 and %d", maxScheduleDays))
		return
	}

	known, lookupErr := s.users.LookupUsers(ctx, []string{userID})
	if lookupErr != nil {
		err = &RepositoryError{Op: "lookup users", Err: lookupErr}
		return
	}
	if _, ok := known[userID]; !ok {
		err = ErrNotFound
		return
	}

	from := s.now().UTC()
	until := from.AddDate(0, 0, days)
	listed, listErr := s.meetings.ListMeetings(ctx, MeetingRepositoryFilter{
		ParticipantIDs: []string{userID},
		StartsAfter:    &from,
		EndsBefore:     &until,
		Statuses: []scheduler.MeetingStatus{
			scheduler.StatusScheduled,
			scheduler.StatusInProgress,
			scheduler.StatusCompleted,
		},
	})
	if listErr != nil {
		err = mapMeetingRepoError("list meetings", listErr)
		return
	}

	meetings = make([]Meeting, 0, len(listed))
	for _, m := range listed {
		if m.Status == scheduler.StatusCancelled {
			continue
		}
		if !containsString(m.AttendeeIDs(), userID) {
			continue
		}
		if !scheduler.Overlaps(m.Interval(), scheduler.Interval{Start: from, End: until}) {
			continue
		}
		meetings = append(meetings, cloneMeeting(m))
	}
	sort.SliceStable(meetings, func(i, j int) bool {
		if meetings[i].Start.Equal(meetings[j].Start) {
			return meetings[i].ID < meetings[j].ID
		}
		return meetings[i].Start.Before(meetings[j].Start)
	})
	s.describeParticipants(ctx, meetings)
	return
}

// AvailableSlots returns the grid slots on Date during which none of the
// requested participants has a blocking meeting. When no participants are
// given the principal's own calendar is searched.
func (s *MeetingService) AvailableSlots(ctx context.Context, params AvailableSlotsParams) (result AvailableSlotsResult, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AvailableSlots",
		"principal_id", params.Principal.UserID,
		"participant_count", len(params.Participants),
		"duration_minutes", params.DurationMinutes,
	)
	defer func() { s.finish(ctx, logger, "available_slots", err, "slot_count", len(result.Slots)) }()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	if params.Date.IsZero() {
		vErr.add("date", "date is required")
	}
	minutes := params.DurationMinutes
	if minutes == 0 {
		minutes = defaultSlotMinutes
	}
	if minutes < 1 || minutes > maxSlotMinutes {
		vErr.add("duration", fmt.Sprintf("duration must be between 1 and %d minutes", maxSlotMinutes))
	}
	hours := s.workingHours
	if params.WorkingHours != nil {
		hours = *params.WorkingHours
	}
	if hoursErr := hours.Validate(); hoursErr != nil {
		vErr.add("working_hours", hoursErr.Error())
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	identifiers := uniqueStrings(trimAll(params.Participants))
	var participants []User
	if len(identifiers) == 0 {
		known, lookupErr := s.users.LookupUsers(ctx, []string{params.Principal.UserID})
		if lookupErr != nil {
			err = &RepositoryError{Op: "lookup users", Err: lookupErr}
			return
		}
		if user, ok := known[params.Principal.UserID]; ok {
			participants = []User{user}
		} else {
			participants = []User{{ID: params.Principal.UserID}}
		}
	} else {
		resolved, missing, resolveErr := s.users.ResolveParticipants(ctx, identifiers)
		if resolveErr != nil {
			err = &RepositoryError{Op: "resolve participants", Err: resolveErr}
			return
		}
		if len(missing) > 0 {
			err = newValidationError("participants", fmt.Sprintf("unknown participants: %s", strings.Join(missing, ", ")))
			return
		}
		participants = resolved
	}

	ids := make([]string, 0, len(participants))
	for _, user := range participants {
		ids = append(ids, user.ID)
	}
	ids = uniqueStrings(ids)

	day := scheduler.ClipToDay(params.Date)
	existing, listErr := s.meetings.ListMeetings(ctx, MeetingRepositoryFilter{
		ParticipantIDs: ids,
		StartsAfter:    &day.Start,
		EndsBefore:     &day.End,
		Statuses:       []scheduler.MeetingStatus{scheduler.StatusScheduled, scheduler.StatusInProgress},
	})
	if listErr != nil {
		err = mapMeetingRepoError("list meetings", listErr)
		return
	}

	snapshots := make([]scheduler.Meeting, len(existing))
	for i, m := range existing {
		snapshots[i] = toSchedulerMeeting(m)
	}

	duration := time.Duration(minutes) * time.Minute
	result = AvailableSlotsResult{
		Date:         day.Start,
		Duration:     duration,
		WorkingHours: hours,
		Participants: participants,
		Slots:        scheduler.FindAvailableSlotsWithStep(day.Start, ids, duration, hours, snapshots, s.slotStep),
	}
	return
}
