package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/assistant-calendar/internal/application"
	"github.com/example/assistant-calendar/internal/scheduler"
)

// LogNotifier records events in the service log. It stands in for NATS when
// no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifications")}
}

// MeetingScheduled implements application.Notifier.
func (l *LogNotifier) MeetingScheduled(ctx context.Context, meeting application.Meeting, recipients []application.User) error {
	l.logger.InfoContext(ctx, "meeting invitation", meetingAttrs(EventMeetingScheduled, meeting, recipients)...)
	return nil
}

// MeetingCancelled implements application.Notifier.
func (l *LogNotifier) MeetingCancelled(ctx context.Context, meeting application.Meeting, recipients []application.User) error {
	l.logger.InfoContext(ctx, "meeting cancellation", meetingAttrs(EventMeetingCancelled, meeting, recipients)...)
	return nil
}

// MeetingRescheduled implements application.Notifier.
func (l *LogNotifier) MeetingRescheduled(ctx context.Context, meeting application.Meeting, previous scheduler.Interval, recipients []application.User) error {
	attrs := append(meetingAttrs(EventMeetingRescheduled, meeting, recipients),
		"previous_start", previous.Start.UTC(),
		"previous_end", previous.End.UTC(),
	)
	l.logger.InfoContext(ctx, "meeting rescheduled", attrs...)
	return nil
}

// PasswordResetRequested implements application.ResetCodeSender. The code
// itself is logged at debug level only.
func (l *LogNotifier) PasswordResetRequested(ctx context.Context, user application.User, code string, expiresAt time.Time) error {
	l.logger.InfoContext(ctx, "password reset requested", "event", EventPasswordReset, "user_id", user.ID, "expires_at", expiresAt.UTC())
	l.logger.DebugContext(ctx, "password reset code", "user_id", user.ID, "code", code)
	return nil
}

func meetingAttrs(eventType EventType, meeting application.Meeting, recipients []application.User) []any {
	emails := make([]string, 0, len(recipients))
	for _, r := range recipients {
		emails = append(emails, r.Email)
	}
	return []any{
		"event", eventType,
		"meeting_id", meeting.ID,
		"title", meeting.Title,
		"start", meeting.Start.UTC(),
		"end", meeting.End.UTC(),
		"recipients", emails,
	}
}
