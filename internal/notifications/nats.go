package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/assistant-calendar/internal/application"
	"github.com/example/assistant-calendar/internal/scheduler"
)

// DefaultSubjectPrefix prefixes every published subject.
const DefaultSubjectPrefix = "assistant"

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: DefaultSubjectPrefix,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials the NATS server described by cfg.
func Connect(cfg NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("assistant-calendar"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return conn, nil
}

// Publisher is the subset of *nats.Conn used to emit events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes JSON envelopes to NATS subjects of the form
// <prefix>.<event type>.
type NATSNotifier struct {
	publisher Publisher
	prefix    string
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// NewNATSNotifier wraps publisher. An empty prefix selects DefaultSubjectPrefix.
func NewNATSNotifier(publisher Publisher, prefix string, now func() time.Time, logger *slog.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{
		publisher: publisher,
		prefix:    prefix,
		now:       now,
		newID:     uuid.NewString,
		logger:    logger.With("component", "notifications"),
	}
}

// Subject returns the subject an event type is published on.
func (n *NATSNotifier) Subject(eventType EventType) string {
	return n.prefix + "." + string(eventType)
}

// MeetingScheduled implements application.Notifier.
func (n *NATSNotifier) MeetingScheduled(ctx context.Context, meeting application.Meeting, recipients []application.User) error {
	return n.publish(ctx, Envelope{
		Type:       EventMeetingScheduled,
		Recipients: recipientsFrom(recipients),
		Meeting:    meetingDetail(meeting),
	})
}

// MeetingCancelled implements application.Notifier.
func (n *NATSNotifier) MeetingCancelled(ctx context.Context, meeting application.Meeting, recipients []application.User) error {
	return n.publish(ctx, Envelope{
		Type:       EventMeetingCancelled,
		Recipients: recipientsFrom(recipients),
		Meeting:    meetingDetail(meeting),
	})
}

// MeetingRescheduled implements application.Notifier.
func (n *NATSNotifier) MeetingRescheduled(ctx context.Context, meeting application.Meeting, previous scheduler.Interval, recipients []application.User) error {
	return n.publish(ctx, Envelope{
		Type:       EventMeetingRescheduled,
		Recipients: recipientsFrom(recipients),
		Meeting:    meetingDetail(meeting),
		Previous:   &TimeRange{Start: previous.Start.UTC(), End: previous.End.UTC()},
	})
}

// PasswordResetRequested implements application.ResetCodeSender.
func (n *NATSNotifier) PasswordResetRequested(ctx context.Context, user application.User, code string, expiresAt time.Time) error {
	return n.publish(ctx, Envelope{
		Type:       EventPasswordReset,
		Recipients: recipientsFrom([]application.User{user}),
		ResetCode:  &ResetCode{Code: code, ExpiresAt: expiresAt.UTC()},
	})
}

func (n *NATSNotifier) publish(ctx context.Context, envelope Envelope) error {
	if n == nil || n.publisher == nil {
		return fmt.Errorf("nats publisher not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	envelope.ID = n.newID()
	envelope.OccurredAt = n.now().UTC()

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", envelope.Type, err)
	}
	subject := n.Subject(envelope.Type)
	if err := n.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	n.logger.DebugContext(ctx, "event published", "subject", subject, "event_id", envelope.ID, "recipients", len(envelope.Recipients))
	return nil
}
