// Package notifications publishes meeting lifecycle and password reset
// events for delivery by downstream mail workers.
package notifications

import (
	"time"

	"github.com/example/assistant-calendar/internal/application"
)

// EventType names a published event. It doubles as the subject suffix.
type EventType string

const (
	EventMeetingScheduled   EventType = "meeting.scheduled"
	EventMeetingCancelled   EventType = "meeting.cancelled"
	EventMeetingRescheduled EventType = "meeting.rescheduled"
	EventPasswordReset      EventType = "password_reset.requested"
)

// Envelope is the JSON document published for every event.
type Envelope struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Recipients []Recipient    `json:"recipients"`
	Meeting    *MeetingDetail `json:"meeting,omitempty"`
	Previous   *TimeRange     `json:"previous,omitempty"`
	ResetCode  *ResetCode     `json:"resetCode,omitempty"`
}

// Recipient identifies who should receive the message.
type Recipient struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// MeetingDetail carries the meeting fields a message template needs.
type MeetingDetail struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	OrganizerID string    `json:"organizerId"`
	Location    string    `json:"location,omitempty"`
	MeetingType string    `json:"meetingType,omitempty"`
	Start       time.Time `json:"startTime"`
	End         time.Time `json:"endTime"`
	Status      string    `json:"status"`
}

// TimeRange is a start and end pair.
type TimeRange struct {
	Start time.Time `json:"startTime"`
	End   time.Time `json:"endTime"`
}

// ResetCode carries a one time password reset code.
type ResetCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func recipientsFrom(users []application.User) []Recipient {
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, Recipient{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName})
	}
	return out
}

func meetingDetail(m application.Meeting) *MeetingDetail {
	return &MeetingDetail{
		ID:          m.ID,
		Title:       m.Title,
		OrganizerID: m.OrganizerID,
		Location:    m.Location,
		MeetingType: m.MeetingType,
		Start:       m.Start.UTC(),
		End:         m.End.UTC(),
		Status:      string(m.Status),
	}
}
