package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/assistant-calendar/internal/persistence"
)

// MeetingRepository implements persistence.MeetingRepository using SQLite.
type MeetingRepository struct {
	pool *ConnectionPool
	now  func() time.Time
}

// NewMeetingRepository creates a new SQLite meeting repository.
func NewMeetingRepository(pool *ConnectionPool) *MeetingRepository {
	return &MeetingRepository{pool: pool, now: time.Now}
}

const meetingColumns = `m.id, m.organizer_id, m.title, m.description, m.location, m.meeting_type, m.start_at, m.end_at, m.status, m.created_at, m.updated_at, m.version`

// CreateMeeting inserts a meeting and its participants. The guard sees the
// overlapping meetings of the same attendees inside the write transaction.
func (r *MeetingRepository) CreateMeeting(ctx context.Context, meeting persistence.Meeting, guard persistence.MeetingGuard) error {
	if meeting.ID == "" {
		return persistence.ErrConstraintViolation
	}
	r.stamp(&meeting)

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := r.runGuard(ctx, tx, meeting, guard); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO meetings (id, organizer_id, title, description, location, meeting_type, start_at, end_at, status, created_at, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			meeting.ID,
			meeting.OrganizerID,
			meeting.Title,
			meeting.Description,
			meeting.Location,
			meeting.MeetingType,
			formatTime(meeting.Start),
			formatTime(meeting.End),
			meeting.Status,
			formatTime(meeting.CreatedAt),
			formatTime(meeting.UpdatedAt),
		)
		if err != nil {
			return mapError(err)
		}
		return insertParticipants(ctx, tx, meeting)
	})
}

// UpdateMeeting rewrites a meeting and replaces its participants. The
// organizer and creation time are immutable. The write only applies while the
// stored version equals meeting.Version, and bumps it by one.
func (r *MeetingRepository) UpdateMeeting(ctx context.Context, meeting persistence.Meeting, guard persistence.MeetingGuard) error {
	if meeting.ID == "" {
		return persistence.ErrNotFound
	}
	if meeting.UpdatedAt.IsZero() {
		meeting.UpdatedAt = r.now().UTC()
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := checkVersion(ctx, tx, meeting); err != nil {
			return err
		}
		if err := r.runGuard(ctx, tx, meeting, guard); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE meetings SET title = ?, description = ?, location = ?, meeting_type = ?, start_at = ?, end_at = ?, status = ?, updated_at = ?,
			 version = version + 1
			 WHERE id = ? AND version = ?`,
			meeting.Title,
			meeting.Description,
			meeting.Location,
			meeting.MeetingType,
			formatTime(meeting.Start),
			formatTime(meeting.End),
			meeting.Status,
			formatTime(meeting.UpdatedAt),
			meeting.ID,
			meeting.Version,
		)
		if err != nil {
			return mapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return persistence.ErrStaleWrite
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM meeting_participants WHERE meeting_id = ?`, meeting.ID); err != nil {
			return mapError(err)
		}
		return insertParticipants(ctx, tx, meeting)
	})
}

// GetMeeting retrieves a meeting with its participants.
func (r *MeetingRepository) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	if id == "" {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	meetings, err := listMeetings(ctx, r.pool.DB(), `m.id = ?`, []any{id})
	if err != nil {
		return persistence.Meeting{}, err
	}
	if len(meetings) == 0 {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return meetings[0], nil
}

// ListMeetings returns meetings matching the filter ordered by start then ID.
func (r *MeetingRepository) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	where, args := filterClause(filter, "")
	return listMeetings(ctx, r.pool.DB(), where, args)
}

func (r *MeetingRepository) stamp(meeting *persistence.Meeting) {
	if meeting.CreatedAt.IsZero() {
		meeting.CreatedAt = r.now().UTC()
	}
	if meeting.UpdatedAt.IsZero() {
		meeting.UpdatedAt = meeting.CreatedAt
	}
}

func checkVersion(ctx context.Context, tx *sql.Tx, meeting persistence.Meeting) error {
	var stored int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM meetings WHERE id = ?`, meeting.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return mapError(err)
	}
	if stored != meeting.Version {
		return fmt.Errorf("sqlite: meeting %s at version %d, write based on %d: %w",
			meeting.ID, stored, meeting.Version, persistence.ErrStaleWrite)
	}
	return nil
}

func (r *MeetingRepository) runGuard(ctx context.Context, tx *sql.Tx, meeting persistence.Meeting, guard persistence.MeetingGuard) error {
	if guard == nil {
		return nil
	}
	where, args := filterClause(persistence.GuardFilter(meeting), meeting.ID)
	existing, err := listMeetings(ctx, tx, where, args)
	if err != nil {
		return err
	}
	return guard(existing)
}

func insertParticipants(ctx context.Context, tx *sql.Tx, meeting persistence.Meeting) error {
	for _, participant := range meeting.Participants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO meeting_participants (meeting_id, user_id, status) VALUES (?, ?, ?)`,
			meeting.ID, participant.UserID, participant.Status,
		)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

// filterClause renders the WHERE clause for a filter; excludeID drops one meeting.
func filterClause(filter persistence.MeetingFilter, excludeID string) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if filter.StartsAfter != nil {
		conditions = append(conditions, `m.end_at > ?`)
		args = append(args, formatTime(*filter.StartsAfter))
	}
	if filter.EndsBefore != nil {
		conditions = append(conditions, `m.start_at < ?`)
		args = append(args, formatTime(*filter.EndsBefore))
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, `m.status IN (`+placeholders(len(filter.Statuses))+`)`)
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if len(filter.ParticipantIDs) > 0 {
		marks := placeholders(len(filter.ParticipantIDs))
		conditions = append(conditions,
			`(m.organizer_id IN (`+marks+`) OR EXISTS (SELECT 1 FROM meeting_participants p WHERE p.meeting_id = m.id AND p.user_id IN (`+marks+`)))`)
		for range 2 {
			for _, id := range filter.ParticipantIDs {
				args = append(args, id)
			}
		}
	}
	if excludeID != "" {
		conditions = append(conditions, `m.id <> ?`)
		args = append(args, excludeID)
	}
	if len(conditions) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conditions, " AND "), args
}

func listMeetings(ctx context.Context, q queryer, where string, args []any) ([]persistence.Meeting, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+meetingColumns+` FROM meetings m WHERE `+where+` ORDER BY m.start_at ASC, m.id ASC`, args...)
	if err != nil {
		return nil, mapError(err)
	}

	var meetings []persistence.Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		meetings = append(meetings, meeting)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError(err)
	}
	// Release the connection before loading participants; the pool may hold one.
	rows.Close()

	if len(meetings) == 0 {
		return meetings, nil
	}
	if err := loadParticipants(ctx, q, meetings); err != nil {
		return nil, err
	}
	return meetings, nil
}

func loadParticipants(ctx context.Context, q queryer, meetings []persistence.Meeting) error {
	index := make(map[string]int, len(meetings))
	args := make([]any, 0, len(meetings))
	for i, meeting := range meetings {
		index[meeting.ID] = i
		args = append(args, meeting.ID)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT meeting_id, user_id, status FROM meeting_participants WHERE meeting_id IN (`+placeholders(len(args))+`) ORDER BY rowid ASC`,
		args...,
	)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var meetingID string
		var participant persistence.MeetingParticipant
		if err := rows.Scan(&meetingID, &participant.UserID, &participant.Status); err != nil {
			return mapError(err)
		}
		if i, ok := index[meetingID]; ok {
			meetings[i].Participants = append(meetings[i].Participants, participant)
		}
	}
	return mapError(rows.Err())
}

func scanMeeting(row rowScanner) (persistence.Meeting, error) {
	var (
		meeting                             persistence.Meeting
		startAt, endAt, createdAt, updatedAt string
	)
	if err := row.Scan(
		&meeting.ID,
		&meeting.OrganizerID,
		&meeting.Title,
		&meeting.Description,
		&meeting.Location,
		&meeting.MeetingType,
		&startAt,
		&endAt,
		&meeting.Status,
		&createdAt,
		&updatedAt,
		&meeting.Version,
	); err != nil {
		return persistence.Meeting{}, mapError(err)
	}

	var err error
	for _, field := range []struct {
		column string
		raw    string
		dst    *time.Time
	}{
		{"start_at", startAt, &meeting.Start},
		{"end_at", endAt, &meeting.End},
		{"created_at", createdAt, &meeting.CreatedAt},
		{"updated_at", updatedAt, &meeting.UpdatedAt},
	} {
		if *field.dst, err = parseTime(field.column, field.raw); err != nil {
			return persistence.Meeting{}, err
		}
	}
	return meeting, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
