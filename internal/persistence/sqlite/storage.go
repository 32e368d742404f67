package sqlite

import (
	"context"
	"log/slog"

	"github.com/example/assistant-calendar/internal/persistence/sqlite/migration"
)

// Storage bundles a migrated connection pool with its repositories.
type Storage struct {
	*ConnectionPool
	Users    *UserRepository
	Meetings *MeetingRepository
}

// Open connects to the database described by config and applies pending
// migrations.
func Open(ctx context.Context, config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Migrate(ctx, logger); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return &Storage{
		ConnectionPool: pool,
		Users:          NewUserRepository(pool),
		Meetings:       NewMeetingRepository(pool),
	}, nil
}
