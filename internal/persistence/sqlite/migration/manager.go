package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"
)

// Manager applies pending migrations from a source to a database.
type Manager struct {
	db     *sql.DB
	source fs.FS
	logger *slog.Logger
	now    func() time.Time
}

// NewManager builds a Manager. A nil source selects the embedded schema.
func NewManager(db *sql.DB, source fs.FS, logger *slog.Logger) *Manager {
	if source == nil {
		source = Embedded()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, source: source, logger: logger.With("component", "migration"), now: time.Now}
}

// Run executes every pending migration in version order and returns the
// versions it applied.
func (m *Manager) Run(ctx context.Context) ([]string, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(status.Pending) == 0 {
		m.logger.InfoContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil, nil
	}

	applied := make([]string, 0, len(status.Pending))
	for _, migration := range status.Pending {
		started := m.now()
		if err := m.execute(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", migration.Version, "file", migration.FilePath, "error", err)
			return applied, err
		}
		m.logger.InfoContext(ctx, "migration applied",
			"version", migration.Version,
			"description", migration.Description,
			"duration_ms", m.now().Sub(started).Milliseconds(),
		)
		applied = append(applied, migration.Version)
	}
	return applied, nil
}

// Status compares the source with the schema_migrations table.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.initVersionTable(ctx); err != nil {
		return Status{}, err
	}

	available, err := Scan(m.source)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	done := make(map[string]struct{}, len(applied))
	status := Status{Applied: applied}
	for _, a := range applied {
		done[a.Version] = struct{}{}
		if versionNumber(a.Version) > versionNumber(status.CurrentVersion) {
			status.CurrentVersion = a.Version
		}
	}
	for _, migration := range available {
		if _, ok := done[migration.Version]; !ok {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}

func (m *Manager) initVersionTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func (m *Manager) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			a         AppliedMigration
			appliedAt string
			millis    int64
		)
		if err := rows.Scan(&a.Version, &appliedAt, &a.Checksum, &millis); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		if a.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
			return nil, fmt.Errorf("parse applied_at of %s: %w", a.Version, err)
		}
		a.ExecutionTime = time.Duration(millis) * time.Millisecond
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func (m *Manager) execute(ctx context.Context, migration Migration) (err error) {
	started := m.now()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(migration, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	for i, stmt := range splitStatements(migration.SQL) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return newMigrationError(migration, fmt.Sprintf("execute statement %d", i+1), execErr)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`,
		migration.Version, m.now().UTC().Format(time.RFC3339), migration.Checksum, m.now().Sub(started).Milliseconds(),
	)
	if err != nil {
		return newMigrationError(migration, "record migration", err)
	}
	if err = tx.Commit(); err != nil {
		return newMigrationError(migration, "commit transaction", err)
	}
	return nil
}

// validateSequence rejects gaps in the available versions, applied versions
// without a file and files edited after they were applied.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[string]Migration, len(available))
	for i, migration := range available {
		byVersion[migration.Version] = migration
		if i > 0 && versionNumber(migration.Version) != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing version before %s", ErrVersionConflict, migration.Version)
		}
	}
	for _, a := range applied {
		migration, ok := byVersion[a.Version]
		if !ok {
			return fmt.Errorf("%w: applied version %s has no migration file", ErrVersionConflict, a.Version)
		}
		if a.Checksum != "" && a.Checksum != migration.Checksum {
			return newMigrationError(migration, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
