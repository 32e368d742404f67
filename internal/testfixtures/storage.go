package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/assistant-calendar/internal/persistence"
	"github.com/example/assistant-calendar/internal/persistence/memory"
	"github.com/example/assistant-calendar/internal/persistence/sqlite"
	"github.com/example/assistant-calendar/internal/persistence/sqlite/migration"
)

// StorageHarness exposes the repositories of one persistence backend.
type StorageHarness struct {
	Name     string
	Users    persistence.UserRepository
	Meetings persistence.MeetingRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *StorageHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a migrated SQLite database in a temporary directory.
// The harness is closed automatically when the test finishes.
func NewSQLiteHarness(tb testing.TB) *StorageHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "assistant.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storage, err := sqlite.Open(context.Background(), migration.DefaultSQLiteConfig(path), logger)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	harness := &StorageHarness{
		Name:     "sqlite",
		Users:    storage.Users,
		Meetings: storage.Meetings,
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness returns a harness backed by an empty in-memory store.
func NewMemoryHarness(tb testing.TB) *StorageHarness {
	tb.Helper()
	store := memory.NewStore()
	return &StorageHarness{Name: "memory", Users: store, Meetings: store}
}

// StorageBackends returns a constructor per backend so contract tests can
// build a fresh harness for every case.
func StorageBackends() []func(testing.TB) *StorageHarness {
	return []func(testing.TB) *StorageHarness{NewMemoryHarness, NewSQLiteHarness}
}
