// Package cache provides short lived key/value stores for revoked tokens and
// password reset codes, backed by Redis or by process memory.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

// ErrStoreFull is returned when a bounded store holds only pinned entries.
var ErrStoreFull = errors.New("cache: store is full")

// MemoryStore keeps values in process memory until their TTL elapses. It is
// used when no Redis address is configured and in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	now        func() time.Time
	maxEntries int
	pinned     []string
	entries    map[string]memoryEntry
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithPinnedPrefixes keeps keys with any of the prefixes until they expire.
// They are never evicted to make room, and may take the store past its bound.
func WithPinnedPrefixes(prefixes ...string) MemoryOption {
	return func(m *MemoryStore) {
		m.pinned = append(m.pinned, prefixes...)
	}
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore returns an empty store. Non-positive maxEntries selects a
// default bound.
func NewMemoryStore(maxEntries int, now func() time.Time, opts ...MemoryOption) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	m := &MemoryStore{
		now:        now,
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Set stores value under key for ttl. A non-positive ttl deletes the key.
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}

	if err := m.makeRoomLocked(key); err != nil {
		return err
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Increment adds one to the counter under key and returns the new count. A
// missing or expired counter starts at one and lives for ttl; incrementing
// keeps the original expiry.
func (m *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if m == nil {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		if err := m.makeRoomLocked(key); err != nil {
			return 0, err
		}
		m.entries[key] = memoryEntry{value: "1", expiresAt: now.Add(ttl)}
		return 1, nil
	}
	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache: %s does not hold a counter: %w", key, err)
	}
	count++
	entry.value = strconv.FormatInt(count, 10)
	m.entries[key] = entry
	return count, nil
}

// Get returns the value stored under key, reporting false when it is absent
// or expired.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if m == nil {
		return "", false, nil
	}
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		if current, still := m.entries[key]; still && current == entry {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) cleanupLocked() {
	now := m.now()
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}

// makeRoomLocked frees a slot for key when the store is at its bound.
func (m *MemoryStore) makeRoomLocked(key string) error {
	m.cleanupLocked()
	if _, exists := m.entries[key]; exists || len(m.entries) < m.maxEntries {
		return nil
	}
	if m.evictOneLocked() || m.isPinned(key) {
		return nil
	}
	return ErrStoreFull
}

// evictOneLocked drops the unpinned entry closest to expiry and reports
// whether there was one.
func (m *MemoryStore) evictOneLocked() bool {
	var victim string
	var soonest time.Time
	for key, entry := range m.entries {
		if m.isPinned(key) {
			continue
		}
		if victim == "" || entry.expiresAt.Before(soonest) {
			victim = key
			soonest = entry.expiresAt
		}
	}
	if victim == "" {
		return false
	}
	delete(m.entries, victim)
	return true
}

func (m *MemoryStore) isPinned(key string) bool {
	for _, prefix := range m.pinned {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
