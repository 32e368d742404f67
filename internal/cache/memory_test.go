package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreSetAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(4, time.Now)

	if err := store.Set(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, err := store.Get(ctx, "key")
	if err != nil || !ok || value != "value" {
		t.Fatalf("expected hit, got %q %v %v", value, ok, err)
	}

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore(4, func() time.Time { return current })

	_ = store.Set(ctx, "key", "value", time.Second)
	if _, ok, _ := store.Get(ctx, "key"); !ok {
		t.Fatalf("expected cache hit before expiry")
	}

	current = current.Add(time.Second)
	if _, ok, _ := store.Get(ctx, "key"); ok {
		t.Fatalf("expected cache entry to expire")
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, %d left", store.Len())
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(4, time.Now)
	_ = store.Set(ctx, "key", "value", time.Minute)
	_ = store.Delete(ctx, "key")
	if _, ok, _ := store.Get(ctx, "key"); ok {
		t.Fatalf("expected key to be gone after Delete")
	}

	_ = store.Set(ctx, "other", "value", time.Minute)
	_ = store.Set(ctx, "other", "value", 0)
	if _, ok, _ := store.Get(ctx, "other"); ok {
		t.Fatalf("expected zero ttl to delete the key")
	}
}

func TestMemoryStoreEvictsSoonestExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(2, time.Now)
	_ = store.Set(ctx, "short", "1", time.Minute)
	_ = store.Set(ctx, "long", "2", time.Hour)
	_ = store.Set(ctx, "new", "3", time.Hour)

	if store.Len() != 2 {
		t.Fatalf("expected store to stay bounded, got %d", store.Len())
	}
	if _, ok, _ := store.Get(ctx, "short"); ok {
		t.Fatalf("expected the entry closest to expiry to be evicted")
	}
	if _, ok, _ := store.Get(ctx, "long"); !ok {
		t.Fatalf("expected long lived entry to survive")
	}
}

func TestMemoryStoreIncrement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	current := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore(4, func() time.Time { return current })

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "attempts", time.Minute)
		if err != nil || got != want {
			t.Fatalf("expected count %d, got %d (%v)", want, got, err)
		}
		current = current.Add(10 * time.Second)
	}

	// The first increment fixed the expiry.
	current = current.Add(31 * time.Second)
	if value, ok, _ := store.Get(ctx, "attempts"); ok {
		t.Fatalf("expected counter to expire with its first ttl, got %q", value)
	}
	if got, _ := store.Increment(ctx, "attempts", time.Minute); got != 1 {
		t.Fatalf("expected an expired counter to restart, got %d", got)
	}

	_ = store.Set(ctx, "word", "abc", time.Minute)
	if _, err := store.Increment(ctx, "word", time.Minute); err == nil {
		t.Fatal("expected non numeric values to be rejected")
	}
}

func TestMemoryStorePinnedPrefixesSurviveFloods(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(3, time.Now, WithPinnedPrefixes("revoked:"))
	_ = store.Set(ctx, "revoked:a", "alice", time.Hour)
	_ = store.Set(ctx, "revoked:b", "bob", time.Hour)

	for i := 0; i < 10; i++ {
		if err := store.Set(ctx, fmt.Sprintf("password-reset:%d", i), "123456", time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	for _, key := range []string{"revoked:a", "revoked:b"} {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Fatalf("expected %s to survive eviction", key)
		}
	}
	if store.Len() != 3 {
		t.Fatalf("expected store to stay bounded, got %d", store.Len())
	}

	_ = store.Set(ctx, "revoked:c", "carol", time.Hour)
	if _, ok, _ := store.Get(ctx, "revoked:c"); !ok {
		t.Fatal("expected a new pinned key to be stored")
	}
	if err := store.Set(ctx, "password-reset:late", "1", time.Hour); !errors.Is(err, ErrStoreFull) {
		t.Fatalf("expected ErrStoreFull once only pinned keys remain, got %v", err)
	}
}
