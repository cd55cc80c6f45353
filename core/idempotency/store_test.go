package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(ttl time.Duration, max int) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(ttl, max)
	store.SetNowFunc(clock.Now)
	return store, clock
}

func TestMemoryStoreRejectsReplay(t *testing.T) {
	store, _ := newTestStore(time.Minute, 10)
	ctx := context.Background()

	fresh, err := store.Remember(ctx, "tx-1", 0)
	if err != nil || !fresh {
		t.Fatalf("expected first delivery to be fresh, got %v %v", fresh, err)
	}
	fresh, err = store.Remember(ctx, " tx-1 ", 0)
	if err != nil || fresh {
		t.Fatalf("expected redelivery to be rejected, got %v %v", fresh, err)
	}
	seen, err := store.Seen(ctx, "tx-1")
	if err != nil || !seen {
		t.Fatalf("expected key to be seen")
	}
}

func TestMemoryStoreExpiresKeys(t *testing.T) {
	store, clock := newTestStore(time.Minute, 10)
	ctx := context.Background()

	if _, err := store.Remember(ctx, "tx-1", 0); err != nil {
		t.Fatalf("remember: %v", err)
	}
	clock.now = clock.now.Add(time.Minute)
	if seen, _ := store.Seen(ctx, "tx-1"); seen {
		t.Fatalf("expected key to expire at ttl")
	}
	fresh, err := store.Remember(ctx, "tx-1", 0)
	if err != nil || !fresh {
		t.Fatalf("expected expired key to be fresh again")
	}
}

func TestMemoryStoreEvictsLeastRecentlySeen(t *testing.T) {
	store, _ := newTestStore(time.Hour, 2)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if _, err := store.Remember(ctx, key, 0); err != nil {
			t.Fatalf("remember %s: %v", key, err)
		}
	}
	// Touch "a" so "b" becomes the eviction candidate.
	if fresh, _ := store.Remember(ctx, "a", 0); fresh {
		t.Fatalf("expected replay of a")
	}
	if _, err := store.Remember(ctx, "c", 0); err != nil {
		t.Fatalf("remember c: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected store capped at 2, got %d", store.Len())
	}
	if seen, _ := store.Seen(ctx, "b"); seen {
		t.Fatalf("expected b to be evicted")
	}
	if seen, _ := store.Seen(ctx, "a"); !seen {
		t.Fatalf("expected a to survive")
	}
}

func TestMemoryStoreForget(t *testing.T) {
	store, _ := newTestStore(time.Hour, 2)
	ctx := context.Background()
	if _, err := store.Remember(ctx, "a", 0); err != nil {
		t.Fatalf("remember: %v", err)
	}
	store.Forget("a")
	if fresh, _ := store.Remember(ctx, "a", 0); !fresh {
		t.Fatalf("expected forgotten key to be fresh")
	}
}

func TestMemoryStoreValidatesInput(t *testing.T) {
	store, _ := newTestStore(time.Hour, 2)
	if _, err := store.Remember(context.Background(), "  ", 0); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Remember(ctx, "a", 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
