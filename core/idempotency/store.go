package idempotency

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"launchpad/observability"
)

const (
	// DefaultTTL bounds how long a processed key is remembered.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxEntries caps the in-memory store; the least recently seen
	// key is evicted first.
	DefaultMaxEntries = 100_000
)

// ErrEmptyKey is returned when the idempotency key is blank.
var ErrEmptyKey = errors.New("idempotency: key required")

// Store remembers processed keys so redelivered work can be skipped.
type Store interface {
	// Remember records key and reports whether it was seen for the first
	// time. A zero ttl uses the store default.
	Remember(ctx context.Context, key string, ttl time.Duration) (fresh bool, err error)
	// Seen reports whether key is currently remembered.
	Seen(ctx context.Context, key string) (bool, error)
}

type entry struct {
	key    string
	expiry time.Time
}

// MemoryStore is a bounded TTL store. Expired keys are dropped lazily on
// access and overflow evicts the least recently seen key.
type MemoryStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List
	now        func() time.Time
	metrics    *observability.SettlementMetrics
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds a store. Non-positive arguments fall back to the
// package defaults.
func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
		metrics:    observability.Settlement(),
	}
}

// SetNowFunc overrides the clock, primarily for tests.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Remember implements Store.
func (s *MemoryStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.removeExpiredLocked(now)

	if elem := s.lookupLocked(key, now); elem != nil {
		s.order.MoveToFront(elem)
		s.metrics.RecordIdempotency("memory", true)
		return false, nil
	}
	s.entries[key] = s.order.PushFront(&entry{key: key, expiry: now.Add(ttl)})
	for len(s.entries) > s.maxEntries {
		s.removeLocked(s.order.Back())
	}
	s.metrics.RecordIdempotency("memory", false)
	return true, nil
}

// Seen implements Store.
func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(key, s.now()) != nil, nil
}

// Forget drops key so the work it guards can run again.
func (s *MemoryStore) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem := s.entries[strings.TrimSpace(key)]; elem != nil {
		s.removeLocked(elem)
	}
}

// Len reports the number of remembered keys, expired ones included until
// they are next touched.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) lookupLocked(key string, now time.Time) *list.Element {
	elem := s.entries[key]
	if elem == nil {
		return nil
	}
	if rec := elem.Value.(*entry); !now.Before(rec.expiry) {
		s.removeLocked(elem)
		return nil
	}
	return elem
}

func (s *MemoryStore) removeExpiredLocked(now time.Time) {
	for {
		elem := s.order.Back()
		if elem == nil {
			return
		}
		if now.Before(elem.Value.(*entry).expiry) {
			return
		}
		s.removeLocked(elem)
	}
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	s.order.Remove(elem)
	delete(s.entries, elem.Value.(*entry).key)
}
