package common

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a caller exceeded its configured rate.
var ErrThrottled = errors.New("request throttled")

// RateLimit describes a token bucket refilled at PerMinute events per minute.
type RateLimit struct {
	PerMinute float64
	Burst     int
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is an explicitly owned per-key limiter table. Idle keys are evicted
// after IdleTTL and the table never exceeds MaxKeys entries, so callers can
// pass it to engines instead of relying on process-wide maps.
type Throttle struct {
	limit   RateLimit
	idleTTL time.Duration
	maxKeys int

	mu      sync.Mutex
	entries map[string]*throttleEntry
	now     func() time.Time
}

// NewThrottle constructs a throttle. A non-positive PerMinute disables limiting.
func NewThrottle(limit RateLimit, idleTTL time.Duration, maxKeys int) *Throttle {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return &Throttle{
		limit:   limit,
		idleTTL: idleTTL,
		maxKeys: maxKeys,
		entries: make(map[string]*throttleEntry),
		now:     time.Now,
	}
}

// SetClock overrides the clock used for eviction and token refill.
func (t *Throttle) SetClock(now func() time.Time) {
	if t == nil || now == nil {
		return
	}
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Allow consumes one token for key, returning ErrThrottled when none remain.
func (t *Throttle) Allow(key string) error {
	if t == nil || t.limit.PerMinute <= 0 {
		return nil
	}
	normalized := strings.ToLower(strings.TrimSpace(key))
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.evictLocked(now)
	entry, ok := t.entries[normalized]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(rate.Limit(t.limit.PerMinute/60.0), t.limit.Burst)}
		t.entries[normalized] = entry
	}
	entry.lastSeen = now
	if !entry.limiter.AllowN(now, 1) {
		return ErrThrottled
	}
	return nil
}

// Len reports the number of tracked keys.
func (t *Throttle) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Throttle) evictLocked(now time.Time) {
	for key, entry := range t.entries {
		if now.Sub(entry.lastSeen) >= t.idleTTL {
			delete(t.entries, key)
		}
	}
	if t.maxKeys <= 0 || len(t.entries) < t.maxKeys {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, entry := range t.entries {
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey, oldest = key, entry.lastSeen
		}
	}
	delete(t.entries, oldestKey)
}
