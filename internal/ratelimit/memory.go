package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pruneThreshold bounds how many idle windows are kept before a sweep.
const pruneThreshold = 4096

type window struct {
	start   time.Time
	expires time.Time
	count   int
}

// MemoryStore keeps windows in process memory. It is the default backend for
// a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	// nextSweep is the earliest expiry seen by the last sweep. No window can
	// be pruned before it, so sweeping earlier would free nothing.
	nextSweep time.Time
	sweeps    int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, length time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= length {
		if len(s.windows) >= pruneThreshold && !now.Before(s.nextSweep) {
			s.prune(now)
		}
		w = &window{start: now, expires: now.Add(length)}
		s.windows[key] = w
	}

	d := Decision{Count: w.count, ResetAt: w.start.Add(length)}
	if limit <= 0 || w.count >= limit {
		return d, nil
	}
	w.count++
	d.Allowed = true
	d.Count = w.count
	return d, nil
}

// Len reports how many windows are tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// prune drops expired windows and records when the next one expires.
// Caller holds s.mu.
func (s *MemoryStore) prune(now time.Time) {
	s.sweeps++
	var next time.Time
	for k, w := range s.windows {
		if !now.Before(w.expires) {
			delete(s.windows, k)
			continue
		}
		if next.IsZero() || w.expires.Before(next) {
			next = w.expires
		}
	}
	s.nextSweep = next
}
