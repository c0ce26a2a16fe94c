package limiter

import (
	"fmt"
	"sync"
	"time"
)

// Policy is one named sliding-window threshold. The same limiter carries
// multiple policies (per-minute/hour/day plus the spam burst window) so that
// every rolling-window decision in the pipeline shares one mechanism.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Result is the outcome of a single check-and-append.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	// RetryAfter is non-zero when the check was rejected.
	RetryAfter time.Duration
}

// Store is the single increment-and-check primitive the limiter runs on.
// Implementations must make Take atomic with respect to concurrent callers;
// a shared store (e.g. a transactional counter) can be injected for
// multi-instance deployments.
type Store interface {
	Take(key string, now time.Time, window time.Duration, limit int) Result
}

// MemoryStore keeps ordered request timestamps per key behind one mutex.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time)}
}

func (s *MemoryStore) Take(key string, now time.Time, window time.Duration, limit int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.hits[key]

	// Drop everything that has left the window.
	cutoff := now.Add(-window)
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		oldest := kept[0]
		s.hits[key] = kept
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			Reset:      oldest.Add(window),
			RetryAfter: oldest.Add(window).Sub(now),
		}
	}

	kept = append(kept, now)
	s.hits[key] = kept

	reset := kept[0].Add(window)
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(kept),
		Reset:     reset,
	}
}

// Len reports the tracked key count (used by tests and the janitor).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

// Sweep removes keys whose newest entry is older than maxAge.
func (s *MemoryStore) Sweep(now time.Time, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entries := range s.hits {
		if len(entries) == 0 || now.Sub(entries[len(entries)-1]) > maxAge {
			delete(s.hits, key)
		}
	}
}

// Limiter applies named policies against an injected store.
type Limiter struct {
	store Store
}

func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Allow runs one check-and-append for identifier under the given policy.
// Policies with a non-positive limit never reject.
func (l *Limiter) Allow(identifier string, p Policy, now time.Time) Result {
	if p.Limit <= 0 {
		return Result{Allowed: true, Limit: 0, Remaining: 0, Reset: now}
	}
	key := fmt.Sprintf("%s:%s", p.Name, identifier)
	return l.store.Take(key, now, p.Window, p.Limit)
}

// AllowAll checks the policies in order and returns the first rejection, or
// the result of the tightest (first) policy when all pass.
func (l *Limiter) AllowAll(identifier string, policies []Policy, now time.Time) Result {
	var first Result
	for i, p := range policies {
		res := l.Allow(identifier, p, now)
		if !res.Allowed {
			return res
		}
		if i == 0 {
			first = res
		}
	}
	return first
}
