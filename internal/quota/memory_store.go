package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. It is only suitable for a
// single replica; every replica would otherwise grant its own quota.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
	sweepAt  time.Time
}

type memoryCounter struct {
	count   int64
	expires time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Admit(_ context.Context, key string, limit int, window time.Duration) (Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now, window)

	entry, ok := s.counters[key]
	if !ok || !now.Before(entry.expires) {
		entry = &memoryCounter{expires: now.Add(window)}
		s.counters[key] = entry
	}
	if entry.count >= int64(limit) {
		return Counter{Count: entry.count, TTL: entry.expires.Sub(now)}, false, nil
	}
	entry.count++
	return Counter{Count: entry.count, TTL: entry.expires.Sub(now)}, true, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.counters[key]
	if !ok || !now.Before(entry.expires) {
		return Counter{}, nil
	}
	return Counter{Count: entry.count, TTL: entry.expires.Sub(now)}, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// sweepLocked drops expired counters at most once per window.
func (s *MemoryStore) sweepLocked(now time.Time, window time.Duration) {
	if now.Before(s.sweepAt) {
		return
	}
	for key, entry := range s.counters {
		if !now.Before(entry.expires) {
			delete(s.counters, key)
		}
	}
	s.sweepAt = now.Add(window)
}
