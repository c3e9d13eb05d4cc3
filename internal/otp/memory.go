package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when CACHE_IN_MEMORY is set
// and as the fake in tests. Expiry is evaluated lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	clock   Clock
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = systemClock
	}
	return &MemoryStore{
		entries: make(map[string]Entry),
		clock:   clock,
	}
}

func storeKey(namespace, phone string) string {
	return namespace + ":" + phone
}

func (s *MemoryStore) Put(ctx context.Context, namespace, phone string, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ExpiresAt = s.clock().Add(ttl)
	s.entries[storeKey(namespace, phone)] = entry
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, namespace, phone string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(namespace, phone)
	if !ok {
		return Entry{}, ErrCodeExpired
	}
	return entry, nil
}

func (s *MemoryStore) Fail(ctx context.Context, namespace, phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(namespace, phone)
	if !ok {
		return 0, ErrCodeExpired
	}
	entry.Attempts++
	s.entries[storeKey(namespace, phone)] = entry
	return entry.Attempts, nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storeKey(namespace, phone))
	return nil
}

// live must be called with the mutex held.
func (s *MemoryStore) live(namespace, phone string) (Entry, bool) {
	key := storeKey(namespace, phone)
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	if s.clock().After(entry.ExpiresAt) {
		delete(s.entries, key)
		return Entry{}, false
	}
	return entry, true
}

// MemoryCounters is the in-process Counters backend.
type MemoryCounters struct {
	mu       sync.Mutex
	counters map[string]memoryCounter
	clock    Clock
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

func NewMemoryCounters(clock Clock) *MemoryCounters {
	if clock == nil {
		clock = systemClock
	}
	return &MemoryCounters{
		counters: make(map[string]memoryCounter),
		clock:    clock,
	}
}

func (c *MemoryCounters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	mc, ok := c.counters[key]
	if !ok || now.After(mc.expiresAt) {
		mc = memoryCounter{expiresAt: now.Add(ttl)}
	}
	mc.value++
	c.counters[key] = mc
	return mc.value, nil
}

func (c *MemoryCounters) Get(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mc, ok := c.counters[key]
	if !ok || c.clock().After(mc.expiresAt) {
		return 0, nil
	}
	return mc.value, nil
}
