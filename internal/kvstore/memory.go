package kvstore

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// entry holds a value and its expiry deadline. A zero deadline never expires.
type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-memory Store for single-process deployments and tests.
// A background goroutine periodically evicts expired entries; reads also
// treat expired entries as absent so correctness does not depend on janitor
// timing. State is lost on process restart - multi-process deployments must
// use the redis backend instead.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	closed  bool

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewMemoryStore creates an in-memory store and starts its eviction goroutine.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go m.janitor(cleanupInterval)
	return m
}

// Get returns the value for key, or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}

	// Return a copy to prevent external modification.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key, replacing any existing value.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = m.newEntry(value, ttl)
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// CompareAndSwap atomically replaces the value under key with next when the
// current value equals expected. See the Store contract for the nil-expected
// create-if-missing form.
func (m *MemoryStore) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && e.expired(m.now()) {
		delete(m.entries, key)
		ok = false
	}

	if expected == nil {
		if ok {
			return ErrConflict
		}
		m.entries[key] = m.newEntry(next, ttl)
		return nil
	}

	if !ok {
		return ErrNotFound
	}
	if !bytes.Equal(e.value, expected) {
		return ErrConflict
	}

	m.entries[key] = m.newEntry(next, ttl)
	return nil
}

// Close stops the eviction goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryStore) newEntry(value []byte, ttl time.Duration) *entry {
	stored := make([]byte, len(value))
	copy(stored, value)

	e := &entry{value: stored}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}

func (m *MemoryStore) janitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryStore) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}
