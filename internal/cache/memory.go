package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. With a positive max it evicts
// the oldest entry to make room.
type MemoryStore struct {
	max int

	mu    sync.RWMutex
	items map[string]Entry
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{max: maxEntries, items: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	return e, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; !exists && m.max > 0 {
		for len(m.items) >= m.max {
			m.evictOldestLocked()
		}
	}
	m.items[key] = e
	return nil
}

func (m *MemoryStore) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range m.items {
		if !found || e.StoredAt.Before(oldest) {
			oldestKey, oldest, found = k, e.StoredAt, true
		}
	}
	if found {
		delete(m.items, oldestKey)
	}
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.items {
		if !now.Before(e.ExpiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
