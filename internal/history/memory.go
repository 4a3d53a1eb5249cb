package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"wildid/internal/models"
)

// MemoryStorage keeps identifications in process memory. Intended for tests
// and single-node development setups; everything is lost on restart.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]*models.Identification
}

// NewMemoryStorage creates an empty in-memory history store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]*models.Identification)}
}

// Save stores a copy of the identification.
func (m *MemoryStorage) Save(ctx context.Context, ident *models.Identification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ident
	m.items[ident.ID] = &cp
	return nil
}

// List returns the identity's identifications, newest first.
func (m *MemoryStorage) List(ctx context.Context, identity string, limit int) ([]*models.Identification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Identification
	for _, ident := range m.items {
		if ident.Identity == identity {
			cp := *ident
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get retrieves a single identification by ID.
func (m *MemoryStorage) Get(ctx context.Context, id string) (*models.Identification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

// RecordFeedback attaches feedback to a stored identification.
func (m *MemoryStorage) RecordFeedback(ctx context.Context, id, feedback string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	ident.Feedback = feedback
	ident.FeedbackAt = &at
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStorage) Close() error {
	return nil
}
