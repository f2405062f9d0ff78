package mission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/types"
)

// MemoryStore keeps missions in process memory. It is used by tests and by
// single-shot CLI runs.
type MemoryStore struct {
	mu       sync.RWMutex
	missions map[types.ID]*Mission
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions: make(map[types.ID]*Mission),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, m *Mission) error {
	if m == nil {
		return fmt.Errorf("mission cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.missions[m.ID]; exists {
		return fmt.Errorf("%w: %s", ErrMissionExists, m.ID)
	}
	s.missions[m.ID] = m.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, id types.ID, status Status, delta Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := m.Clone()
	if err := updated.Apply(status, delta, s.now()); err != nil {
		return err
	}
	s.missions[id] = updated
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Mission
	for _, m := range s.missions {
		if filter.matches(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
