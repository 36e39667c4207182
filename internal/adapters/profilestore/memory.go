package profilestore

import (
	"context"
	"sync"

	"github.com/okian/rentrank/internal/domain/model"
)

// MemoryStore is a process-local Store backed by a map.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]model.Profile
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]model.Profile)}
}

// Get returns a copy of the stored profile.
func (s *MemoryStore) Get(ctx context.Context, id string) (model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return model.Profile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Profile{}, ErrStoreClosed
	}
	p, ok := s.profiles[id]
	if !ok {
		return model.Profile{}, model.ErrProfileNotFound
	}
	return p, nil
}

// Create inserts p if its id is free.
func (s *MemoryStore) Create(ctx context.Context, p model.Profile) (bool, error) {
	if p.ID == "" {
		return false, ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	if _, exists := s.profiles[p.ID]; exists {
		return false, nil
	}
	s.profiles[p.ID] = p
	return true, nil
}

// Merge applies patch to the stored profile under the write lock.
func (s *MemoryStore) Merge(ctx context.Context, id string, patch model.ProfilePatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	p, ok := s.profiles[id]
	if !ok {
		return model.ErrProfileNotFound
	}
	s.profiles[id] = patch.Apply(p)
	return nil
}

// Count returns the number of stored profiles.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Close marks the store closed. Later calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
