package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/jumplab/internal/domain/model"
)

// InMemoryStore implements Store with a map plus insertion order. It is the
// default sink for headless runs and tests; production deployments swap in
// a persistent implementation behind the same interface.
type InMemoryStore struct {
	mu      sync.RWMutex
	results map[string]model.TestResult
	order   []string // session IDs, oldest first
}

// NewInMemoryStore creates an empty in-memory result store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		results: make(map[string]model.TestResult),
	}
}

// Save persists a result, rejecting duplicate sessions.
func (s *InMemoryStore) Save(_ context.Context, result model.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[result.SessionID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, result.SessionID)
	}
	s.results[result.SessionID] = result
	s.order = append(s.order, result.SessionID)
	return nil
}

// Get returns the result for a session.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (model.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[sessionID]
	if !ok {
		return model.TestResult{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return r, nil
}

// List returns saved results, newest first.
func (s *InMemoryStore) List(_ context.Context) []model.TestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TestResult, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.results[s.order[i]])
	}
	return out
}

// Count returns the number of saved results.
func (s *InMemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
