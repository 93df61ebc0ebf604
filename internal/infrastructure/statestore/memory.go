package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/lightfastai/connections/internal/domain/entities"
	"github.com/lightfastai/connections/internal/domain/repositories"
)

type memoryEntry struct {
	data      entities.StateData
	expiresAt time.Time
}

type memoryResult struct {
	result    entities.CallbackResult
	expiresAt time.Time
}

// MemoryStore is an in-process StateStore for tests and local development.
// The Now field is swappable so expiry can be simulated without sleeping.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[string]memoryEntry
	results map[string]memoryResult

	Now func() time.Time
}

// NewMemoryStore creates an in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]memoryEntry),
		results: make(map[string]memoryResult),
		Now:     time.Now,
	}
}

// Put stores the state payload under token with the given TTL.
func (s *MemoryStore) Put(ctx context.Context, token string, data entities.StateData, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[token] = memoryEntry{data: data, expiresAt: s.Now().Add(ttl)}
	return nil
}

// TakeOnce retrieves and deletes the state payload atomically.
func (s *MemoryStore) TakeOnce(ctx context.Context, token string) (*entities.StateData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[token]
	if !ok {
		return nil, repositories.ErrStateNotFound
	}
	delete(s.states, token)

	if s.Now().After(entry.expiresAt) {
		return nil, repositories.ErrStateNotFound
	}
	data := entry.data
	return &data, nil
}

// PutResult records the callback outcome under token.
func (s *MemoryStore) PutResult(ctx context.Context, token string, result entities.CallbackResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[token] = memoryResult{result: result, expiresAt: s.Now().Add(ttl)}
	return nil
}

// GetResult reads the callback outcome without consuming it.
func (s *MemoryStore) GetResult(ctx context.Context, token string) (*entities.CallbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.results[token]
	if !ok || s.Now().After(entry.expiresAt) {
		return nil, repositories.ErrStateNotFound
	}
	result := entry.result
	return &result, nil
}

// Ensure MemoryStore implements StateStore
var _ StateStore = (*MemoryStore)(nil)
