package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNotFound is returned by Load when the user has no active flow.
var ErrNotFound = errors.New("progress not found")

// Store keeps the progress of active users, keyed by State.Key. A terminal flow is deleted
// once its outcome has been delivered.
type Store interface {
	Load(ctx context.Context, key string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, key string) error
}

// InMemoryStore is a process-local Store. Callers receive copies, so a State returned by
// Load can be mutated freely until it is saved.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("Creating InMemoryStore")
	return &InMemoryStore{states: make(map[string]*State)}
}

// Load returns a copy of the state stored under key or ErrNotFound.
func (s *InMemoryStore) Load(ctx context.Context, key string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Save stores a copy of state under its key.
func (s *InMemoryStore) Save(ctx context.Context, state *State) error {
	if state == nil || state.UserID == "" {
		return errors.New("cannot save progress without a user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key()] = state.Clone()
	slog.Debug("InMemoryStore Save", "key", state.Key(), "position", state.Position, "status", state.Status)
	return nil
}

// Delete evicts the user's state. Deleting a missing entry is not an error.
func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	slog.Debug("InMemoryStore Delete", "key", key)
	return nil
}

// Len returns the number of active flows.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
