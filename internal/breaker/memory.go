package breaker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Load(_ context.Context, userID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := state
	return &copy, nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.UserID] = *state
	return nil
}

func (m *MemoryStore) IncrementCounter(_ context.Context, userID, counter string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.states[userID]
	state.UserID = userID
	switch counter {
	case CounterRug:
		state.Counters.Rug++
		m.states[userID] = state
		return state.Counters.Rug, nil
	case CounterTax:
		state.Counters.Tax++
		m.states[userID] = state
		return state.Counters.Tax, nil
	case CounterFreeze:
		state.Counters.Freeze++
		m.states[userID] = state
		return state.Counters.Freeze, nil
	}
	return 0, ErrNotFound
}

// StubAuthorizer is an Authorizer for tests. Admins listed in Denied are
// refused; everyone else passes.
type StubAuthorizer struct {
	Denied map[string]bool
	Err    error
	Calls  int
}

// Compile-time interface check.
var _ Authorizer = (*StubAuthorizer)(nil)

func (s *StubAuthorizer) Authorize(_ context.Context, adminID, _ string) error {
	s.Calls++
	if s.Err != nil {
		return s.Err
	}
	if s.Denied[adminID] {
		return fmt.Errorf("breaker: admin %s lacks reset role", adminID)
	}
	return nil
}
