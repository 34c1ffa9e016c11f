package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pitabwire/surety/model"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// States are held as JSON so callers never share maps with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte // session ID -> wizard ID -> state
}

// NewMemoryStore creates a new in-memory wizard store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string][]byte)}
}

// Load returns a copy of the stored state.
func (s *MemoryStore) Load(_ context.Context, sessionID, wizardID string) (*model.WizardState, bool, error) {
	s.mu.RLock()
	raw, ok := s.sessions[sessionID][wizardID]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	var state model.WizardState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("unmarshal wizard state: %w", err)
	}
	return &state, true, nil
}

// Save stores a copy of state.
func (s *MemoryStore) Save(_ context.Context, state *model.WizardState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal wizard state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wizards, ok := s.sessions[state.SessionID]
	if !ok {
		wizards = make(map[string][]byte)
		s.sessions[state.SessionID] = wizards
	}
	wizards[state.WizardID] = raw
	return nil
}

// Delete removes one wizard's state.
func (s *MemoryStore) Delete(_ context.Context, sessionID, wizardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions[sessionID], wizardID)
	if len(s.sessions[sessionID]) == 0 {
		delete(s.sessions, sessionID)
	}
	return nil
}

// DeleteAll removes every wizard's state for the session.
func (s *MemoryStore) DeleteAll(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored wizard states. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, w := range s.sessions {
		n += len(w)
	}
	return n
}
