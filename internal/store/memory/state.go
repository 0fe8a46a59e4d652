package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// StateStore keeps condition state and the fired ledger in maps.
type StateStore struct {
	mu     sync.Mutex
	states map[string]model.ConditionState
	fired  map[string]time.Time
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]model.ConditionState),
		fired:  make(map[string]time.Time),
	}
}

func (s *StateStore) LoadState(_ context.Context, key model.StateKey) (model.ConditionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key.String()]
	return st, ok, nil
}

func (s *StateStore) SaveState(_ context.Context, st model.ConditionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Key.String()] = st
	return nil
}

func (s *StateStore) ClaimBar(_ context.Context, subscriptionID string, bar time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.fired[subscriptionID]; ok && !bar.After(last) {
		return false, nil
	}
	s.fired[subscriptionID] = bar
	return true, nil
}

func (s *StateStore) Close() error { return nil }
