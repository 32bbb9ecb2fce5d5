package coord

import "sync"

// Store tracks the coordination state of every active request.
// Each request gets an independent RequestState; nothing is shared between
// requests, so re-submitting an identical trip never leaks state.
type Store struct {
	mu     sync.RWMutex
	states map[string]*RequestState
}

// NewStore creates an empty coordination store.
func NewStore() *Store {
	return &Store{states: make(map[string]*RequestState)}
}

// Add registers the coordination state for a request.
func (s *Store) Add(state *RequestState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RequestID()] = state
}

// Get returns the coordination state for a request, or nil if unknown.
func (s *Store) Get(requestID string) *RequestState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[requestID]
}

// Remove archives a request's state once all its tasks are terminal and
// results have been merged.
func (s *Store) Remove(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, requestID)
}

// Count returns the number of active requests.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
