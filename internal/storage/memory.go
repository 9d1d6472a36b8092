package storage

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps states and sessions in process. It is the default
// backend for a single replica.
type MemoryStore struct {
	now func() time.Time

	statesMu sync.Mutex
	states   map[string]AuthorizationState

	sessionsMu sync.RWMutex
	sessions   map[string]*Session
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		now:      o.now,
		states:   make(map[string]AuthorizationState),
		sessions: make(map[string]*Session),
	}
}

func (s *MemoryStore) PutState(_ context.Context, state AuthorizationState) error {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	if _, ok := s.states[state.Token]; ok {
		return ErrStateExists
	}
	s.states[state.Token] = state
	return nil
}

// ConsumeState looks up and deletes the state under a single lock.
func (s *MemoryStore) ConsumeState(_ context.Context, token string) (*AuthorizationState, error) {
	s.statesMu.Lock()
	state, ok := s.states[token]
	delete(s.states, token)
	s.statesMu.Unlock()

	if !ok {
		return nil, ErrStateNotFound
	}
	if state.Expired(s.now()) {
		return nil, ErrStateExpired
	}
	return &state, nil
}

func (s *MemoryStore) SweepExpiredStates(_ context.Context) (int, error) {
	now := s.now()

	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	count := 0
	for token, state := range s.states {
		if state.Expired(now) {
			delete(s.states, token)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if existing, ok := s.sessions[session.ID]; ok && !existing.expired(s.now()) {
		return ErrSessionExists
	}
	stored := *session
	stored.Claims = session.Claims.Clone()
	s.sessions[session.ID] = &stored
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.sessionsMu.RLock()
	session, ok := s.sessions[id]
	s.sessionsMu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.expired(s.now()) {
		s.sessionsMu.Lock()
		if s.sessions[id] == session {
			delete(s.sessions, id)
		}
		s.sessionsMu.Unlock()
		return nil, ErrSessionNotFound
	}

	out := *session
	out.Claims = session.Claims.Clone()
	return &out, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
