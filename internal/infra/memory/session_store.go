package memory

import (
	"sync"

	"proctor-quiz-service/internal/attempt"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*attempt.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*attempt.Session),
	}
}

func (s *SessionStore) Put(key string, session *attempt.Session) *attempt.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := s.sessions[key]
	s.sessions[key] = session
	if replaced == session {
		return nil
	}
	return replaced
}

func (s *SessionStore) Get(key string) (*attempt.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

func (s *SessionStore) Delete(key string, session *attempt.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[key]; ok && current == session {
		delete(s.sessions, key)
	}
}

// Len reports how many sessions are registered.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
