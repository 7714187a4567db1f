package livechat

import (
	"errors"
	"sync"

	"github.com/ihubtech/livechat-server/internal/model/livechat"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrAlreadyClaimed  = errors.New("session already claimed by another agent")
	ErrAlreadyTimedOut = errors.New("session has already timed out")
	ErrInvalidRole     = errors.New("invalid target role")
	ErrInvalidInput    = errors.New("missing required field")
)

// SessionStore is the authoritative in-memory session registry. All state is
// volatile; a restart drops every session. A single mutex serializes request
// handlers and the sweeper so claim, append, transfer, and timeout
// transitions never interleave.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*livechat.Session
}

// NewSessionStore bootstraps an empty registry.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*livechat.Session)}
}

// Create inserts a session under its caller-supplied id.
func (s *SessionStore) Create(session *livechat.Session) {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
}

// Get returns a copy of the session, or false when absent.
func (s *SessionStore) Get(id string) (livechat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return livechat.Session{}, false
	}
	return snapshot(session), true
}

// Update applies mutate to the stored session under the registry lock.
// The mutator observes a consistent view; returning an error leaves any
// partial mutation in place, so mutators must validate before writing.
func (s *SessionStore) Update(id string, mutate func(*livechat.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	return mutate(session)
}

// Delete removes the session. Deleting a missing id is a no-op.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// List returns a point-in-time copy of every session.
func (s *SessionStore) List() []livechat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]livechat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		list = append(list, snapshot(session))
	}
	return list
}

// Len reports the current session count.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// snapshot copies a session including its message slice so callers never
// alias registry-owned memory.
func snapshot(session *livechat.Session) livechat.Session {
	copied := *session
	copied.Messages = append([]livechat.Message(nil), session.Messages...)
	if session.ClaimedAt != nil {
		at := *session.ClaimedAt
		copied.ClaimedAt = &at
	}
	return copied
}
