package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
// This implementation is for tests and local development - data is lost on restart.
type SessionStore struct {
	mu sync.RWMutex

	sessions       map[string]*models.Session // session_id -> Session
	sessionsByUser map[string][]string        // sciper -> []session_id

	now func() time.Time
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) {
		s.now = now
	}
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore(opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		sessions:       make(map[string]*models.Session),
		sessionsByUser: make(map[string][]string),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new session in memory.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return store.ErrSessionAlreadyExists
	}

	// Clone to avoid external modifications
	clone := *session
	s.sessions[session.SessionID] = &clone

	s.sessionsByUser[session.UserID] = append(s.sessionsByUser[session.UserID], session.SessionID)

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	if session.IsExpiredAt(s.now()) {
		return nil, store.ErrSessionExpired
	}

	clone := *session
	return &clone, nil
}

// IsValid reports whether the session exists and has not expired.
func (s *SessionStore) IsValid(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return false, nil
	}

	return !session.IsExpiredAt(s.now()), nil
}

// Touch updates the last activity timestamp for a session.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists || session.IsExpiredAt(s.now()) {
		return nil
	}

	session.LastActivityAt = s.now()
	return nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil
	}

	s.removeFromUserIndex(session.UserID, sessionID)
	delete(s.sessions, sessionID)

	return nil
}

// DeleteByUser deletes all sessions for a user (logout everywhere).
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionIDs, exists := s.sessionsByUser[userID]
	if !exists {
		return 0, nil
	}

	for _, sessionID := range sessionIDs {
		delete(s.sessions, sessionID)
	}
	delete(s.sessionsByUser, userID)

	return len(sessionIDs), nil
}

// DeleteExpired deletes all expired sessions.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []string
	now := s.now()

	for id, session := range s.sessions {
		if session.IsExpiredAt(now) {
			toDelete = append(toDelete, id)
		}
	}

	for _, sessionID := range toDelete {
		session := s.sessions[sessionID]
		s.removeFromUserIndex(session.UserID, sessionID)
		delete(s.sessions, sessionID)
	}

	return len(toDelete), nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// removeFromUserIndex removes a session ID from the user's session list.
func (s *SessionStore) removeFromUserIndex(userID, sessionID string) {
	sessionIDs := s.sessionsByUser[userID]
	for i, id := range sessionIDs {
		if id == sessionID {
			s.sessionsByUser[userID] = append(sessionIDs[:i], sessionIDs[i+1:]...)
			break
		}
	}
	if len(s.sessionsByUser[userID]) == 0 {
		delete(s.sessionsByUser, userID)
	}
}
