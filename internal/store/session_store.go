package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/forumapi/internal/models"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
	ErrSessionAlreadyExists = errors.New("session already exists")
)

// SessionStore persists login sessions.
//
// Every read treats a session whose ExpiresAt is not after now as absent.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// Create stores a new session. Returns ErrSessionAlreadyExists if the ID is taken.
	Create(ctx context.Context, session *models.Session) error

	// Get returns the session, ErrSessionNotFound if absent or ErrSessionExpired if past its expiry.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// IsValid reports whether the session exists and has not expired.
	IsValid(ctx context.Context, sessionID string) (bool, error)

	// Touch sets LastActivityAt to now. Absent sessions are ignored.
	Touch(ctx context.Context, sessionID string) error

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// DeleteExpired removes every expired session and returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)

	// DeleteByUser removes every session of a user (logout everywhere).
	DeleteByUser(ctx context.Context, userID string) (int, error)
}
