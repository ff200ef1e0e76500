package models

import (
	"time"
)

// Session represents one completed login against the identity provider.
// The session ID is referenced by the sid claim of every bearer token minted for it,
// while all session data lives server-side.
type Session struct {
	SessionID   string // 64 hex chars, 256 bits from crypto/rand
	UserID      string // sciper
	DisplayName string
	Email       string

	CreatedAt      time.Time
	ExpiresAt      time.Time // fixed at creation, refresh never moves it
	LastActivityAt time.Time

	// Legacy Tequila request key, empty for OIDC logins.
	ProviderKey string

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the session is expired at the given instant.
// A session whose expiry equals now is already expired.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
