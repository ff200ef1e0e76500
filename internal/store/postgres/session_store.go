package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

// Create creates a new session in the database.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			session_id, user_sciper, user_display_name, user_email, provider_key,
			created_at, expires_at, last_activity,
			user_agent, ip_address
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10::inet
		)
	`

	// empty string is not a valid INET
	var ipAddress any
	if session.IPAddress != "" {
		ipAddress = session.IPAddress
	}

	_, err := s.pool.Exec(ctx, query,
		session.SessionID,
		session.UserID,
		session.DisplayName,
		session.Email,
		session.ProviderKey,
		session.CreatedAt,
		session.ExpiresAt,
		session.LastActivityAt,
		session.UserAgent,
		ipAddress,
	)
	if err != nil {
		if mapped := mapPostgresError(err); errors.Is(mapped, store.ErrSessionAlreadyExists) {
			return mapped
		}
		return fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("sciper", session.UserID).
		Time("expires_at", session.ExpiresAt).
		Msg("Created session")

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT
			session_id, user_sciper, user_display_name, user_email, provider_key,
			created_at, expires_at, last_activity,
			user_agent, COALESCE(host(ip_address), '')
		FROM sessions
		WHERE session_id = $1
	`

	var session models.Session
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.UserID,
		&session.DisplayName,
		&session.Email,
		&session.ProviderKey,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.LastActivityAt,
		&session.UserAgent,
		&session.IPAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", mapPostgresError(err))
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return &session, nil
}

// IsValid reports whether the session exists and has not expired.
func (s *SessionStore) IsValid(ctx context.Context, sessionID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM sessions WHERE session_id = $1 AND expires_at > $2
		)
	`

	var valid bool
	if err := s.pool.QueryRow(ctx, query, sessionID, time.Now()).Scan(&valid); err != nil {
		return false, fmt.Errorf("failed to check session: %w", mapPostgresError(err))
	}

	return valid, nil
}

// Touch updates the last_activity timestamp of a live session.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	query := `
		UPDATE sessions
		SET last_activity = $2
		WHERE session_id = $1 AND expires_at > $2
	`

	if _, err := s.pool.Exec(ctx, query, sessionID, time.Now()); err != nil {
		return fmt.Errorf("failed to update session last_activity: %w", mapPostgresError(err))
	}

	return nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", mapPostgresError(err))
	}

	log.Debug().
		Int64("rows", result.RowsAffected()).
		Msg("Deleted session")

	return nil
}

// DeleteByUser deletes all sessions for a user (logout everywhere).
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_sciper = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions by user: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	log.Info().
		Str("sciper", userID).
		Int("count", count).
		Msg("Deleted all sessions for user")

	return count, nil
}

// DeleteExpired deletes all expired sessions.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	if count > 0 {
		log.Info().
			Int("count", count).
			Msg("Deleted expired sessions")
	}

	return count, nil
}
