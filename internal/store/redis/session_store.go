// Package redis stores sessions in Redis hashes whose key TTL tracks the session expiry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

const (
	fieldSessionID    = "session_id"
	fieldUser         = "user_sciper"
	fieldDisplayName  = "display_name"
	fieldEmail        = "email"
	fieldProviderKey  = "provider_key"
	fieldCreatedAt    = "created_at"
	fieldExpiresAt    = "expires_at"
	fieldLastActivity = "last_activity"
	fieldUserAgent    = "user_agent"
	fieldIPAddress    = "ip_address"
)

// touchScript only updates live keys so an expiring key is never recreated without a TTL.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return 0
`)

// SessionStore implements store.SessionStore using Redis.
//
// Each session is a hash at <prefix>:session:<id> and each user has a set of
// session IDs at <prefix>:user:<sciper>:sessions used by DeleteByUser.
type SessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client redis.UniversalClient, keyPrefix string) *SessionStore {
	if keyPrefix == "" {
		keyPrefix = "forum"
	}
	return &SessionStore{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (s *SessionStore) sessionKey(id string) string {
	return s.keyPrefix + ":session:" + id
}

func (s *SessionStore) userKey(userID string) string {
	return s.keyPrefix + ":user:" + userID + ":sessions"
}

// Create stores a new session with a TTL ending at its expiry.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	key := s.sessionKey(session.SessionID)

	ok, err := s.client.HSetNX(ctx, key, fieldSessionID, session.SessionID).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return store.ErrSessionAlreadyExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			fieldUser:         session.UserID,
			fieldDisplayName:  session.DisplayName,
			fieldEmail:        session.Email,
			fieldProviderKey:  session.ProviderKey,
			fieldCreatedAt:    formatTime(session.CreatedAt),
			fieldExpiresAt:    formatTime(session.ExpiresAt),
			fieldLastActivity: formatTime(session.LastActivityAt),
			fieldUserAgent:    session.UserAgent,
			fieldIPAddress:    session.IPAddress,
		})
		pipe.ExpireAt(ctx, key, session.ExpiresAt)
		pipe.SAdd(ctx, s.userKey(session.UserID), session.SessionID)
		return nil
	})
	if err != nil {
		// do not leave a half written hash behind
		_ = s.client.Del(ctx, key).Err()
		return fmt.Errorf("failed to create session: %w", err)
	}

	log.Debug().
		Str("sciper", session.UserID).
		Time("expires_at", session.ExpiresAt).
		Msg("Created session")

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrSessionNotFound
	}

	session, err := decodeSession(fields)
	if err != nil {
		return nil, err
	}

	if session.IsExpiredAt(s.now()) {
		return nil, store.ErrSessionExpired
	}

	return session, nil
}

// IsValid reports whether the session exists and has not expired.
func (s *SessionStore) IsValid(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.Get(ctx, sessionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
		return false, nil
	default:
		return false, err
	}
}

// Touch updates the last activity timestamp of a live session.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	err := touchScript.Run(ctx, s.client, []string{s.sessionKey(sessionID)}, fieldLastActivity, formatTime(s.now())).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	key := s.sessionKey(sessionID)

	userID, err := s.client.HGet(ctx, key, fieldUser).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if userID != "" {
			pipe.SRem(ctx, s.userKey(userID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// DeleteByUser deletes all sessions for a user (logout everywhere).
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions by user: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}

	var count int64
	if len(keys) > 0 {
		count, err = s.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to delete sessions by user: %w", err)
		}
	}

	if err := s.client.Del(ctx, userKey).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete user session index: %w", err)
	}

	log.Info().
		Str("sciper", userID).
		Int64("count", count).
		Msg("Deleted all sessions for user")

	return int(count), nil
}

// DeleteExpired walks the user indexes, deleting sessions past their expiry that
// Redis has not evicted yet and pruning index entries whose key is gone.
// It returns the number of sessions it deleted itself.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	now := s.now()
	deleted := 0

	iter := s.client.Scan(ctx, 0, s.keyPrefix+":user:*:sessions", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()

		ids, err := s.client.SMembers(ctx, userKey).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to list sessions: %w", err)
		}

		for _, id := range ids {
			raw, err := s.client.HGet(ctx, s.sessionKey(id), fieldExpiresAt).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return deleted, fmt.Errorf("failed to read session expiry: %w", err)
			}

			if errors.Is(err, redis.Nil) {
				if err := s.client.SRem(ctx, userKey, id).Err(); err != nil {
					return deleted, fmt.Errorf("failed to prune session index: %w", err)
				}
				continue
			}

			expiresAt, err := parseTime(raw)
			if err != nil || !expiresAt.After(now) {
				if err := s.Delete(ctx, id); err != nil {
					return deleted, err
				}
				deleted++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan session indexes: %w", err)
	}

	if deleted > 0 {
		log.Info().Int("count", deleted).Msg("Deleted expired sessions")
	}

	return deleted, nil
}

func decodeSession(fields map[string]string) (*models.Session, error) {
	session := &models.Session{
		SessionID:   fields[fieldSessionID],
		UserID:      fields[fieldUser],
		DisplayName: fields[fieldDisplayName],
		Email:       fields[fieldEmail],
		ProviderKey: fields[fieldProviderKey],
		UserAgent:   fields[fieldUserAgent],
		IPAddress:   fields[fieldIPAddress],
	}

	var err error
	if session.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("invalid session created_at: %w", err)
	}
	if session.ExpiresAt, err = parseTime(fields[fieldExpiresAt]); err != nil {
		return nil, fmt.Errorf("invalid session expires_at: %w", err)
	}
	if session.LastActivityAt, err = parseTime(fields[fieldLastActivity]); err != nil {
		return nil, fmt.Errorf("invalid session last_activity: %w", err)
	}

	return session, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
