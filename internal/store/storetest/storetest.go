// Package storetest holds behaviour tests shared by every store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

var seq atomic.Int64

// NewSession returns a session for user expiring after ttl, which may be negative.
func NewSession(userID string, ttl time.Duration) *models.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Session{
		SessionID:      fmt.Sprintf("%064x", seq.Add(1)+time.Now().UnixNano()),
		UserID:         userID,
		DisplayName:    "Ada Lovelace",
		Email:          "ada@example.org",
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
	}
}

// RunSessionStore exercises the store.SessionStore contract against a fresh store per subtest.
func RunSessionStore(t *testing.T, newStore func(t *testing.T) store.SessionStore) {
	t.Run("create and get", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		sess := NewSession("100001", time.Hour)
		require.NoError(t, st.Create(ctx, sess))

		got, err := st.Get(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Equal(t, sess.SessionID, got.SessionID)
		require.Equal(t, sess.UserID, got.UserID)
		require.Equal(t, sess.DisplayName, got.DisplayName)
		require.Equal(t, sess.Email, got.Email)
		require.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		sess := NewSession("100001", time.Hour)
		require.NoError(t, st.Create(ctx, sess))

		err := st.Create(ctx, sess)
		require.ErrorIs(t, err, store.ErrSessionAlreadyExists)
	})

	t.Run("unknown id", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		_, err := st.Get(ctx, "does-not-exist")
		require.ErrorIs(t, err, store.ErrSessionNotFound)

		valid, err := st.IsValid(ctx, "does-not-exist")
		require.NoError(t, err)
		require.False(t, valid)
	})

	t.Run("expired session is absent", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		sess := NewSession("100001", -time.Minute)
		require.NoError(t, st.Create(ctx, sess))

		_, err := st.Get(ctx, sess.SessionID)
		require.True(t, errors.Is(err, store.ErrSessionExpired) || errors.Is(err, store.ErrSessionNotFound), "got %v", err)

		valid, err := st.IsValid(ctx, sess.SessionID)
		require.NoError(t, err)
		require.False(t, valid)
	})

	t.Run("touch updates last activity only", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		sess := NewSession("100001", time.Hour)
		sess.LastActivityAt = sess.CreatedAt.Add(-time.Hour)
		require.NoError(t, st.Create(ctx, sess))

		require.NoError(t, st.Touch(ctx, sess.SessionID))

		got, err := st.Get(ctx, sess.SessionID)
		require.NoError(t, err)
		require.True(t, got.LastActivityAt.After(sess.LastActivityAt))
		require.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("touch absent session is a no-op", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.Touch(context.Background(), "does-not-exist"))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		sess := NewSession("100001", time.Hour)
		require.NoError(t, st.Create(ctx, sess))

		require.NoError(t, st.Delete(ctx, sess.SessionID))
		require.NoError(t, st.Delete(ctx, sess.SessionID))

		valid, err := st.IsValid(ctx, sess.SessionID)
		require.NoError(t, err)
		require.False(t, valid)
	})

	t.Run("delete expired keeps live sessions", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		live := NewSession("100001", time.Hour)
		dead := NewSession("100002", -time.Minute)
		require.NoError(t, st.Create(ctx, live))
		require.NoError(t, st.Create(ctx, dead))

		_, err := st.DeleteExpired(ctx)
		require.NoError(t, err)

		valid, err := st.IsValid(ctx, live.SessionID)
		require.NoError(t, err)
		require.True(t, valid)

		_, err = st.Get(ctx, dead.SessionID)
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("delete by user", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		a1 := NewSession("100001", time.Hour)
		a2 := NewSession("100001", time.Hour)
		b := NewSession("100002", time.Hour)
		for _, s := range []*models.Session{a1, a2, b} {
			require.NoError(t, st.Create(ctx, s))
		}

		count, err := st.DeleteByUser(ctx, "100001")
		require.NoError(t, err)
		require.Equal(t, 2, count)

		for _, id := range []string{a1.SessionID, a2.SessionID} {
			valid, err := st.IsValid(ctx, id)
			require.NoError(t, err)
			require.False(t, valid)
		}

		valid, err := st.IsValid(ctx, b.SessionID)
		require.NoError(t, err)
		require.True(t, valid)
	})
}

// RunUserStore exercises the store.UserStore contract.
func RunUserStore(t *testing.T, newStore func(t *testing.T) store.UserStore) {
	t.Run("create and get", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		require.NoError(t, st.Create(ctx, &models.User{
			Sciper: "100001",
			Name:   "Ada Lovelace",
			Email:  "ada@example.org",
			Role:   models.RoleStudent,
		}))

		got, err := st.Get(ctx, "100001")
		require.NoError(t, err)
		require.Equal(t, "Ada Lovelace", got.Name)
		require.Equal(t, models.RoleStudent, got.Role)
		require.False(t, got.IsAdmin)
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		user := &models.User{Sciper: "100001", Role: models.RoleStudent}
		require.NoError(t, st.Create(ctx, user))
		require.ErrorIs(t, st.Create(ctx, user), store.ErrUserAlreadyExists)
	})

	t.Run("not found", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		_, err := st.Get(ctx, "999999")
		require.ErrorIs(t, err, store.ErrUserNotFound)
		require.ErrorIs(t, st.SetRole(ctx, "999999", models.RoleTeacher), store.ErrUserNotFound)
		require.ErrorIs(t, st.SetAdmin(ctx, "999999", true), store.ErrUserNotFound)
	})

	t.Run("set role and admin", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		require.NoError(t, st.Create(ctx, &models.User{Sciper: "100001", Role: models.RoleStudent}))
		require.NoError(t, st.SetRole(ctx, "100001", models.RoleAssistant))
		require.NoError(t, st.SetAdmin(ctx, "100001", true))

		got, err := st.Get(ctx, "100001")
		require.NoError(t, err)
		require.Equal(t, models.RoleAssistant, got.Role)
		require.True(t, got.IsAdmin)
	})
}
