package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User // sciper -> User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]*models.User),
	}
}

// Get retrieves a user by sciper.
func (s *UserStore) Get(ctx context.Context, sciper string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[sciper]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	clone := *user
	return &clone, nil
}

// Create inserts a new user.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Sciper]; exists {
		return store.ErrUserAlreadyExists
	}

	clone := *user
	now := time.Now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.users[user.Sciper] = &clone

	return nil
}

// SetRole changes the role of an existing user.
func (s *UserStore) SetRole(ctx context.Context, sciper string, role models.Role) error {
	return s.update(sciper, func(u *models.User) { u.Role = role })
}

// SetAdmin changes the admin flag of an existing user.
func (s *UserStore) SetAdmin(ctx context.Context, sciper string, isAdmin bool) error {
	return s.update(sciper, func(u *models.User) { u.IsAdmin = isAdmin })
}

func (s *UserStore) update(sciper string, fn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[sciper]
	if !exists {
		return store.ErrUserNotFound
	}

	fn(user)
	user.UpdatedAt = time.Now()
	return nil
}
