package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
	"github.com/wolfeidau/forumapi/internal/store/memory"
)

func TestGetUserDetails(t *testing.T) {
	t.Run("provisions student when enforced", func(t *testing.T) {
		users := memory.NewUserStore()
		dir := New(users)
		ctx := context.Background()

		user, err := dir.GetUserDetails(ctx, "100001", "Ada Lovelace", "ada@example.org", true)
		require.NoError(t, err)
		require.Equal(t, models.RoleStudent, user.Role)
		require.False(t, user.IsAdmin)
		require.Equal(t, "Ada Lovelace", user.Name)

		stored, err := users.Get(ctx, "100001")
		require.NoError(t, err)
		require.Equal(t, "ada@example.org", stored.Email)
	})

	t.Run("transient student when not enforced", func(t *testing.T) {
		users := memory.NewUserStore()
		dir := New(users)
		ctx := context.Background()

		user, err := dir.GetUserDetails(ctx, "100001", "Ada Lovelace", "ada@example.org", false)
		require.NoError(t, err)
		require.Equal(t, models.RoleStudent, user.Role)

		_, err = users.Get(ctx, "100001")
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})

	t.Run("never overwrites existing role", func(t *testing.T) {
		users := memory.NewUserStore()
		dir := New(users)
		ctx := context.Background()

		require.NoError(t, users.Create(ctx, &models.User{Sciper: "100001", Name: "Ada", Role: models.RoleTeacher, IsAdmin: true}))

		user, err := dir.GetUserDetails(ctx, "100001", "Someone Else", "other@example.org", true)
		require.NoError(t, err)
		require.Equal(t, models.RoleTeacher, user.Role)
		require.True(t, user.IsAdmin)
		require.Equal(t, "Ada", user.Name)
	})

	t.Run("provisioning is idempotent", func(t *testing.T) {
		dir := New(memory.NewUserStore())
		ctx := context.Background()

		for range 3 {
			user, err := dir.GetUserDetails(ctx, "100001", "Ada", "", true)
			require.NoError(t, err)
			require.Equal(t, models.RoleStudent, user.Role)
		}
	})
}

// racingStore reports a duplicate on the first Create as if another login won.
type racingStore struct {
	*memory.UserStore
	raced bool
}

func (s *racingStore) Create(ctx context.Context, user *models.User) error {
	if !s.raced {
		s.raced = true
		winner := *user
		winner.Role = models.RoleAssistant
		_ = s.UserStore.Create(ctx, &winner)
		return store.ErrUserAlreadyExists
	}
	return s.UserStore.Create(ctx, user)
}

func TestGetUserDetails_ConcurrentProvisioning(t *testing.T) {
	dir := New(&racingStore{UserStore: memory.NewUserStore()})

	user, err := dir.GetUserDetails(context.Background(), "100001", "Ada", "", true)
	require.NoError(t, err)
	require.Equal(t, models.RoleAssistant, user.Role)
}

func TestSetRoleAndAdmin(t *testing.T) {
	users := memory.NewUserStore()
	dir := New(users)
	ctx := context.Background()

	_, err := dir.GetUserDetails(ctx, "100001", "Ada", "", true)
	require.NoError(t, err)

	require.NoError(t, dir.SetRole(ctx, "100001", models.RoleTeacher))
	require.Error(t, dir.SetRole(ctx, "100001", "wizard"))
	require.NoError(t, dir.SetAdmin(ctx, "100001", true))

	user, err := dir.Lookup(ctx, "100001")
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, user.Role)

	isAdmin, err := dir.IsAdmin(ctx, "100001")
	require.NoError(t, err)
	require.True(t, isAdmin)

	isAdmin, err = dir.IsAdmin(ctx, "999999")
	require.NoError(t, err)
	require.False(t, isAdmin)

	require.ErrorIs(t, dir.SetRole(ctx, "999999", models.RoleTeacher), store.ErrUserNotFound)
}

func TestValidateSciper(t *testing.T) {
	require.NoError(t, ValidateSciper("100001"))
	require.ErrorIs(t, ValidateSciper(""), ErrInvalidSciper)
	require.ErrorIs(t, ValidateSciper("12ab"), ErrInvalidSciper)
	require.ErrorIs(t, ValidateSciper("1 OR 1=1"), ErrInvalidSciper)
}

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - sciper: "100001"
    name: Ada Lovelace
    role: teacher
    admin: true
  - sciper: "100002"
`), 0o600))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seed.Users, 2)
	require.Equal(t, "student", seed.Users[1].Role)

	users := memory.NewUserStore()
	dir := New(users)
	ctx := context.Background()

	// existing record gets updated
	require.NoError(t, users.Create(ctx, &models.User{Sciper: "100001", Role: models.RoleStudent}))

	n, err := dir.Seed(ctx, seed)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ada, err := users.Get(ctx, "100001")
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, ada.Role)
	require.True(t, ada.IsAdmin)

	_, err = users.Get(ctx, "100002")
	require.NoError(t, err)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	badRole := filepath.Join(dir, "role.yaml")
	require.NoError(t, os.WriteFile(badRole, []byte("users:\n  - sciper: \"100001\"\n    role: wizard\n"), 0o600))
	_, err := LoadSeedFile(badRole)
	require.Error(t, err)

	badSciper := filepath.Join(dir, "sciper.yaml")
	require.NoError(t, os.WriteFile(badSciper, []byte("users:\n  - sciper: abc\n"), 0o600))
	_, err = LoadSeedFile(badSciper)
	require.ErrorIs(t, err, ErrInvalidSciper)

	_, err = LoadSeedFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
