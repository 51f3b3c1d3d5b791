package services

import (
	"context"
	"testing"

	"smartcradle/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("Success gets default roles", func(t *testing.T) {
		user, err := env.users.Register(ctx, &RegisterInput{Name: "Alice", Email: " Alice@Example.com ", Password: "cradle-pass"})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.NotEqual(t, "cradle-pass", user.Password)
		assert.Equal(t, []string{models.RoleParent}, RoleSlugs(user))

		fresh, err := env.users.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, HasRole(fresh, models.RoleParent))
		assert.Contains(t, EffectivePermissions(fresh), PermViewParentDashboard)
	})

	t.Run("Email already exists", func(t *testing.T) {
		_, err := env.users.Register(ctx, &RegisterInput{Email: "alice@example.com", Password: "another-pass"})
		assert.ErrorIs(t, err, ErrBusinessRule)
	})

	t.Run("Invalid input", func(t *testing.T) {
		_, err := env.users.Register(ctx, &RegisterInput{Email: "not-an-email", Password: "cradle-pass"})
		assert.ErrorIs(t, err, ErrBusinessRule)
		_, err = env.users.Register(ctx, &RegisterInput{Email: "short@example.com", Password: "short"})
		assert.ErrorIs(t, err, ErrBusinessRule)
	})
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Register(ctx, &RegisterInput{Email: "bob@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	user, err := env.users.Authenticate(ctx, "BOB@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Email)

	_, err = env.users.Authenticate(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.users.Authenticate(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDeleteUserFreesEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	input := func() *RegisterInput {
		return &RegisterInput{Name: "Gone", Email: "gone@example.com", Password: "cradle-pass"}
	}
	user, err := env.users.Register(ctx, input())
	require.NoError(t, err)
	require.NoError(t, env.users.DeleteUser(ctx, user.ID))
	assert.Equal(t, int64(0), countRows(t, env.db.Unscoped(), &models.User{}, "email = ?", "gone@example.com"))

	again, err := env.users.Register(ctx, input())
	require.NoError(t, err)
	assert.Equal(t, "gone@example.com", again.Email)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"u1", "u2", "u3"} {
		env.createUser(t, name)
	}

	users, total, err := env.users.ListUsers(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, users, 2)

	users, _, err = env.users.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestEnsureAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin, err := EnsureAdmin(ctx, env.userRepo, env.userRoles, "root@example.com", "root-password")
	require.NoError(t, err)
	again, err := EnsureAdmin(ctx, env.userRepo, env.userRoles, "root@example.com", "")
	require.NoError(t, err)

	assert.Equal(t, admin.ID, again.ID)
	assert.Equal(t, []string{models.RoleAdmin}, RoleSlugs(again))
	assert.Equal(t, int64(1), countRows(t, env.db, &models.UserRole{}, "user_id = ?", admin.ID))

	_, err = EnsureAdmin(ctx, env.userRepo, env.userRoles, "other@example.com", "")
	assert.ErrorIs(t, err, ErrBusinessRule)
}

func TestSystemLogListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logs := NewSystemLogService(env.logRepo)

	owner := env.createUser(t, "logger", models.RoleAdmin)
	_, err := env.devices.RegisterDevice(WithActor(ctx, owner.ID), nextDeviceAttrs(), owner.ID)
	require.NoError(t, err)

	entries, total, err := logs.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, int64(2))
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, LogDeviceRegistered)
	assert.Contains(t, actions, LogRoleAssigned)
}
