package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"smartcradle/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("Parent owns exactly one device", func(t *testing.T) {
		alice := env.createUser(t, "alice", models.RoleParent)

		d1, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), alice.ID)
		require.NoError(t, err)

		rel, err := env.devices.DeviceUsers(ctx, d1.ID)
		require.NoError(t, err)
		require.Len(t, rel, 1)
		assert.Equal(t, alice.ID, rel[0].UserID)
		assert.Equal(t, models.RelationshipOwner, rel[0].RelationshipType)

		perms, err := env.devices.GetDevicePermissions(ctx, alice.ID, d1.ID)
		require.NoError(t, err)
		assert.Equal(t, []models.DevicePermission{"control", "manage", "view"}, perms)

		_, err = env.devices.RegisterDevice(ctx, nextDeviceAttrs(), alice.ID)
		assert.ErrorIs(t, err, ErrBusinessRule)
		var ruleErr *RuleError
		assert.True(t, errors.As(err, &ruleErr))

		owned, err := env.devices.ListUserDevices(ctx, alice.ID)
		require.NoError(t, err)
		assert.Len(t, owned, 1)
	})

	t.Run("Non-parents are not capped", func(t *testing.T) {
		sitter := env.createUser(t, "sitter-owner", models.RoleBabysitter)
		for i := 0; i < 2; i++ {
			_, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), sitter.ID)
			require.NoError(t, err)
		}
		owned, err := env.devices.ListUserDevices(ctx, sitter.ID)
		require.NoError(t, err)
		assert.Len(t, owned, 2)
	})

	t.Run("Cap reads the current role", func(t *testing.T) {
		// The in-memory user says nothing about roles; the registry must re-read them.
		pat := env.createUser(t, "pat")
		_, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), pat.ID)
		require.NoError(t, err)
		require.NoError(t, env.userRoles.AssignRole(ctx, pat, models.RoleParent))

		_, err = env.devices.RegisterDevice(ctx, nextDeviceAttrs(), pat.ID)
		assert.ErrorIs(t, err, ErrBusinessRule)
	})

	t.Run("Parent role refused while owning two devices", func(t *testing.T) {
		sam := env.createUser(t, "sam", models.RoleBabysitter)
		for i := 0; i < 2; i++ {
			_, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), sam.ID)
			require.NoError(t, err)
		}

		err := env.userRoles.AssignRole(ctx, sam, models.RoleParent)
		assert.ErrorIs(t, err, ErrBusinessRule)

		reloaded, err := env.userRoles.LoadUser(ctx, sam.ID)
		require.NoError(t, err)
		assert.False(t, HasRole(reloaded, models.RoleParent))
		assert.Equal(t, int64(2), countRows(t, env.db, &models.DeviceUser{}, "user_id = ? AND relationship_type = ?", sam.ID, models.RelationshipOwner))
	})

	t.Run("Unknown owner leaves nothing behind", func(t *testing.T) {
		before := countRows(t, env.db, &models.Device{}, "")
		_, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), 424242)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, before, countRows(t, env.db, &models.Device{}, ""))
	})

	t.Run("Duplicate serial is rejected atomically", func(t *testing.T) {
		owner := env.createUser(t, "dup-owner", models.RoleAdmin)
		attrs := nextDeviceAttrs()
		_, err := env.devices.RegisterDevice(ctx, attrs, owner.ID)
		require.NoError(t, err)

		again := nextDeviceAttrs()
		again.SerialNumber = attrs.SerialNumber
		_, err = env.devices.RegisterDevice(ctx, again, owner.ID)
		require.Error(t, err)
		assert.Equal(t, int64(0), countRows(t, env.db, &models.Device{}, "mac_address = ?", again.MACAddress))
		assert.Equal(t, int64(1), countRows(t, env.db, &models.DeviceUser{}, "user_id = ?", owner.ID))
	})

	t.Run("Invalid attributes", func(t *testing.T) {
		owner := env.createUser(t, "bad-attrs")
		_, err := env.devices.RegisterDevice(ctx, DeviceAttrs{SerialNumber: "X1", MACAddress: "not-a-mac"}, owner.ID)
		assert.ErrorIs(t, err, ErrBusinessRule)
		_, err = env.devices.RegisterDevice(ctx, DeviceAttrs{MACAddress: "AA:BB:CC:DD:EE:FF"}, owner.ID)
		assert.ErrorIs(t, err, ErrBusinessRule)
	})
}

func TestRegisterDeviceConcurrentParent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := env.createUser(t, "racer", models.RoleParent)

	const attempts = 8
	attrs := make([]DeviceAttrs, attempts)
	for i := range attrs {
		attrs[i] = nextDeviceAttrs()
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.devices.RegisterDevice(ctx, attrs[i], parent.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrBusinessRule)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1), countRows(t, env.db, &models.DeviceUser{}, "user_id = ? AND relationship_type = ?", parent.ID, models.RelationshipOwner))
	assert.Equal(t, int64(1), countRows(t, env.db, &models.Device{}, ""))
}

func TestAssignUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice", models.RoleParent)
	d1, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), alice.ID)
	require.NoError(t, err)

	t.Run("Caretaker with explicit permissions", func(t *testing.T) {
		bob := env.createUser(t, "bob", models.RoleBabysitter)
		rel, err := env.devices.AssignUser(ctx, d1.ID, bob.ID, models.RelationshipCaretaker, []models.DevicePermission{"view_health"})
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipCaretaker, rel.RelationshipType)

		ok, err := env.devices.HasDeviceAccess(ctx, bob.ID, d1.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		perms, err := env.devices.GetDevicePermissions(ctx, bob.ID, d1.ID)
		require.NoError(t, err)
		assert.Equal(t, []models.DevicePermission{models.DevicePermViewHealth}, perms)
	})

	t.Run("Assigning again updates the single row", func(t *testing.T) {
		cara := env.createUser(t, "cara")
		_, err := env.devices.AssignUser(ctx, d1.ID, cara.ID, models.RelationshipViewer, []models.DevicePermission{"view"})
		require.NoError(t, err)
		_, err = env.devices.AssignUser(ctx, d1.ID, cara.ID, models.RelationshipCaretaker,
			[]models.DevicePermission{"view_health", "view", "view_health"})
		require.NoError(t, err)

		assert.Equal(t, int64(1), countRows(t, env.db, &models.DeviceUser{}, "device_id = ? AND user_id = ?", d1.ID, cara.ID))
		rels, err := env.devices.Relationships(ctx, cara.ID)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, models.RelationshipCaretaker, rels[0].RelationshipType)
		assert.Equal(t, []models.DevicePermission{"view", "view_health"}, []models.DevicePermission(rels[0].Permissions))
	})

	t.Run("Unknown permission or type is rejected", func(t *testing.T) {
		dan := env.createUser(t, "dan")
		_, err := env.devices.AssignUser(ctx, d1.ID, dan.ID, models.RelationshipViewer, []models.DevicePermission{"teleport"})
		assert.ErrorIs(t, err, ErrBusinessRule)
		_, err = env.devices.AssignUser(ctx, d1.ID, dan.ID, "godparent", nil)
		assert.ErrorIs(t, err, ErrBusinessRule)

		ok, err := env.devices.HasDeviceAccess(ctx, dan.ID, d1.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Unknown device or user", func(t *testing.T) {
		_, err := env.devices.AssignUser(ctx, 9999, alice.ID, models.RelationshipViewer, nil)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = env.devices.AssignUser(ctx, d1.ID, 9999, models.RelationshipViewer, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Parent cannot own a second device", func(t *testing.T) {
		other := env.createUser(t, "other-owner")
		d2, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), other.ID)
		require.NoError(t, err)

		_, err = env.devices.AssignUser(ctx, d2.ID, alice.ID, models.RelationshipOwner, models.OwnerPermissions())
		assert.ErrorIs(t, err, ErrBusinessRule)

		// Other relationship types are fine.
		_, err = env.devices.AssignUser(ctx, d2.ID, alice.ID, models.RelationshipViewer, []models.DevicePermission{"view"})
		assert.NoError(t, err)
	})

	t.Run("Re-asserting ownership of the same device is allowed", func(t *testing.T) {
		_, err := env.devices.AssignUser(ctx, d1.ID, alice.ID, models.RelationshipOwner, models.OwnerPermissions())
		assert.NoError(t, err)
	})

	t.Run("Parent without a device can be made owner once", func(t *testing.T) {
		pam := env.createUser(t, "pam", models.RoleParent)
		o1 := env.createUser(t, "o1")
		o2 := env.createUser(t, "o2")
		da, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), o1.ID)
		require.NoError(t, err)
		db, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), o2.ID)
		require.NoError(t, err)

		_, err = env.devices.AssignUser(ctx, da.ID, pam.ID, models.RelationshipOwner, nil)
		require.NoError(t, err)
		_, err = env.devices.AssignUser(ctx, db.ID, pam.ID, models.RelationshipOwner, nil)
		assert.ErrorIs(t, err, ErrBusinessRule)
	})
}

func TestRemoveUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice", models.RoleParent)
	bob := env.createUser(t, "bob")
	d1, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), alice.ID)
	require.NoError(t, err)
	_, err = env.devices.AssignUser(ctx, d1.ID, bob.ID, models.RelationshipCaretaker, []models.DevicePermission{"view_health"})
	require.NoError(t, err)

	require.NoError(t, env.devices.RemoveUser(ctx, d1.ID, bob.ID))
	ok, err := env.devices.HasDeviceAccess(ctx, bob.ID, d1.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent.
	require.NoError(t, env.devices.RemoveUser(ctx, d1.ID, bob.ID))
	assert.Equal(t, int64(1), countRows(t, env.db, &models.SystemLog{}, "action = ?", LogDeviceUserRemoved))
}

func TestNoRelationship(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner")
	stranger := env.createUser(t, "stranger", models.RoleParent)
	d, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), owner.ID)
	require.NoError(t, err)

	ok, err := env.devices.HasDeviceAccess(ctx, stranger.ID, d.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	perms, err := env.devices.GetDevicePermissions(ctx, stranger.ID, d.ID)
	require.NoError(t, err)
	assert.NotNil(t, perms)
	assert.Empty(t, perms)
}

func TestDeleteDeviceCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice", models.RoleParent)
	bob := env.createUser(t, "bob")
	d1, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), alice.ID)
	require.NoError(t, err)
	_, err = env.devices.AssignUser(ctx, d1.ID, bob.ID, models.RelationshipViewer, []models.DevicePermission{"view"})
	require.NoError(t, err)

	require.NoError(t, env.devices.DeleteDevice(ctx, d1.ID))
	assert.Equal(t, int64(0), countRows(t, env.db, &models.DeviceUser{}, "device_id = ?", d1.ID))
	_, err = env.devices.FindDevice(ctx, d1.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The parent is free to register again.
	_, err = env.devices.RegisterDevice(ctx, nextDeviceAttrs(), alice.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, env.devices.DeleteDevice(ctx, d1.ID), ErrNotFound)
}

func TestDeleteUserCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice", models.RoleParent)
	bob := env.createUser(t, "bob", models.RoleBabysitter)
	d1, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), alice.ID)
	require.NoError(t, err)
	_, err = env.devices.AssignUser(ctx, d1.ID, bob.ID, models.RelationshipCaretaker, nil)
	require.NoError(t, err)

	require.NoError(t, env.users.DeleteUser(ctx, bob.ID))
	assert.Equal(t, int64(0), countRows(t, env.db, &models.DeviceUser{}, "user_id = ?", bob.ID))
	assert.Equal(t, int64(0), countRows(t, env.db, &models.UserRole{}, "user_id = ?", bob.ID))
	_, err = env.userRoles.LoadUser(ctx, bob.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rels, err := env.devices.DeviceUsers(ctx, d1.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, alice.ID, rels[0].UserID)
}

func TestUpdateControlsAndTelemetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner")
	d, err := env.devices.RegisterDevice(ctx, nextDeviceAttrs(), owner.ID)
	require.NoError(t, err)

	on := true
	_, err = env.devices.UpdateControls(ctx, d.ID, ControlInput{AutoRock: &on, NightLight: &on})
	require.NoError(t, err)

	_, err = env.devices.UpdateTelemetry(ctx, d.ID, TelemetryInput{Status: models.DeviceOnline, SignalStrength: -60, BatteryLevel: 80})
	require.NoError(t, err)

	fresh, err := env.devices.FindDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, fresh.AutoRock)
	assert.True(t, fresh.NightLight)
	assert.False(t, fresh.WhiteNoise)
	assert.Equal(t, models.DeviceOnline, fresh.Status)
	assert.Equal(t, 80, fresh.BatteryLevel)
	assert.NotNil(t, fresh.LastSeenAt)

	_, err = env.devices.UpdateTelemetry(ctx, d.ID, TelemetryInput{Status: "exploded"})
	assert.ErrorIs(t, err, ErrBusinessRule)
	_, err = env.devices.UpdateControls(ctx, 9999, ControlInput{AutoRock: &on})
	assert.ErrorIs(t, err, ErrNotFound)
}
