package auth

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"smartcradle/cache"
	"smartcradle/database"
	"smartcradle/models"
	"smartcradle/repositories"
	"smartcradle/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memoryCache is a map-backed cache.Cache.
type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newMemoryCache() *memoryCache { return &memoryCache{data: make(map[string][]byte)} }

func (m *memoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	m.hits++
	return true, json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	m.mu.Unlock()
	return nil
}

var _ cache.Cache = (*memoryCache)(nil)

func TestSubjectLoader(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	ctx := context.Background()
	log := zap.NewNop()
	mc := newMemoryCache()

	userRepo := repositories.NewUserRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	logRepo := repositories.NewSystemLogRepository(db)
	roles := services.NewRoleRegistry(db, roleRepo, logRepo, mc, log)
	userRoles := services.NewUserRoleService(db, userRepo, roleRepo, logRepo, mc, log)
	devices := services.NewDeviceRegistry(db, deviceRepo, userRepo, logRepo, mc, log)
	require.NoError(t, services.SeedCatalog(ctx, roles))

	alice := &models.User{Name: "alice", Email: "alice@example.com", Password: "x"}
	require.NoError(t, userRepo.Create(ctx, alice))
	require.NoError(t, userRoles.AssignRole(ctx, alice, models.RoleParent))
	d1, err := devices.RegisterDevice(ctx, services.DeviceAttrs{SerialNumber: "SC-1", MACAddress: "AA:BB:CC:DD:EE:01"}, alice.ID)
	require.NoError(t, err)

	loader := NewSubjectLoader(userRoles, devices, mc, time.Minute, log)
	e := NewEvaluator()

	s, err := loader.Load(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, Allow, e.Evaluate(s, ActionDeviceControl, DeviceResource(d1.ID)))
	assert.Equal(t, Allow, e.Evaluate(s, ActionViewParentDashboard, Resource{}))

	t.Run("Second load is served from cache", func(t *testing.T) {
		before := mc.hits
		cached, err := loader.Load(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, before+1, mc.hits)
		assert.Equal(t, s, cached)
	})

	t.Run("Relationship change invalidates the snapshot", func(t *testing.T) {
		require.NoError(t, devices.RemoveUser(ctx, d1.ID, alice.ID))
		s, err := loader.Load(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, Deny, e.Evaluate(s, ActionDeviceView, DeviceResource(d1.ID)))
	})

	t.Run("Role change invalidates the snapshot", func(t *testing.T) {
		require.NoError(t, userRoles.RemoveRole(ctx, alice, models.RoleParent))
		s, err := loader.Load(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, Deny, e.Evaluate(s, ActionViewParentDashboard, Resource{}))
		assert.Empty(t, s.Permissions)
	})

	t.Run("Unknown user", func(t *testing.T) {
		_, err := loader.Load(ctx, 4242)
		assert.ErrorIs(t, err, services.ErrNotFound)
	})
}
