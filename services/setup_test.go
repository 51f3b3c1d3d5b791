package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"smartcradle/cache"
	"smartcradle/database"
	"smartcradle/models"
	"smartcradle/repositories"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

type testEnv struct {
	db        *gorm.DB
	userRepo  repositories.UserRepository
	logRepo   repositories.SystemLogRepository
	roles     RoleRegistry
	userRoles UserRoleService
	devices   DeviceRegistry
	users     UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	log := zap.NewNop()
	var c cache.Cache = cache.Nop{}

	userRepo := repositories.NewUserRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	logRepo := repositories.NewSystemLogRepository(db)

	env := &testEnv{
		db:        db,
		userRepo:  userRepo,
		logRepo:   logRepo,
		roles:     NewRoleRegistry(db, roleRepo, logRepo, c, log),
		userRoles: NewUserRoleService(db, userRepo, roleRepo, logRepo, c, log),
		devices:   NewDeviceRegistry(db, deviceRepo, userRepo, logRepo, c, log),
		users:     NewUserService(db, userRepo, roleRepo, deviceRepo, logRepo, c, log),
	}
	require.NoError(t, SeedCatalog(context.Background(), env.roles))
	return env
}

// createUser inserts a user directly and assigns the given roles.
func (e *testEnv) createUser(t *testing.T, name string, roles ...string) *models.User {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Name: name, Email: name + "@example.com", Password: "x"}
	require.NoError(t, e.userRepo.Create(ctx, user))
	for _, slug := range roles {
		require.NoError(t, e.userRoles.AssignRole(ctx, user, slug))
	}
	return user
}

var deviceSeq atomic.Int64

func nextDeviceAttrs() DeviceAttrs {
	n := deviceSeq.Add(1)
	return DeviceAttrs{
		Name:         fmt.Sprintf("Cradle %d", n),
		SerialNumber: fmt.Sprintf("SC-%06d", n),
		MACAddress:   fmt.Sprintf("AA:BB:CC:00:%02X:%02X", (n>>8)&0xff, n&0xff),
	}
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
