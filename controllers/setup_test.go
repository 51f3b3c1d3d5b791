package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"smartcradle/auth"
	"smartcradle/cache"
	"smartcradle/database"
	"smartcradle/models"
	"smartcradle/repositories"
	"smartcradle/services"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	container *restful.Container
	issuer    *auth.TokenIssuer
	userRepo  repositories.UserRepository
	userRoles services.UserRoleService
	devices   services.DeviceRegistry
}

func newTestServer(t *testing.T) *testServer {
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

	log := zap.NewNop()
	var c cache.Cache = cache.Nop{}
	userRepo := repositories.NewUserRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	logRepo := repositories.NewSystemLogRepository(db)

	roles := services.NewRoleRegistry(db, roleRepo, logRepo, c, log)
	userRoles := services.NewUserRoleService(db, userRepo, roleRepo, logRepo, c, log)
	devices := services.NewDeviceRegistry(db, deviceRepo, userRepo, logRepo, c, log)
	users := services.NewUserService(db, userRepo, roleRepo, deviceRepo, logRepo, c, log)
	require.NoError(t, services.SeedCatalog(context.Background(), roles))

	issuer := auth.NewTokenIssuer("test-secret", time.Hour, "smartcradle-test")
	guard := NewGuard(auth.NewSubjectLoader(userRoles, devices, c, 0, log), auth.NewEvaluator(), log)

	container := restful.NewContainer()
	for _, ctl := range []interface{ RegisterRoutes(*restful.WebService) }{
		NewAuthController(users, issuer, 3600, log),
		NewUserController(users, userRoles, devices, guard, issuer, log),
		NewDeviceController(devices, userRoles, guard, issuer, log),
		NewAdminController(roles, services.NewSystemLogService(logRepo), guard, issuer, log),
	} {
		ws := new(restful.WebService)
		ctl.RegisterRoutes(ws)
		container.Add(ws)
	}

	return &testServer{container: container, issuer: issuer, userRepo: userRepo, userRoles: userRoles, devices: devices}
}

// createUser inserts a user with password "password123" and the given roles.
func (s *testServer) createUser(t *testing.T, name string, roles ...string) (*models.User, string) {
	t.Helper()
	ctx := context.Background()
	hashed, err := services.HashPassword("password123")
	require.NoError(t, err)
	user := &models.User{Name: name, Email: name + "@example.com", Password: hashed}
	require.NoError(t, s.userRepo.Create(ctx, user))
	for _, slug := range roles {
		require.NoError(t, s.userRoles.AssignRole(ctx, user, slug))
	}
	token, err := s.issuer.GenerateToken(user)
	require.NoError(t, err)
	return user, token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", restful.MIME_JSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.container.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func messageOf(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[MessageResponse](t, w).Message
}
