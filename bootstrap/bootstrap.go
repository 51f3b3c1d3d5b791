// Package bootstrap wires storage, cache and the registries from configuration.
// The server and the admin CLI share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"smartcradle/cache"
	"smartcradle/config"
	"smartcradle/database"
	"smartcradle/repositories"
	"smartcradle/services"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Infra struct {
	DB    *gorm.DB
	Cache cache.Cache

	UserRepo repositories.UserRepository

	Roles     services.RoleRegistry
	UserRoles services.UserRoleService
	Devices   services.DeviceRegistry
	Users     services.UserService
	Logs      services.SystemLogService

	closers []func() error
}

// InitInfra opens and migrates the database and builds every registry.
// A configured but unreachable Redis falls back to no caching.
func InitInfra(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Infra, error) {
	l := log.With(zap.String("pkg", "bootstrap"))

	db, err := database.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	infra := &Infra{DB: db, Cache: cache.Nop{}}
	if sqlDB, err := db.DB(); err == nil {
		infra.closers = append(infra.closers, sqlDB.Close)
	}

	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			l.Warn("redis unreachable, permission cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rc.Close()
		} else {
			infra.Cache = rc
			infra.closers = append(infra.closers, rc.Close)
			l.Info("permission cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.PermissionCacheTTL))
		}
	}

	userRepo := repositories.NewUserRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	logRepo := repositories.NewSystemLogRepository(db)

	infra.UserRepo = userRepo
	infra.Roles = services.NewRoleRegistry(db, roleRepo, logRepo, infra.Cache, log)
	infra.UserRoles = services.NewUserRoleService(db, userRepo, roleRepo, logRepo, infra.Cache, log)
	infra.Devices = services.NewDeviceRegistry(db, deviceRepo, userRepo, logRepo, infra.Cache, log)
	infra.Users = services.NewUserService(db, userRepo, roleRepo, deviceRepo, logRepo, infra.Cache, log)
	infra.Logs = services.NewSystemLogService(logRepo)
	return infra, nil
}

// Seed installs the built-in catalog and, when an admin email is configured,
// the bootstrap administrator. A missing admin password only skips the admin.
func (i *Infra) Seed(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if err := services.SeedCatalog(ctx, i.Roles); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if cfg.AdminEmail == "" {
		return nil
	}
	admin, err := services.EnsureAdmin(ctx, i.UserRepo, i.UserRoles, cfg.AdminEmail, cfg.AdminPassword)
	if errors.Is(err, services.ErrBusinessRule) {
		log.Warn("bootstrap administrator not created", zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	log.Info("bootstrap administrator ready", zap.Uint("user_id", admin.ID), zap.String("email", admin.Email))
	return nil
}

func (i *Infra) Close() error {
	var errs []error
	for j := len(i.closers) - 1; j >= 0; j-- {
		errs = append(errs, i.closers[j]())
	}
	return errors.Join(errs...)
}
