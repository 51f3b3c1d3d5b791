package database

import (
	"fmt"
	"time"

	"smartcradle/config"
	"smartcradle/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database. Gorm's logger writes through zap.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "mysql":
		dialector = mysql.Open(cfg.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	level := logger.Warn
	if cfg.LogLevel == "debug" {
		level = logger.Info
	}
	w := &zapio.Writer{Log: log.Named("gorm"), Level: zap.DebugLevel}
	newLogger := logger.New(
		stdWriter{w},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.DatabaseDriver == "sqlite" {
		// sqlite allows one writer; a single connection keeps transactions from tripping over each other.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table. The join tables are registered
// with their own models so (user_id, role_id) and (role_id, permission_id)
// are composite primary keys.
func Migrate(db *gorm.DB) error {
	joins := []struct {
		model any
		field string
		join  any
	}{
		{&models.User{}, "Roles", &models.UserRole{}},
		{&models.Role{}, "Users", &models.UserRole{}},
		{&models.Role{}, "Permissions", &models.RolePermission{}},
		{&models.Permission{}, "Roles", &models.RolePermission{}},
	}
	for _, j := range joins {
		if err := db.SetupJoinTable(j.model, j.field, j.join); err != nil {
			return fmt.Errorf("setup join table %T.%s: %w", j.model, j.field, err)
		}
	}

	err := db.AutoMigrate(
		&models.Permission{},
		&models.Role{},
		&models.User{},
		&models.Device{},
		&models.DeviceUser{},
		&models.SystemLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// stdWriter adapts an io.Writer to gorm's logger.Writer.
type stdWriter struct {
	w *zapio.Writer
}

func (s stdWriter) Printf(format string, args ...any) {
	fmt.Fprintf(s.w, format+"\n", args...)
}
