package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartcradle/cache"
	"smartcradle/models"
	"smartcradle/repositories"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// The UserService interface defines the methods that user services need to implement
type UserService interface {
	// Register creates the user and assigns every default role in one transaction.
	Register(ctx context.Context, input *RegisterInput) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	ListUsers(ctx context.Context, page int, pageSize int) ([]models.User, int64, error)
	// DeleteUser removes the user together with its role and device bindings.
	DeleteUser(ctx context.Context, id uint) error
}

type RegisterInput struct {
	Name     string `json:"name" validate:"max=128" description:"Display name"`
	Email    string `json:"email" validate:"required,email,max=191" description:"Login email, unique"`
	Password string `json:"password" validate:"required,min=8,max=72" description:"8 to 72 characters"`
}

// The userService structure is the implementation of the UserService interface
type userService struct {
	db      *gorm.DB
	repo    repositories.UserRepository
	roles   repositories.RoleRepository
	devices repositories.DeviceRepository
	logs    repositories.SystemLogRepository
	cache   cache.Cache
	logger  *zap.Logger
}

var _ UserService = (*userService)(nil)

// NewUserService creates a new UserService instance
func NewUserService(db *gorm.DB, repo repositories.UserRepository, roles repositories.RoleRepository, devices repositories.DeviceRepository, logs repositories.SystemLogRepository, c cache.Cache, logger *zap.Logger) UserService {
	return &userService{db: db, repo: repo, roles: roles, devices: devices, logs: logs, cache: c, logger: logger.Named("users")}
}

// HashPassword is shared with seeding.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func (s *userService) Register(ctx context.Context, input *RegisterInput) (*models.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validateInput(input); err != nil {
		return nil, err
	}
	email := input.Email

	hashed, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{Name: input.Name, Email: email, Password: hashed}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByEmail(ctx, email); err == nil {
			return ruleViolation("email %s is already registered", email)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing user: %w", err)
		}
		if err := repo.Create(ctx, user); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ruleViolation("email %s is already registered", email)
			}
			return fmt.Errorf("create user: %w", err)
		}

		defaults, err := s.roles.WithTx(tx).FindDefaultRoles(ctx)
		if err != nil {
			return fmt.Errorf("load default roles: %w", err)
		}
		for _, role := range defaults {
			if _, err := repo.AttachRole(ctx, user.ID, role.ID); err != nil {
				return fmt.Errorf("attach default role %s: %w", role.Slug, err)
			}
		}
		user.Roles = defaults
		return recordLog(ctx, tx, s.logs, LogUserRegistered, "user", user.ID, "registered %s", email)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Uint("user_id", user.ID), zap.Strings("roles", RoleSlugs(user)))
	return user, nil
}

func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "user", id)
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, page int, pageSize int) ([]models.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	users, total, err := s.repo.FindAll(ctx, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

func (s *userService) DeleteUser(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.FindByID(ctx, id)
		if err != nil {
			return lookupErr(err, "user", id)
		}
		if err := repo.DetachAllRoles(ctx, id); err != nil {
			return fmt.Errorf("detach roles: %w", err)
		}
		if err := s.devices.WithTx(tx).DeleteRelationsForUser(ctx, id); err != nil {
			return fmt.Errorf("delete device relationships: %w", err)
		}
		if err := repo.Delete(ctx, user); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return recordLog(ctx, tx, s.logs, LogUserDeleted, "user", id, "deleted %s", user.Email)
	})
	if err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, cache.SubjectKey(id)); err != nil {
		s.logger.Warn("failed to invalidate subject cache", zap.Uint("user_id", id), zap.Error(err))
	}
	s.logger.Info("user deleted", zap.Uint("user_id", id))
	return nil
}
