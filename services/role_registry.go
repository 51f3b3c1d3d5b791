package services

import (
	"context"
	"fmt"

	"smartcradle/cache"
	"smartcradle/models"
	"smartcradle/repositories"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RoleRegistry manages the permission catalog and the roles built from it.
// Every write is idempotent so seeding can run on each start.
type RoleRegistry interface {
	GetOrCreateRole(ctx context.Context, slug, name, description string) (*models.Role, error)
	GetOrCreatePermission(ctx context.Context, slug, name, group, description string) (*models.Permission, error)
	GrantPermission(ctx context.Context, role *models.Role, permission *models.Permission) error
	RevokePermission(ctx context.Context, role *models.Role, permission *models.Permission) error
	MarkDefault(ctx context.Context, role *models.Role, isDefault bool) error

	FindRole(ctx context.Context, slug string) (*models.Role, error)
	FindPermission(ctx context.Context, slug string) (*models.Permission, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	DefaultRoles(ctx context.Context) ([]models.Role, error)
}

type roleRegistry struct {
	db     *gorm.DB
	repo   repositories.RoleRepository
	logs   repositories.SystemLogRepository
	cache  cache.Cache
	logger *zap.Logger
}

var _ RoleRegistry = (*roleRegistry)(nil)

func NewRoleRegistry(db *gorm.DB, repo repositories.RoleRepository, logs repositories.SystemLogRepository, c cache.Cache, logger *zap.Logger) RoleRegistry {
	return &roleRegistry{db: db, repo: repo, logs: logs, cache: c, logger: logger.Named("role-registry")}
}

// RoleHasPermission reports whether the loaded role carries the permission slug.
func RoleHasPermission(role *models.Role, permissionSlug string) bool {
	if role == nil {
		return false
	}
	for _, p := range role.Permissions {
		if p.Slug == permissionSlug {
			return true
		}
	}
	return false
}

func (s *roleRegistry) GetOrCreateRole(ctx context.Context, slug, name, description string) (*models.Role, error) {
	if slug == "" {
		return nil, ruleViolation("role slug is required")
	}
	role := &models.Role{Slug: slug, Name: name, Description: description}
	if err := s.repo.FirstOrCreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("get or create role %s: %w", slug, err)
	}
	return role, nil
}

func (s *roleRegistry) GetOrCreatePermission(ctx context.Context, slug, name, group, description string) (*models.Permission, error) {
	if slug == "" {
		return nil, ruleViolation("permission slug is required")
	}
	permission := &models.Permission{Slug: slug, Name: name, Group: group, Description: description}
	if err := s.repo.FirstOrCreatePermission(ctx, permission); err != nil {
		return nil, fmt.Errorf("get or create permission %s: %w", slug, err)
	}
	return permission, nil
}

// GrantPermission attaches the permission to the role. Granting twice is a no-op.
// The in-memory role is updated so RoleHasPermission sees the change.
func (s *roleRegistry) GrantPermission(ctx context.Context, role *models.Role, permission *models.Permission) error {
	if RoleHasPermission(role, permission.Slug) {
		return nil
	}
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.repo.WithTx(tx).AttachPermission(ctx, role.ID, permission.ID)
		if err != nil {
			return fmt.Errorf("attach permission %s to %s: %w", permission.Slug, role.Slug, err)
		}
		if !inserted {
			return nil
		}
		return recordLog(ctx, tx, s.logs, LogPermissionGranted, "role", role.ID, "%s granted %s", role.Slug, permission.Slug)
	})
	if err != nil {
		return err
	}
	role.Permissions = append(role.Permissions, *permission)
	if !inserted {
		return nil
	}
	s.invalidateSubjects(ctx)
	s.logger.Info("permission granted", zap.String("role", role.Slug), zap.String("permission", permission.Slug))
	return nil
}

// RevokePermission detaches the permission; revoking one the role lacks is a no-op.
func (s *roleRegistry) RevokePermission(ctx context.Context, role *models.Role, permission *models.Permission) error {
	if !RoleHasPermission(role, permission.Slug) {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).DetachPermission(ctx, role.ID, permission.ID); err != nil {
			return fmt.Errorf("detach permission %s from %s: %w", permission.Slug, role.Slug, err)
		}
		return recordLog(ctx, tx, s.logs, LogPermissionRevoked, "role", role.ID, "%s revoked %s", role.Slug, permission.Slug)
	})
	if err != nil {
		return err
	}
	kept := role.Permissions[:0]
	for _, p := range role.Permissions {
		if p.Slug != permission.Slug {
			kept = append(kept, p)
		}
	}
	role.Permissions = kept
	s.invalidateSubjects(ctx)
	s.logger.Info("permission revoked", zap.String("role", role.Slug), zap.String("permission", permission.Slug))
	return nil
}

func (s *roleRegistry) MarkDefault(ctx context.Context, role *models.Role, isDefault bool) error {
	if role.IsDefault == isDefault {
		return nil
	}
	if err := s.repo.SetDefault(ctx, role.ID, isDefault); err != nil {
		return fmt.Errorf("mark role %s default=%t: %w", role.Slug, isDefault, err)
	}
	role.IsDefault = isDefault
	return nil
}

func (s *roleRegistry) FindRole(ctx context.Context, slug string) (*models.Role, error) {
	role, err := s.repo.FindRoleBySlug(ctx, slug)
	if err != nil {
		return nil, lookupErr(err, "role", slug)
	}
	return role, nil
}

func (s *roleRegistry) FindPermission(ctx context.Context, slug string) (*models.Permission, error) {
	permission, err := s.repo.FindPermissionBySlug(ctx, slug)
	if err != nil {
		return nil, lookupErr(err, "permission", slug)
	}
	return permission, nil
}

func (s *roleRegistry) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

func (s *roleRegistry) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	permissions, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return permissions, nil
}

func (s *roleRegistry) DefaultRoles(ctx context.Context) ([]models.Role, error) {
	roles, err := s.repo.FindDefaultRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list default roles: %w", err)
	}
	return roles, nil
}

// A role's permission set feeds every holder's cached snapshot, so all of them go.
func (s *roleRegistry) invalidateSubjects(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, cache.SubjectPrefix); err != nil {
		s.logger.Warn("failed to invalidate subject cache", zap.Error(err))
	}
}
