package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"smartcradle/cache"
	"smartcradle/models"
	"smartcradle/repositories"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserRoleService binds users to roles and answers role questions about them.
type UserRoleService interface {
	// AssignRole attaches the role with the given slug. Unknown slugs yield ErrNotFound.
	AssignRole(ctx context.Context, user *models.User, roleSlug string) error
	// RemoveRole detaches the role; absent roles and unknown slugs are not errors.
	RemoveRole(ctx context.Context, user *models.User, roleSlug string) error
	// LoadUser reads the user with roles and their permissions from storage.
	LoadUser(ctx context.Context, id uint) (*models.User, error)
	LoadUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type userRoleService struct {
	db     *gorm.DB
	users  repositories.UserRepository
	roles  repositories.RoleRepository
	logs   repositories.SystemLogRepository
	cache  cache.Cache
	logger *zap.Logger
}

var _ UserRoleService = (*userRoleService)(nil)

func NewUserRoleService(db *gorm.DB, users repositories.UserRepository, roles repositories.RoleRepository, logs repositories.SystemLogRepository, c cache.Cache, logger *zap.Logger) UserRoleService {
	return &userRoleService{db: db, users: users, roles: roles, logs: logs, cache: c, logger: logger.Named("user-roles")}
}

// HasRole does a linear scan over the user's loaded roles.
func HasRole(user *models.User, roleSlug string) bool {
	if user == nil {
		return false
	}
	for _, r := range user.Roles {
		if r.Slug == roleSlug {
			return true
		}
	}
	return false
}

// EffectivePermissions is the sorted, deduplicated union of every assigned role's permission slugs.
func EffectivePermissions(user *models.User) []string {
	if user == nil {
		return []string{}
	}
	seen := make(map[string]struct{})
	for _, role := range user.Roles {
		for _, perm := range role.Permissions {
			seen[perm.Slug] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for slug := range seen {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

var rolePrecedence = map[string]int{
	models.RoleAdmin:      0,
	models.RoleParent:     1,
	models.RoleBabysitter: 2,
}

// PrimaryRole picks the role shown for the user: admin, then parent, then
// babysitter, then any other role by slug. Empty when the user has no roles.
func PrimaryRole(user *models.User) string {
	if user == nil {
		return ""
	}
	return primaryRoleOf(RoleSlugs(user))
}

// RoleSlugs returns the slugs of the user's loaded roles, sorted.
func RoleSlugs(user *models.User) []string {
	slugs := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		slugs = append(slugs, r.Slug)
	}
	sort.Strings(slugs)
	return slugs
}

func primaryRoleOf(slugs []string) string {
	best := ""
	for _, slug := range slugs {
		if best == "" || rolePrecedes(slug, best) {
			best = slug
		}
	}
	return best
}

func rolePrecedes(a, b string) bool {
	ra, aKnown := rolePrecedence[a]
	rb, bKnown := rolePrecedence[b]
	switch {
	case aKnown && bKnown:
		return ra < rb
	case aKnown != bKnown:
		return aKnown
	default:
		return a < b
	}
}

func (s *userRoleService) AssignRole(ctx context.Context, user *models.User, roleSlug string) error {
	role, err := s.roles.FindRoleBySlug(ctx, roleSlug)
	if err != nil {
		return lookupErr(err, "role", roleSlug)
	}
	if HasRole(user, roleSlug) {
		return nil
	}

	if roleSlug == models.RoleParent {
		unlock := ownerLocks.lock(user.ID)
		defer unlock()
	}

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.users.WithTx(tx)
		if roleSlug == models.RoleParent {
			if err := checkParentOwnership(ctx, tx, repo, user.ID); err != nil {
				return err
			}
		} else if _, err := repo.FindByID(ctx, user.ID); err != nil {
			return lookupErr(err, "user", user.ID)
		}
		var err error
		inserted, err = repo.AttachRole(ctx, user.ID, role.ID)
		if err != nil {
			return fmt.Errorf("attach role %s to user %d: %w", roleSlug, user.ID, err)
		}
		if !inserted {
			return nil
		}
		return recordLog(ctx, tx, s.logs, LogRoleAssigned, "user", user.ID, "assigned role %s", roleSlug)
	})
	if err != nil {
		return err
	}

	user.Roles = append(user.Roles, *role)
	if !inserted {
		return nil
	}
	s.invalidate(ctx, user.ID)
	s.logger.Info("role assigned", zap.Uint("user_id", user.ID), zap.String("role", roleSlug))
	return nil
}

// checkParentOwnership rejects the parent role for a user who owns more than
// one device. The caller holds the user's owner lock.
func checkParentOwnership(ctx context.Context, tx *gorm.DB, users repositories.UserRepository, userID uint) error {
	if _, err := users.LockByID(ctx, userID); err != nil {
		return lookupErr(err, "user", userID)
	}
	owned, err := repositories.NewDeviceRepository(tx).OwnedDeviceIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("load owned devices: %w", err)
	}
	if len(owned) > 1 {
		return ruleViolation("user %d owns %d devices and cannot hold the parent role", userID, len(owned))
	}
	return nil
}

func (s *userRoleService) RemoveRole(ctx context.Context, user *models.User, roleSlug string) error {
	role, err := s.roles.FindRoleBySlug(ctx, roleSlug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load role %s: %w", roleSlug, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.users.WithTx(tx).DetachRole(ctx, user.ID, role.ID); err != nil {
			return fmt.Errorf("detach role %s from user %d: %w", roleSlug, user.ID, err)
		}
		if !HasRole(user, roleSlug) {
			return nil
		}
		return recordLog(ctx, tx, s.logs, LogRoleRemoved, "user", user.ID, "removed role %s", roleSlug)
	})
	if err != nil {
		return err
	}

	kept := user.Roles[:0]
	for _, r := range user.Roles {
		if r.Slug != roleSlug {
			kept = append(kept, r)
		}
	}
	user.Roles = kept
	s.invalidate(ctx, user.ID)
	return nil
}

func (s *userRoleService) LoadUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "user", id)
	}
	return user, nil
}

func (s *userRoleService) LoadUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, lookupErr(err, "user", email)
	}
	return user, nil
}

func (s *userRoleService) invalidate(ctx context.Context, userID uint) {
	if err := s.cache.Delete(ctx, cache.SubjectKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate subject cache", zap.Uint("user_id", userID), zap.Error(err))
	}
}
