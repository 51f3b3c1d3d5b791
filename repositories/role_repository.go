package repositories

import (
	"context"

	"smartcradle/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoleRepository covers roles, the permission catalog and the role_permissions join table.
type RoleRepository interface {
	WithTx(tx *gorm.DB) RoleRepository
	// FirstOrCreateRole returns the role with the given slug, inserting it
	// with the supplied attributes when absent. Permissions are preloaded.
	FirstOrCreateRole(ctx context.Context, role *models.Role) error
	FindRoleBySlug(ctx context.Context, slug string) (*models.Role, error)
	FindDefaultRoles(ctx context.Context) ([]models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	SetDefault(ctx context.Context, roleID uint, isDefault bool) error

	FirstOrCreatePermission(ctx context.Context, permission *models.Permission) error
	FindPermissionBySlug(ctx context.Context, slug string) (*models.Permission, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)

	// AttachPermission reports whether a new row was inserted.
	AttachPermission(ctx context.Context, roleID, permissionID uint) (bool, error)
	DetachPermission(ctx context.Context, roleID, permissionID uint) error
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) WithTx(tx *gorm.DB) RoleRepository {
	return &roleRepository{db: tx}
}

func (r *roleRepository) FirstOrCreateRole(ctx context.Context, role *models.Role) error {
	attrs := models.Role{Name: role.Name, Description: role.Description, IsDefault: role.IsDefault}
	err := r.db.WithContext(ctx).
		Where(models.Role{Slug: role.Slug}).
		Attrs(attrs).
		FirstOrCreate(role).Error
	if err != nil {
		return err
	}
	role.Permissions = nil
	return r.db.WithContext(ctx).Model(role).Association("Permissions").Find(&role.Permissions)
}

func (r *roleRepository) FindRoleBySlug(ctx context.Context, slug string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Preload("Permissions").Where("slug = ?", slug).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindDefaultRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.WithContext(ctx).Preload("Permissions").Where("is_default = ?", true).Order("slug").Find(&roles).Error
	return roles, err
}

func (r *roleRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.WithContext(ctx).Preload("Permissions").Order("slug").Find(&roles).Error
	return roles, err
}

func (r *roleRepository) SetDefault(ctx context.Context, roleID uint, isDefault bool) error {
	return r.db.WithContext(ctx).Model(&models.Role{}).Where("id = ?", roleID).Update("is_default", isDefault).Error
}

func (r *roleRepository) FirstOrCreatePermission(ctx context.Context, permission *models.Permission) error {
	attrs := models.Permission{Name: permission.Name, Group: permission.Group, Description: permission.Description}
	return r.db.WithContext(ctx).
		Where(models.Permission{Slug: permission.Slug}).
		Attrs(attrs).
		FirstOrCreate(permission).Error
}

func (r *roleRepository) FindPermissionBySlug(ctx context.Context, slug string) (*models.Permission, error) {
	var permission models.Permission
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&permission).Error; err != nil {
		return nil, err
	}
	return &permission, nil
}

func (r *roleRepository) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.WithContext(ctx).Order("group_name").Order("slug").Find(&permissions).Error
	return permissions, err
}

func (r *roleRepository) AttachPermission(ctx context.Context, roleID, permissionID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.RolePermission{RoleID: roleID, PermissionID: permissionID})
	return result.RowsAffected > 0, result.Error
}

func (r *roleRepository) DetachPermission(ctx context.Context, roleID, permissionID uint) error {
	return r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&models.RolePermission{}).Error
}
