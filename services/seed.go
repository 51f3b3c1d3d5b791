package services

import (
	"context"
	"errors"
	"fmt"

	"smartcradle/models"
	"smartcradle/repositories"

	"gorm.io/gorm"
)

// Global permission slugs.
const (
	PermViewAdminDashboard      = "view_admin_dashboard"
	PermManageUsers             = "manage_users"
	PermManageRoles             = "manage_roles"
	PermManagePermissions       = "manage_permissions"
	PermViewSystemLogs          = "view_system_logs"
	PermViewParentDashboard     = "view_parent_dashboard"
	PermViewBabysitterDashboard = "view_babysitter_dashboard"
	PermManageAlerts            = "manage_alerts"
	PermViewAlerts              = "view_alerts"
	PermViewDevice              = "view_device"
	PermControlDevice           = "control_device"
	PermViewHealth              = "view_health"
	PermManageDeviceUsers       = "manage_device_users"
)

type catalogEntry struct {
	Slug, Name, Group, Description string
}

var defaultCatalog = []catalogEntry{
	{PermViewAdminDashboard, "View admin dashboard", "admin", "Open the administrator dashboard"},
	{PermManageUsers, "Manage users", "admin", "Inspect and delete any user"},
	{PermManageRoles, "Manage roles", "admin", "Assign and remove user roles"},
	{PermManagePermissions, "Manage permissions", "admin", "Browse the permission catalog and role grants"},
	{PermViewSystemLogs, "View system logs", "admin", "Read the system log"},
	{PermViewParentDashboard, "View parent dashboard", "dashboard", "Open the parent dashboard"},
	{PermViewBabysitterDashboard, "View babysitter dashboard", "dashboard", "Open the babysitter dashboard"},
	{PermManageAlerts, "Manage alerts", "alerts", "Configure alert thresholds and recipients"},
	{PermViewAlerts, "View alerts", "alerts", "See alerts raised by devices"},
	{PermViewDevice, "View devices", "device", "See devices in the dashboard feed"},
	{PermControlDevice, "Control devices", "device", "Toggle cradle controls"},
	{PermViewHealth, "View health data", "device", "Read baby health readings"},
	{PermManageDeviceUsers, "Manage device users", "device", "Bind caretakers and viewers to devices"},
}

type roleSeed struct {
	Slug, Name, Description string
	IsDefault               bool
	Permissions             []string // nil means every catalog permission
}

var defaultRoles = []roleSeed{
	{Slug: models.RoleAdmin, Name: "Administrator", Description: "Full access to every device and setting"},
	{
		Slug: models.RoleParent, Name: "Parent", Description: "Owns one cradle and manages who can use it",
		IsDefault: true,
		Permissions: []string{
			PermViewParentDashboard, PermManageAlerts, PermViewAlerts,
			PermViewDevice, PermControlDevice, PermViewHealth, PermManageDeviceUsers,
		},
	},
	{
		Slug: models.RoleBabysitter, Name: "Babysitter", Description: "Watches cradles shared by a parent",
		Permissions: []string{PermViewBabysitterDashboard, PermViewAlerts, PermViewDevice, PermViewHealth},
	},
}

// SeedCatalog makes sure the built-in permissions and roles exist with their
// grants. It only adds: permissions granted by hand are kept.
func SeedCatalog(ctx context.Context, registry RoleRegistry) error {
	bySlug := make(map[string]*models.Permission, len(defaultCatalog))
	all := make([]string, 0, len(defaultCatalog))
	for _, e := range defaultCatalog {
		p, err := registry.GetOrCreatePermission(ctx, e.Slug, e.Name, e.Group, e.Description)
		if err != nil {
			return err
		}
		bySlug[e.Slug] = p
		all = append(all, e.Slug)
	}

	for _, rs := range defaultRoles {
		role, err := registry.GetOrCreateRole(ctx, rs.Slug, rs.Name, rs.Description)
		if err != nil {
			return err
		}
		if err := registry.MarkDefault(ctx, role, rs.IsDefault); err != nil {
			return err
		}
		grants := rs.Permissions
		if grants == nil {
			grants = all
		}
		for _, slug := range grants {
			if err := registry.GrantPermission(ctx, role, bySlug[slug]); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnsureAdmin creates the bootstrap administrator when no user has the email
// yet, and makes sure the account holds the admin role.
func EnsureAdmin(ctx context.Context, users repositories.UserRepository, userRoles UserRoleService, email, password string) (*models.User, error) {
	user, err := users.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if password == "" {
			return nil, ruleViolation("admin password is required to create %s", email)
		}
		hashed, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		user = &models.User{Name: "Administrator", Email: email, Password: hashed}
		if err := users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("create admin user: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load admin user: %w", err)
	}

	if err := userRoles.AssignRole(ctx, user, models.RoleAdmin); err != nil {
		return nil, err
	}
	return user, nil
}
