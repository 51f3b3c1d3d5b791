package models

import "gorm.io/gorm"

// Permission is a named capability from the global catalog (e.g. "manage_alerts", "view_health").
// Permissions are grouped for display and never change once seeded.
type Permission struct {
	gorm.Model
	Slug        string `gorm:"uniqueIndex;size:64;not null" json:"slug"`
	Name        string `gorm:"size:128" json:"name"`
	Group       string `gorm:"column:group_name;size:64;index" json:"group"`
	Description string `json:"description"`
	Roles       []Role `gorm:"many2many:role_permissions;" json:"-"`
}

// RolePermission is the role_permissions join row. (role_id, permission_id) is the primary key.
type RolePermission struct {
	RoleID       uint `gorm:"primaryKey"`
	PermissionID uint `gorm:"primaryKey"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}
