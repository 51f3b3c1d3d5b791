package models

import "gorm.io/gorm"

// Built-in role slugs.
const (
	RoleAdmin      = "admin"
	RoleParent     = "parent"
	RoleBabysitter = "babysitter"
)

type Role struct {
	gorm.Model
	Slug        string       `gorm:"uniqueIndex;size:64;not null" json:"slug"`
	Name        string       `gorm:"size:128" json:"name"`
	Description string       `json:"description"`
	IsDefault   bool         `gorm:"not null;default:false" json:"is_default"` // assigned to every newly registered user
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	Users       []User       `gorm:"many2many:user_roles;" json:"-"`
}
