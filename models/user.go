package models

import "gorm.io/gorm"

type User struct {
	gorm.Model
	Name     string `gorm:"size:128" json:"name"`
	Email    string `gorm:"uniqueIndex;size:191;not null" json:"email"`
	Password string `gorm:"not null" json:"-"` // bcrypt hash
	Roles    []Role `gorm:"many2many:user_roles;" json:"roles,omitempty"`
}

// UserRole is the user_roles join row. (user_id, role_id) is the primary key.
type UserRole struct {
	UserID uint `gorm:"primaryKey"`
	RoleID uint `gorm:"primaryKey"`
}

func (UserRole) TableName() string {
	return "user_roles"
}
