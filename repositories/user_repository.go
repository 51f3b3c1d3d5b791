package repositories

import (
	"context"

	"smartcradle/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository interface defines User-related database operations
type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository
	Create(ctx context.Context, user *models.User) error
	// FindByID loads the user with Roles.Permissions preloaded.
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// LockByID re-reads the user row under SELECT ... FOR UPDATE where the dialect supports it.
	LockByID(ctx context.Context, id uint) (*models.User, error)
	Delete(ctx context.Context, user *models.User) error
	FindAll(ctx context.Context, page int, pageSize int) ([]models.User, int64, error)
	// AttachRole reports whether a new row was inserted.
	AttachRole(ctx context.Context, userID, roleID uint) (bool, error)
	DetachRole(ctx context.Context, userID, roleID uint) error
	DetachAllRoles(ctx context.Context, userID uint) error
}

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{db: tx}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Omit("Roles").Create(user).Error
}

func (r *userRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	result := r.db.WithContext(ctx).Preload("Roles.Permissions").First(&user, id)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	result := r.db.WithContext(ctx).Preload("Roles.Permissions").Where("email = ?", email).First(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (r *userRepository) LockByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	result := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, id)
	if result.Error != nil {
		return nil, result.Error
	}
	if err := r.db.WithContext(ctx).Model(&user).Association("Roles").Find(&user.Roles); err != nil {
		return nil, err
	}
	return &user, nil
}

// Delete removes the row for good so the email can be registered again.
func (r *userRepository) Delete(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Unscoped().Delete(user).Error
}

func (r *userRepository) FindAll(ctx context.Context, page int, pageSize int) ([]models.User, int64, error) {
	offset := (page - 1) * pageSize
	var users []models.User
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	result := r.db.WithContext(ctx).Preload("Roles").Order("id").Offset(offset).Limit(pageSize).Find(&users)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	return users, total, nil
}

// AttachRole inserts the join row; an existing pair is left untouched.
func (r *userRepository) AttachRole(ctx context.Context, userID, roleID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserRole{UserID: userID, RoleID: roleID})
	return result.RowsAffected > 0, result.Error
}

func (r *userRepository) DetachRole(ctx context.Context, userID, roleID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&models.UserRole{}).Error
}

func (r *userRepository) DetachAllRoles(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.UserRole{}).Error
}
