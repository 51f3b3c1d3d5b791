package repositories

import (
	"context"

	"smartcradle/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceRepository covers devices and the device_users relationship table.
type DeviceRepository interface {
	WithTx(tx *gorm.DB) DeviceRepository
	Create(ctx context.Context, device *models.Device) error
	FindByID(ctx context.Context, id uint) (*models.Device, error)
	UpdateFields(ctx context.Context, device *models.Device, fields map[string]any) error
	Delete(ctx context.Context, device *models.Device) error
	// ListForUser returns the devices the user has any relationship with, ordered by id.
	ListForUser(ctx context.Context, userID uint) ([]models.Device, error)

	FindRelation(ctx context.Context, deviceID, userID uint) (*models.DeviceUser, error)
	// UpsertRelation inserts the row or, when (device_id, user_id) exists,
	// overwrites relationship_type and permissions.
	UpsertRelation(ctx context.Context, rel *models.DeviceUser) error
	DeleteRelation(ctx context.Context, deviceID, userID uint) (int64, error)
	DeleteRelationsForDevice(ctx context.Context, deviceID uint) error
	DeleteRelationsForUser(ctx context.Context, userID uint) error
	RelationsForUser(ctx context.Context, userID uint) ([]models.DeviceUser, error)
	RelationsForDevice(ctx context.Context, deviceID uint) ([]models.DeviceUser, error)
	// OwnedDeviceIDs lists the devices the user is bound to as owner.
	OwnedDeviceIDs(ctx context.Context, userID uint) ([]uint, error)
}

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) WithTx(tx *gorm.DB) DeviceRepository {
	return &deviceRepository{db: tx}
}

func (r *deviceRepository) Create(ctx context.Context, device *models.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *deviceRepository) FindByID(ctx context.Context, id uint) (*models.Device, error) {
	var device models.Device
	if err := r.db.WithContext(ctx).First(&device, id).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) UpdateFields(ctx context.Context, device *models.Device, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(device).Updates(fields).Error
}

func (r *deviceRepository) Delete(ctx context.Context, device *models.Device) error {
	return r.db.WithContext(ctx).Delete(device).Error
}

func (r *deviceRepository) ListForUser(ctx context.Context, userID uint) ([]models.Device, error) {
	var devices []models.Device
	err := r.db.WithContext(ctx).
		Joins("JOIN device_users ON device_users.device_id = devices.id").
		Where("device_users.user_id = ?", userID).
		Order("devices.id").
		Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) FindRelation(ctx context.Context, deviceID, userID uint) (*models.DeviceUser, error) {
	var rel models.DeviceUser
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND user_id = ?", deviceID, userID).
		First(&rel).Error
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *deviceRepository) UpsertRelation(ctx context.Context, rel *models.DeviceUser) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"relationship_type", "permissions", "updated_at"}),
		}).
		Create(rel).Error
}

func (r *deviceRepository) DeleteRelation(ctx context.Context, deviceID, userID uint) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("device_id = ? AND user_id = ?", deviceID, userID).
		Delete(&models.DeviceUser{})
	return result.RowsAffected, result.Error
}

func (r *deviceRepository) DeleteRelationsForDevice(ctx context.Context, deviceID uint) error {
	return r.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&models.DeviceUser{}).Error
}

func (r *deviceRepository) DeleteRelationsForUser(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.DeviceUser{}).Error
}

func (r *deviceRepository) RelationsForUser(ctx context.Context, userID uint) ([]models.DeviceUser, error) {
	var rels []models.DeviceUser
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("device_id").Find(&rels).Error
	return rels, err
}

func (r *deviceRepository) RelationsForDevice(ctx context.Context, deviceID uint) ([]models.DeviceUser, error) {
	var rels []models.DeviceUser
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("user_id").Find(&rels).Error
	return rels, err
}

func (r *deviceRepository) OwnedDeviceIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.DeviceUser{}).
		Where("user_id = ? AND relationship_type = ?", userID, models.RelationshipOwner).
		Order("device_id").
		Pluck("device_id", &ids).Error
	return ids, err
}
