package repositories

import (
	"context"

	"smartcradle/models"

	"gorm.io/gorm"
)

// SystemLogRepository is append-only: there is no update or delete.
type SystemLogRepository interface {
	WithTx(tx *gorm.DB) SystemLogRepository
	Create(ctx context.Context, entry *models.SystemLog) error
	// List returns newest first.
	List(ctx context.Context, page int, pageSize int) ([]models.SystemLog, int64, error)
}

type systemLogRepository struct {
	db *gorm.DB
}

func NewSystemLogRepository(db *gorm.DB) SystemLogRepository {
	return &systemLogRepository{db: db}
}

func (r *systemLogRepository) WithTx(tx *gorm.DB) SystemLogRepository {
	return &systemLogRepository{db: tx}
}

func (r *systemLogRepository) Create(ctx context.Context, entry *models.SystemLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *systemLogRepository) List(ctx context.Context, page int, pageSize int) ([]models.SystemLog, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.SystemLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.SystemLog
	offset := (page - 1) * pageSize
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id").
		Offset(offset).Limit(pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
