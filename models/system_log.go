package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SystemLog records a mutation performed by the registries. Rows are only
// ever inserted by internal code; nothing updates or deletes them.
type SystemLog struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ActorID    uint      `gorm:"index" json:"actor_id"` // 0 for system processes
	Action     string    `gorm:"size:64;not null;index" json:"action"`
	TargetType string    `gorm:"size:32" json:"target_type"`
	TargetID   uint      `json:"target_id"`
	Detail     string    `gorm:"size:512" json:"detail"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (l *SystemLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
