package services

import (
	"context"
	"fmt"

	"smartcradle/models"
	"smartcradle/repositories"

	"gorm.io/gorm"
)

type actorKey struct{}

// WithActor attaches the id of the user performing a mutation; it ends up in the system log.
func WithActor(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns 0 when the caller is an internal process.
func ActorFromContext(ctx context.Context) uint {
	id, _ := ctx.Value(actorKey{}).(uint)
	return id
}

// System log actions.
const (
	LogRoleAssigned       = "role.assigned"
	LogRoleRemoved        = "role.removed"
	LogPermissionGranted  = "permission.granted"
	LogPermissionRevoked  = "permission.revoked"
	LogDeviceRegistered   = "device.registered"
	LogDeviceDeleted      = "device.deleted"
	LogDeviceUserAssigned = "device.user_assigned"
	LogDeviceUserRemoved  = "device.user_removed"
	LogDeviceControlled   = "device.controlled"
	LogUserRegistered     = "user.registered"
	LogUserDeleted        = "user.deleted"
)

// recordLog appends a system log row inside the caller's transaction so the
// entry commits or rolls back with the mutation it describes.
func recordLog(ctx context.Context, tx *gorm.DB, logs repositories.SystemLogRepository, action, targetType string, targetID uint, format string, args ...any) error {
	entry := &models.SystemLog{
		ActorID:    ActorFromContext(ctx),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     fmt.Sprintf(format, args...),
	}
	if err := logs.WithTx(tx).Create(ctx, entry); err != nil {
		return fmt.Errorf("record %s: %w", action, err)
	}
	return nil
}
