package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartcradle/cache"
	"smartcradle/models"
	"smartcradle/repositories"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeviceAttrs describes a cradle at registration time.
type DeviceAttrs struct {
	Name         string `json:"name" validate:"max=128" description:"Display name"`
	SerialNumber string `json:"serial_number" validate:"required,max=64" description:"Unique serial number"`
	MACAddress   string `json:"mac_address" validate:"required,mac" description:"Unique MAC address"`
}

// ControlInput toggles device controls; nil fields are left unchanged.
type ControlInput struct {
	AutoRock   *bool `json:"auto_rock,omitempty"`
	WhiteNoise *bool `json:"white_noise,omitempty"`
	NightLight *bool `json:"night_light,omitempty"`
}

// TelemetryInput is what a cradle reports about itself.
type TelemetryInput struct {
	Status         models.DeviceStatus `json:"status" validate:"required,oneof=online offline maintenance"`
	SignalStrength int                 `json:"signal_strength" validate:"min=-150,max=0"`
	BatteryLevel   int                 `json:"battery_level" validate:"min=0,max=100"`
}

// DeviceRegistry owns devices and the user relationships attached to them.
type DeviceRegistry interface {
	// RegisterDevice creates the device and its owner relationship in one transaction.
	// A parent that already owns a device gets a RuleError.
	RegisterDevice(ctx context.Context, attrs DeviceAttrs, ownerID uint) (*models.Device, error)
	// AssignUser inserts or replaces the (device, user) relationship.
	AssignUser(ctx context.Context, deviceID, userID uint, relType models.RelationshipType, perms []models.DevicePermission) (*models.DeviceUser, error)
	// RemoveUser deletes the relationship. Removing a missing one is not an error.
	RemoveUser(ctx context.Context, deviceID, userID uint) error
	HasDeviceAccess(ctx context.Context, userID, deviceID uint) (bool, error)
	// GetDevicePermissions returns the relationship's permission set, empty when there is none.
	GetDevicePermissions(ctx context.Context, userID, deviceID uint) ([]models.DevicePermission, error)
	// DeleteDevice removes the device and every relationship pointing at it.
	DeleteDevice(ctx context.Context, deviceID uint) error

	FindDevice(ctx context.Context, deviceID uint) (*models.Device, error)
	ListUserDevices(ctx context.Context, userID uint) ([]models.Device, error)
	Relationships(ctx context.Context, userID uint) ([]models.DeviceUser, error)
	DeviceUsers(ctx context.Context, deviceID uint) ([]models.DeviceUser, error)
	UpdateControls(ctx context.Context, deviceID uint, input ControlInput) (*models.Device, error)
	UpdateTelemetry(ctx context.Context, deviceID uint, input TelemetryInput) (*models.Device, error)
}

type deviceRegistry struct {
	db      *gorm.DB
	devices repositories.DeviceRepository
	users   repositories.UserRepository
	logs    repositories.SystemLogRepository
	cache   cache.Cache
	locks   *userLocks
	logger  *zap.Logger
}

var _ DeviceRegistry = (*deviceRegistry)(nil)

func NewDeviceRegistry(db *gorm.DB, devices repositories.DeviceRepository, users repositories.UserRepository, logs repositories.SystemLogRepository, c cache.Cache, logger *zap.Logger) DeviceRegistry {
	return &deviceRegistry{
		db:      db,
		devices: devices,
		users:   users,
		logs:    logs,
		cache:   c,
		locks:   ownerLocks,
		logger:  logger.Named("device-registry"),
	}
}

func (s *deviceRegistry) RegisterDevice(ctx context.Context, attrs DeviceAttrs, ownerID uint) (*models.Device, error) {
	attrs.SerialNumber = strings.TrimSpace(attrs.SerialNumber)
	attrs.MACAddress = strings.ToUpper(strings.TrimSpace(attrs.MACAddress))
	if err := validateInput(&attrs); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(ownerID)
	defer unlock()

	device := &models.Device{
		Name:         attrs.Name,
		SerialNumber: attrs.SerialNumber,
		MACAddress:   attrs.MACAddress,
		Status:       models.DeviceOffline,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkOwnershipCap(ctx, tx, ownerID, 0); err != nil {
			return err
		}
		if err := s.devices.WithTx(tx).Create(ctx, device); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ruleViolation("a device with serial number %s or MAC address %s is already registered", attrs.SerialNumber, attrs.MACAddress)
			}
			return fmt.Errorf("create device: %w", err)
		}
		owner := &models.DeviceUser{
			DeviceID:         device.ID,
			UserID:           ownerID,
			RelationshipType: models.RelationshipOwner,
			Permissions:      models.OwnerPermissions(),
		}
		if err := s.devices.WithTx(tx).UpsertRelation(ctx, owner); err != nil {
			return fmt.Errorf("create owner relationship: %w", err)
		}
		return recordLog(ctx, tx, s.logs, LogDeviceRegistered, "device", device.ID, "registered %s for owner %d", device.SerialNumber, ownerID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerID)
	s.logger.Info("device registered", zap.Uint("device_id", device.ID), zap.Uint("owner_id", ownerID))
	return device, nil
}

func (s *deviceRegistry) AssignUser(ctx context.Context, deviceID, userID uint, relType models.RelationshipType, perms []models.DevicePermission) (*models.DeviceUser, error) {
	if !relType.Valid() {
		return nil, ruleViolation("unknown relationship type %q", relType)
	}
	normalized, err := models.NormalizeDevicePermissions(perms)
	if err != nil {
		return nil, &RuleError{Msg: err.Error()}
	}

	if relType == models.RelationshipOwner {
		unlock := s.locks.lock(userID)
		defer unlock()
	}

	rel := &models.DeviceUser{
		DeviceID:         deviceID,
		UserID:           userID,
		RelationshipType: relType,
		Permissions:      normalized,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.devices.WithTx(tx).FindByID(ctx, deviceID); err != nil {
			return lookupErr(err, "device", deviceID)
		}
		if relType == models.RelationshipOwner {
			if err := s.checkOwnershipCap(ctx, tx, userID, deviceID); err != nil {
				return err
			}
		} else if _, err := s.users.WithTx(tx).FindByID(ctx, userID); err != nil {
			return lookupErr(err, "user", userID)
		}
		if err := s.devices.WithTx(tx).UpsertRelation(ctx, rel); err != nil {
			return fmt.Errorf("save relationship: %w", err)
		}
		return recordLog(ctx, tx, s.logs, LogDeviceUserAssigned, "device", deviceID, "user %d as %s %v", userID, relType, normalized)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	s.logger.Info("device user assigned",
		zap.Uint("device_id", deviceID),
		zap.Uint("user_id", userID),
		zap.String("relationship", string(relType)))
	return rel, nil
}

func (s *deviceRegistry) RemoveUser(ctx context.Context, deviceID, userID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := s.devices.WithTx(tx).DeleteRelation(ctx, deviceID, userID)
		if err != nil {
			return fmt.Errorf("delete relationship: %w", err)
		}
		if removed == 0 {
			return nil
		}
		return recordLog(ctx, tx, s.logs, LogDeviceUserRemoved, "device", deviceID, "removed user %d", userID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *deviceRegistry) HasDeviceAccess(ctx context.Context, userID, deviceID uint) (bool, error) {
	_, err := s.devices.FindRelation(ctx, deviceID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load relationship: %w", err)
	}
	return true, nil
}

func (s *deviceRegistry) GetDevicePermissions(ctx context.Context, userID, deviceID uint) ([]models.DevicePermission, error) {
	rel, err := s.devices.FindRelation(ctx, deviceID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []models.DevicePermission{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load relationship: %w", err)
	}
	out := make([]models.DevicePermission, len(rel.Permissions))
	copy(out, rel.Permissions)
	return out, nil
}

func (s *deviceRegistry) DeleteDevice(ctx context.Context, deviceID uint) error {
	var affected []uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.devices.WithTx(tx)
		device, err := repo.FindByID(ctx, deviceID)
		if err != nil {
			return lookupErr(err, "device", deviceID)
		}
		rels, err := repo.RelationsForDevice(ctx, deviceID)
		if err != nil {
			return fmt.Errorf("load relationships: %w", err)
		}
		for _, rel := range rels {
			affected = append(affected, rel.UserID)
		}
		if err := repo.DeleteRelationsForDevice(ctx, deviceID); err != nil {
			return fmt.Errorf("delete relationships: %w", err)
		}
		if err := repo.Delete(ctx, device); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
		return recordLog(ctx, tx, s.logs, LogDeviceDeleted, "device", deviceID, "deleted %s with %d relationships", device.SerialNumber, len(rels))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, affected...)
	s.logger.Info("device deleted", zap.Uint("device_id", deviceID), zap.Int("relationships", len(affected)))
	return nil
}

func (s *deviceRegistry) FindDevice(ctx context.Context, deviceID uint) (*models.Device, error) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, lookupErr(err, "device", deviceID)
	}
	return device, nil
}

func (s *deviceRegistry) ListUserDevices(ctx context.Context, userID uint) ([]models.Device, error) {
	devices, err := s.devices.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices for user %d: %w", userID, err)
	}
	return devices, nil
}

func (s *deviceRegistry) Relationships(ctx context.Context, userID uint) ([]models.DeviceUser, error) {
	rels, err := s.devices.RelationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list relationships for user %d: %w", userID, err)
	}
	return rels, nil
}

func (s *deviceRegistry) DeviceUsers(ctx context.Context, deviceID uint) ([]models.DeviceUser, error) {
	rels, err := s.devices.RelationsForDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list relationships for device %d: %w", deviceID, err)
	}
	return rels, nil
}

func (s *deviceRegistry) UpdateControls(ctx context.Context, deviceID uint, input ControlInput) (*models.Device, error) {
	fields := make(map[string]any)
	if input.AutoRock != nil {
		fields["auto_rock"] = *input.AutoRock
	}
	if input.WhiteNoise != nil {
		fields["white_noise"] = *input.WhiteNoise
	}
	if input.NightLight != nil {
		fields["night_light"] = *input.NightLight
	}

	var device *models.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.devices.WithTx(tx)
		var err error
		device, err = repo.FindByID(ctx, deviceID)
		if err != nil {
			return lookupErr(err, "device", deviceID)
		}
		if len(fields) == 0 {
			return nil
		}
		if err := repo.UpdateFields(ctx, device, fields); err != nil {
			return fmt.Errorf("update controls: %w", err)
		}
		return recordLog(ctx, tx, s.logs, LogDeviceControlled, "device", deviceID, "controls %v", fields)
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (s *deviceRegistry) UpdateTelemetry(ctx context.Context, deviceID uint, input TelemetryInput) (*models.Device, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, lookupErr(err, "device", deviceID)
	}
	fields := map[string]any{
		"status":          input.Status,
		"signal_strength": input.SignalStrength,
		"battery_level":   input.BatteryLevel,
		"last_seen_at":    time.Now(),
	}
	if err := s.devices.UpdateFields(ctx, device, fields); err != nil {
		return nil, fmt.Errorf("update telemetry: %w", err)
	}
	return device, nil
}

// checkOwnershipCap must run inside the transaction with the per-user lock
// held. It re-reads the user's roles and owned devices under a row lock.
func (s *deviceRegistry) checkOwnershipCap(ctx context.Context, tx *gorm.DB, userID, deviceID uint) error {
	user, err := s.users.WithTx(tx).LockByID(ctx, userID)
	if err != nil {
		return lookupErr(err, "user", userID)
	}
	if !HasRole(user, models.RoleParent) {
		return nil
	}
	owned, err := s.devices.WithTx(tx).OwnedDeviceIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("load owned devices: %w", err)
	}
	for _, id := range owned {
		if id != deviceID {
			return ruleViolation("user %d holds the parent role and already owns device %d", userID, id)
		}
	}
	return nil
}

func (s *deviceRegistry) invalidate(ctx context.Context, userIDs ...uint) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, cache.SubjectKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate subject cache", zap.Error(err))
	}
}
