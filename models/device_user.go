package models

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// RelationshipType is the device-scoped role a user holds on one device.
type RelationshipType string

const (
	RelationshipOwner     RelationshipType = "owner"
	RelationshipCaretaker RelationshipType = "caretaker"
	RelationshipViewer    RelationshipType = "viewer"
)

func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipOwner, RelationshipCaretaker, RelationshipViewer:
		return true
	}
	return false
}

// DevicePermission is a capability scoped to a single device-user relationship.
type DevicePermission string

const (
	DevicePermView          DevicePermission = "view"
	DevicePermControl       DevicePermission = "control"
	DevicePermManage        DevicePermission = "manage"
	DevicePermViewHealth    DevicePermission = "view_health"
	DevicePermControlDevice DevicePermission = "control_device"
	DevicePermManageAlerts  DevicePermission = "manage_alerts"
)

var knownDevicePermissions = map[DevicePermission]struct{}{
	DevicePermView:          {},
	DevicePermControl:       {},
	DevicePermManage:        {},
	DevicePermViewHealth:    {},
	DevicePermControlDevice: {},
	DevicePermManageAlerts:  {},
}

func (p DevicePermission) Valid() bool {
	_, ok := knownDevicePermissions[p]
	return ok
}

// OwnerPermissions is the set granted to the owner relationship created with a device.
func OwnerPermissions() []DevicePermission {
	return []DevicePermission{DevicePermControl, DevicePermManage, DevicePermView}
}

// NormalizeDevicePermissions validates the values, drops duplicates and sorts the result.
// An unknown value is an error; nothing from it is stored.
func NormalizeDevicePermissions(perms []DevicePermission) ([]DevicePermission, error) {
	seen := make(map[DevicePermission]struct{}, len(perms))
	out := make([]DevicePermission, 0, len(perms))
	for _, p := range perms {
		if !p.Valid() {
			return nil, fmt.Errorf("unknown device permission %q", p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DeviceUser binds one user to one device. (device_id, user_id) is unique.
type DeviceUser struct {
	ID               uint                                  `gorm:"primarykey" json:"-"`
	DeviceID         uint                                  `gorm:"not null;uniqueIndex:idx_device_user,priority:1" json:"device_id"`
	UserID           uint                                  `gorm:"not null;uniqueIndex:idx_device_user,priority:2;index" json:"user_id"`
	RelationshipType RelationshipType                      `gorm:"size:16;not null;index" json:"relationship_type"`
	Permissions      datatypes.JSONSlice[DevicePermission] `gorm:"not null" json:"permissions"`
	CreatedAt        time.Time                             `json:"created_at"`
	UpdatedAt        time.Time                             `json:"updated_at"`
}

func (DeviceUser) TableName() string {
	return "device_users"
}
