package models

import "time"

type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceMaintenance DeviceStatus = "maintenance"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceOnline, DeviceOffline, DeviceMaintenance:
		return true
	}
	return false
}

// Device is a smart cradle. Devices are hard-deleted together with their
// device_users rows, so there is no DeletedAt column.
type Device struct {
	ID           uint         `gorm:"primarykey" json:"id"`
	Name         string       `gorm:"size:128" json:"name"`
	SerialNumber string       `gorm:"uniqueIndex;size:64;not null" json:"serial_number"`
	MACAddress   string       `gorm:"column:mac_address;uniqueIndex;size:17;not null" json:"mac_address"`
	Status       DeviceStatus `gorm:"size:16;not null;default:offline" json:"status"`

	// Telemetry, written by the ingestion side.
	SignalStrength int        `json:"signal_strength"`
	BatteryLevel   int        `json:"battery_level"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`

	// Control toggles.
	AutoRock   bool `gorm:"not null;default:false" json:"auto_rock"`
	WhiteNoise bool `gorm:"not null;default:false" json:"white_noise"`
	NightLight bool `gorm:"not null;default:false" json:"night_light"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
