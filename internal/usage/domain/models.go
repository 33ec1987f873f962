// Package domain contains the quota model shared by the usage counter
// engines and the limiter service.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// UsageCounter holds one identity's consumption for one usage day.
type UsageCounter struct {
	Kind      string    `gorm:"primaryKey;type:varchar(32)" json:"kind"`
	Subject   string    `gorm:"primaryKey;type:varchar(255)" json:"subject"`
	Day       string    `gorm:"primaryKey;type:varchar(10)" json:"day"`
	Count     int       `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (UsageCounter) TableName() string { return "usage_counters" }

// GuestDevice records the audit and fraud signals seen with a guest device id.
type GuestDevice struct {
	DeviceID    string            `gorm:"primaryKey;type:varchar(255)" json:"device_id"`
	IPAddress   string            `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent   string            `gorm:"type:text" json:"user_agent"`
	Fingerprint string            `gorm:"type:text" json:"fingerprint"`
	Signals     datatypes.JSONMap `json:"signals"`
	FirstSeenAt time.Time         `gorm:"not null" json:"first_seen_at"`
	LastSeenAt  time.Time         `gorm:"not null;index" json:"last_seen_at"`
}

func (GuestDevice) TableName() string { return "guest_devices" }
