package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/companion/internal/usage/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SQLGuestRegistry struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLGuestRegistry(db *gorm.DB) *SQLGuestRegistry {
	return &SQLGuestRegistry{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Touch creates the guest row on first sight and refreshes its signals
// afterwards. first_seen_at is never overwritten.
func (r *SQLGuestRegistry) Touch(ctx context.Context, device domain.GuestDevice) error {
	device.DeviceID = strings.TrimSpace(device.DeviceID)
	if device.DeviceID == "" {
		return domain.ErrMissingDeviceID
	}
	now := r.now()
	if device.Signals == nil {
		device.Signals = datatypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO guest_devices (device_id, ip_address, user_agent, fingerprint, signals, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (device_id) DO UPDATE SET
		   ip_address = excluded.ip_address,
		   user_agent = excluded.user_agent,
		   fingerprint = excluded.fingerprint,
		   signals = excluded.signals,
		   last_seen_at = excluded.last_seen_at`,
		device.DeviceID, device.IPAddress, device.UserAgent, device.Fingerprint, device.Signals, now, now,
	).Error
}

// DeleteIdleBefore drops guest rows not seen since cutoff.
func (r *SQLGuestRegistry) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`DELETE FROM guest_devices WHERE last_seen_at < ?`, cutoff)
	return result.RowsAffected, result.Error
}
