package domain

import (
	"context"
	"errors"
)

const (
	KindUser        = "user"
	KindGuestDevice = "guest_device"
	KindGuestIP     = "guest_ip"

	TrackingUser              = "user"
	TrackingDeviceFingerprint = "device_fingerprint"
	TrackingIPFallback        = "ip_fallback"

	PlanFree     = "free"
	PlanMonthly  = "monthly"
	PlanLifetime = "lifetime"

	// DayLayout formats usage days; lexical order equals date order.
	DayLayout = "2006-01-02"
)

var (
	ErrMissingDeviceID    = errors.New("missing_device_id")
	ErrMissingClientIP    = errors.New("missing_client_ip")
	ErrStorageUnavailable = errors.New("usage_storage_unavailable")
)

// CounterKey addresses one counter row.
type CounterKey struct {
	Kind    string
	Subject string
	Day     string
}

// CounterStore is a quota counter engine. Consume must be a single atomic
// conditional increment on the engine: two concurrent calls can never both
// observe a count below limit and both increment.
type CounterStore interface {
	// Consume adds one unit when the count is below limit and returns the
	// count after the call.
	Consume(ctx context.Context, key CounterKey, limit int) (count int, admitted bool, err error)
	Peek(ctx context.Context, key CounterKey) (int, error)
}

// GuestRegistry creates or refreshes the guest row for a device id.
type GuestRegistry interface {
	Touch(ctx context.Context, device GuestDevice) error
}

// PlanResolver reports a user's effective plan; expired plans resolve to free.
type PlanResolver interface {
	EffectivePlan(ctx context.Context, userID string) (string, error)
}

// Caller is the identity a quota decision is made for. UserID is set only
// when a bearer credential resolved to a user.
type Caller struct {
	UserID      string
	DeviceID    string
	IP          string
	UserAgent   string
	Fingerprint string
	Signals     map[string]any
}

// Decision is the outcome of a check or a consume.
type Decision struct {
	Allowed        bool   `json:"success"`
	Message        string `json:"message"`
	Remaining      int    `json:"remaining"`
	IsGuest        bool   `json:"isGuest"`
	Limit          int    `json:"limit"`
	TrackingMethod string `json:"trackingMethod,omitempty"`
}
