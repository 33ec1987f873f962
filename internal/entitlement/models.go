package entitlement

import (
	"errors"
	"time"
)

const (
	PlanFree     = "free"
	PlanMonthly  = "monthly"
	PlanLifetime = "lifetime"
)

var (
	ErrInvalidGrant = errors.New("invalid_entitlement_grant")
	ErrUnknownPlan  = errors.New("unknown_plan_type")
)

// Profile is the user's current plan.
type Profile struct {
	UserID     string     `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	PlanType   string     `gorm:"type:varchar(32);not null;default:free" json:"plan_type"`
	DailyLimit int        `gorm:"not null" json:"daily_limit"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// Grant is the at-most-once ledger of activations, one row per order.
type Grant struct {
	OrderID   string    `gorm:"primaryKey;type:varchar(64)" json:"order_id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PlanType  string    `gorm:"type:varchar(32);not null" json:"plan_type"`
	ProductID string    `gorm:"type:varchar(128)" json:"product_id"`
	GrantedAt time.Time `gorm:"not null" json:"granted_at"`
}

func (Grant) TableName() string { return "entitlement_grants" }

type ActivateRequest struct {
	UserID    string
	PlanType  string
	OrderID   string
	ProductID string
}

// ActivateResult reports whether this call applied the grant. Applied is
// false when the order was granted before.
type ActivateResult struct {
	Applied bool
	Profile *Profile
}

// View is the caller-facing plan summary.
type View struct {
	PlanType   string     `json:"planType"`
	DailyLimit int        `json:"dailyLimit"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Active     bool       `json:"active"`
}
