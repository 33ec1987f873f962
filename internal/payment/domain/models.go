// Package domain contains the payment record model and the provider adapter
// contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"

	// FailureActivation marks a compensated payment: money was taken but the
	// entitlement could not be applied. A later success delivery may still
	// complete it.
	FailureActivation = "activation_failed"
	// FailureProvider marks a payment the processor reported as failed. It is
	// terminal for success replays.
	FailureProvider = "provider_failed"
)

// Payment is the local record of one checkout attempt.
type Payment struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID         string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	ProviderOrderID *string      `gorm:"type:varchar(128);uniqueIndex" json:"provider_order_id,omitempty"`
	Provider        string       `gorm:"type:varchar(32);not null" json:"provider"`
	UserID          string       `gorm:"type:varchar(64);not null;index" json:"user_id"`
	ProductID       string       `gorm:"type:varchar(128)" json:"product_id"`
	PlanType        string       `gorm:"type:varchar(32);not null" json:"plan_type"`
	Amount          int64        `gorm:"not null" json:"amount"`
	Currency        string       `gorm:"type:varchar(8);not null" json:"currency"`
	Status          string       `gorm:"type:varchar(16);not null;index" json:"status"`
	FailureReason   *string      `gorm:"type:varchar(32)" json:"failure_reason,omitempty"`
	PaymentMethod   *string      `gorm:"type:varchar(64)" json:"payment_method,omitempty"`
	CheckoutURL     string       `gorm:"type:text" json:"checkout_url,omitempty"`
	PaidAt          *time.Time   `json:"paid_at,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// EventRecord logs every authenticated webhook delivery. ProcessedAt is set
// only after the event was fully applied, so a failed delivery is retried.
type EventRecord struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Provider    string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_key"`
	EventKey    string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_payment_events_key"`
	EventType   string         `gorm:"type:varchar(64);not null"`
	Kind        string         `gorm:"type:varchar(32);not null"`
	OrderRef    string         `gorm:"type:varchar(128);index"`
	Payload     datatypes.JSON `gorm:"not null"`
	ReceivedAt  time.Time      `gorm:"not null"`
	ProcessedAt *time.Time
}

func (EventRecord) TableName() string { return "payment_events" }
