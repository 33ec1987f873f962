package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists payments. Every status change is a compare-and-set on
// the current status and reports whether this call performed it.
type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByOrderRef(ctx context.Context, db *gorm.DB, ref string) (*Payment, error)
	ListPendingByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]Payment, error)
	LatestByUserSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (*Payment, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]Payment, error)
	ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]Payment, error)

	// MarkCompleted moves pending, or failed after activation, to completed.
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, method *string, paidAt, now time.Time) (bool, error)
	// MarkProviderFailed moves pending to failed.
	MarkProviderFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// Compensate moves completed back to failed when activation did not apply.
	Compensate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// MarkRefunded moves completed or failed to refunded.
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider string, eventKey string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
