package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *paymentdomain.Payment) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(payment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*paymentdomain.Payment, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

// FindByOrderRef matches the local order id first, then the processor's.
func (r *repo) FindByOrderRef(ctx context.Context, db *gorm.DB, ref string) (*paymentdomain.Payment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	payment, err := first(db.WithContext(ctx).Where("order_id = ?", ref))
	if err != nil || payment != nil {
		return payment, err
	}
	return first(db.WithContext(ctx).Where("provider_order_id = ?", ref))
}

func (r *repo) ListPendingByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, paymentdomain.StatusPending).
		Order("created_at DESC").Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&payments).Error
	return payments, err
}

func (r *repo) LatestByUserSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (*paymentdomain.Payment, error) {
	return first(db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").Order("id DESC"))
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&payments).Error
	return payments, err
}

func (r *repo) ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&payments).Error
	return payments, err
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, method *string, paidAt, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = NULL, payment_method = COALESCE(?, payment_method), paid_at = ?, updated_at = ?
		 WHERE id = ? AND (status = ? OR (status = ? AND failure_reason = ?))`,
		paymentdomain.StatusCompleted, method, paidAt, now.UTC(),
		id, paymentdomain.StatusPending, paymentdomain.StatusFailed, paymentdomain.FailureActivation,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) MarkProviderFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		paymentdomain.StatusFailed, paymentdomain.FailureProvider, now.UTC(),
		id, paymentdomain.StatusPending,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) Compensate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		paymentdomain.StatusFailed, paymentdomain.FailureActivation, now.UTC(),
		id, paymentdomain.StatusCompleted,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		paymentdomain.StatusRefunded, now.UTC(),
		id, paymentdomain.StatusCompleted, paymentdomain.StatusFailed,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, eventKey string) (*paymentdomain.EventRecord, error) {
	var record paymentdomain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND event_key = ?", provider, eventKey).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *paymentdomain.EventRecord) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (id, provider, event_key, event_type, kind, order_ref, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, event_key) DO NOTHING`,
		event.ID, event.Provider, event.EventKey, event.EventType, event.Kind, event.OrderRef, event.Payload, event.ReceivedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events SET processed_at = ? WHERE id = ?`,
		processedAt, id,
	).Error
}

func first(query *gorm.DB) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	if err := query.Limit(1).Find(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
