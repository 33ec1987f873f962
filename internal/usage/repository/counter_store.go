package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/companion/internal/usage/domain"
	"gorm.io/gorm"
)

// SQLCounterStore keeps counters in usage_counters. Every admission is one
// conditional UPDATE, so the database serializes concurrent consumers.
type SQLCounterStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLCounterStore(db *gorm.DB) *SQLCounterStore {
	return &SQLCounterStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLCounterStore) Consume(ctx context.Context, key domain.CounterKey, limit int) (int, bool, error) {
	db := s.db.WithContext(ctx)
	now := s.now()

	if err := db.Exec(
		`INSERT INTO usage_counters (kind, subject, day, count, updated_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (kind, subject, day) DO NOTHING`,
		key.Kind, key.Subject, key.Day, now,
	).Error; err != nil {
		return 0, false, err
	}

	var rows []struct {
		Count int `gorm:"column:count"`
	}
	if err := db.Raw(
		`UPDATE usage_counters
		 SET count = count + 1, updated_at = ?
		 WHERE kind = ? AND subject = ? AND day = ? AND count < ?
		 RETURNING count`,
		now, key.Kind, key.Subject, key.Day, limit,
	).Scan(&rows).Error; err != nil {
		return 0, false, err
	}
	if len(rows) == 1 {
		return rows[0].Count, true, nil
	}

	count, err := s.Peek(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return count, false, nil
}

func (s *SQLCounterStore) Peek(ctx context.Context, key domain.CounterKey) (int, error) {
	var rows []struct {
		Count int `gorm:"column:count"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT count FROM usage_counters WHERE kind = ? AND subject = ? AND day = ?`,
		key.Kind, key.Subject, key.Day,
	).Scan(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// DeleteBefore removes counters for usage days strictly before day.
func (s *SQLCounterStore) DeleteBefore(ctx context.Context, day string) (int64, error) {
	result := s.db.WithContext(ctx).Exec(`DELETE FROM usage_counters WHERE day < ?`, day)
	return result.RowsAffected, result.Error
}
