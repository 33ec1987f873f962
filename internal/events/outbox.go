package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OutboxEvent is a row of the transactional outbox.
type OutboxEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	EventType     string            `gorm:"type:varchar(64);not null;index"`
	Subject       string            `gorm:"type:varchar(128)"`
	Payload       datatypes.JSONMap `gorm:"not null"`
	DedupeKey     *string           `gorm:"type:varchar(255);uniqueIndex"`
	Attempts      int               `gorm:"not null;default:0"`
	LastError     *string           `gorm:"type:text"`
	NextAttemptAt time.Time         `gorm:"not null;index"`
	PublishedAt   *time.Time        `gorm:"index"`
	CreatedAt     time.Time         `gorm:"not null"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Event describes a domain event to store in the outbox.
type Event struct {
	Type      string
	Subject   string
	Payload   map[string]any
	DedupeKey string
}

// Outbox inserts events into outbox_events. Writers enqueue inside the
// transaction that records the change the event describes.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
	now   func() time.Time
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID, now: func() time.Time { return time.Now().UTC() }}
}

// PublishTx stores an event using an existing transaction. A repeated
// dedupe key is a no-op.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	if o == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	dedupe := strings.TrimSpace(event.DedupeKey)
	var dedupeValue any
	if dedupe != "" {
		dedupeValue = dedupe
	}

	now := o.now()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, event_type, subject, payload, dedupe_key, attempts, next_attempt_at, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		name,
		strings.TrimSpace(event.Subject),
		payload,
		dedupeValue,
		now,
		now,
	).Error
}

// Claim leases up to limit due events of eventType. A claimed row is hidden
// from other claimers until lease elapses, so a crashed dispatcher's work is
// retried.
func (o *Outbox) Claim(ctx context.Context, eventType string, limit int, lease time.Duration) ([]OutboxEvent, error) {
	now := o.now()
	var candidates []OutboxEvent
	if err := o.db.WithContext(ctx).
		Where("event_type = ? AND published_at IS NULL AND next_attempt_at <= ?", eventType, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	claimed := make([]OutboxEvent, 0, len(candidates))
	for _, candidate := range candidates {
		result := o.db.WithContext(ctx).Exec(
			`UPDATE outbox_events
			 SET attempts = attempts + 1, next_attempt_at = ?
			 WHERE id = ? AND published_at IS NULL AND attempts = ?`,
			now.Add(lease),
			candidate.ID,
			candidate.Attempts,
		)
		if result.Error != nil {
			return claimed, result.Error
		}
		if result.RowsAffected == 1 {
			candidate.Attempts++
			claimed = append(claimed, candidate)
		}
	}
	return claimed, nil
}

func (o *Outbox) MarkPublished(ctx context.Context, id snowflake.ID) error {
	return o.db.WithContext(ctx).Exec(
		`UPDATE outbox_events SET published_at = ?, last_error = NULL WHERE id = ?`,
		o.now(), id,
	).Error
}

// MarkFailed records the error and schedules the next attempt.
func (o *Outbox) MarkFailed(ctx context.Context, id snowflake.ID, cause error, retryAfter time.Duration) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return o.db.WithContext(ctx).Exec(
		`UPDATE outbox_events SET last_error = ?, next_attempt_at = ? WHERE id = ?`,
		message, o.now().Add(retryAfter), id,
	).Error
}

// DeletePublishedBefore prunes delivered events. Rows still awaiting delivery
// are kept regardless of age.
func (o *Outbox) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := o.db.WithContext(ctx).Exec(
		`DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < ?`,
		cutoff,
	)
	return result.RowsAffected, result.Error
}
