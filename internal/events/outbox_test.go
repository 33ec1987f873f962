package events

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/companion/pkg/db"
	"gorm.io/gorm"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "outbox.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, _ := snowflake.NewNode(1)
	return NewOutbox(conn, node)
}

func TestPublishDedupes(t *testing.T) {
	outbox := newTestOutbox(t)
	ctx := context.Background()
	event := Event{
		Type:      EventPaymentCompleted,
		Subject:   "order_1",
		Payload:   PaymentCompletedPayload{OrderID: "order_1", Amount: 990, Currency: "CNY"}.ToMap(),
		DedupeKey: "payment_completed:order_1",
	}
	for i := 0; i < 2; i++ {
		if err := outbox.PublishTx(ctx, outbox.db, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	claimed, err := outbox.Claim(ctx, EventPaymentCompleted, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one deduplicated event, got %d", len(claimed))
	}
	payload := PaymentCompletedFromMap(claimed[0].Payload)
	if payload.OrderID != "order_1" || payload.Amount != 990 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestClaimLeasesAndRetries(t *testing.T) {
	outbox := newTestOutbox(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	outbox.now = func() time.Time { return now }

	if err := outbox.PublishTx(ctx, outbox.db, Event{Type: EventPaymentCompleted, Payload: map[string]any{"order_id": "o"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	first, _ := outbox.Claim(ctx, EventPaymentCompleted, 10, time.Minute)
	if len(first) != 1 {
		t.Fatalf("expected claim, got %d", len(first))
	}
	if again, _ := outbox.Claim(ctx, EventPaymentCompleted, 10, time.Minute); len(again) != 0 {
		t.Fatalf("leased event must not be claimed twice")
	}

	if err := outbox.MarkFailed(ctx, first[0].ID, errors.New("smtp down"), 5*time.Minute); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	now = now.Add(6 * time.Minute)
	retry, _ := outbox.Claim(ctx, EventPaymentCompleted, 10, time.Minute)
	if len(retry) != 1 || retry[0].Attempts != 2 {
		t.Fatalf("expected retry with attempts=2, got %+v", retry)
	}
	if err := outbox.MarkPublished(ctx, retry[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	now = now.Add(time.Hour)
	if done, _ := outbox.Claim(ctx, EventPaymentCompleted, 10, time.Minute); len(done) != 0 {
		t.Fatalf("published events must not be claimed")
	}
}

func TestPublishTxRollsBackWithTransaction(t *testing.T) {
	outbox := newTestOutbox(t)
	ctx := context.Background()
	failed := errors.New("status changed")

	err := outbox.db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.PublishTx(ctx, tx, Event{Type: EventPaymentCompleted, Payload: map[string]any{"order_id": "o"}}); err != nil {
			return err
		}
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected transaction error, got %v", err)
	}
	if claimed, _ := outbox.Claim(ctx, EventPaymentCompleted, 10, time.Minute); len(claimed) != 0 {
		t.Fatalf("rolled back event must not be claimable, got %d", len(claimed))
	}
	if err := outbox.PublishTx(ctx, nil, Event{Type: EventPaymentCompleted}); err == nil {
		t.Fatalf("expected an error without a transaction")
	}
}

func TestDeletePublishedBeforeKeepsPendingRows(t *testing.T) {
	outbox := newTestOutbox(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	outbox.now = func() time.Time { return now }

	for _, orderID := range []string{"order_1", "order_2"} {
		event := Event{Type: EventPaymentCompleted, Payload: map[string]any{"order_id": orderID}, DedupeKey: orderID}
		if err := outbox.PublishTx(ctx, outbox.db, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	claimed, _ := outbox.Claim(ctx, EventPaymentCompleted, 1, time.Minute)
	if len(claimed) != 1 {
		t.Fatalf("expected one claim, got %d", len(claimed))
	}
	if err := outbox.MarkPublished(ctx, claimed[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}

	deleted, err := outbox.DeletePublishedBefore(ctx, now.Add(time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("expected one published row pruned, got %d (%v)", deleted, err)
	}
	var remaining int64
	outbox.db.Model(&OutboxEvent{}).Count(&remaining)
	if remaining != 1 {
		t.Fatalf("undelivered event must survive pruning, got %d rows", remaining)
	}
}
