package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/events"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"github.com/smallbiznis/companion/internal/usage/repository"
	"github.com/smallbiznis/companion/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func TestRunOncePrunesExpiredRows(t *testing.T) {
	conn, err := db.Open(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "retention.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&usagedomain.UsageCounter{}, &usagedomain.GuestDevice{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	counters := repository.NewSQLCounterStore(conn)
	guests := repository.NewSQLGuestRegistry(conn)
	ctx := context.Background()

	for _, day := range []string{"2025-01-01", "2025-02-20", "2025-03-01"} {
		if _, _, err := counters.Consume(ctx, usagedomain.CounterKey{Kind: usagedomain.KindGuestIP, Subject: "203.0.113.7", Day: day}, 3); err != nil {
			t.Fatalf("seed counter: %v", err)
		}
	}
	if err := guests.Touch(ctx, usagedomain.GuestDevice{DeviceID: "guest_recent"}); err != nil {
		t.Fatalf("seed guest: %v", err)
	}

	worker := NewWorker(Params{
		Log:      zap.NewNop(),
		Clock:    &clock.Fixed{At: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		Counters: counters,
		Guests:   guests,
		Config:   Config{RetentionDays: 30},
	})
	deleted, err := worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected only the January counter removed, got %d", deleted)
	}
	if count, _ := counters.Peek(ctx, usagedomain.CounterKey{Kind: usagedomain.KindGuestIP, Subject: "203.0.113.7", Day: "2025-02-20"}); count != 1 {
		t.Fatalf("counter inside the window must survive")
	}
}

func TestRunOncePrunesDeliveredOutboxEvents(t *testing.T) {
	conn, err := db.Open(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "retention.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&usagedomain.UsageCounter{}, &usagedomain.GuestDevice{}, &events.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, _ := snowflake.NewNode(1)
	old := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := []events.OutboxEvent{
		{ID: node.Generate(), EventType: events.EventPaymentCompleted, Payload: datatypes.JSONMap{}, NextAttemptAt: old, PublishedAt: &old, CreatedAt: old},
		{ID: node.Generate(), EventType: events.EventPaymentCompleted, Payload: datatypes.JSONMap{}, NextAttemptAt: old, CreatedAt: old},
	}
	if err := conn.Create(&rows).Error; err != nil {
		t.Fatalf("seed outbox: %v", err)
	}

	worker := NewWorker(Params{
		Log:      zap.NewNop(),
		Clock:    &clock.Fixed{At: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		Counters: repository.NewSQLCounterStore(conn),
		Guests:   repository.NewSQLGuestRegistry(conn),
		Outbox:   events.NewOutbox(conn, node),
		Config:   Config{RetentionDays: 30},
	})
	deleted, err := worker.RunOnce(context.Background())
	if err != nil || deleted != 1 {
		t.Fatalf("expected the delivered event pruned, got %d (%v)", deleted, err)
	}
	var remaining int64
	conn.Model(&events.OutboxEvent{}).Where("published_at IS NULL").Count(&remaining)
	if remaining != 1 {
		t.Fatalf("undelivered event must survive, got %d", remaining)
	}
}
