package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"github.com/smallbiznis/companion/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *snowflake.Node) {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "payment.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&paymentdomain.Payment{}, &paymentdomain.EventRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return conn, node
}

func pending(node *snowflake.Node, orderID, userID string, at time.Time) *paymentdomain.Payment {
	return &paymentdomain.Payment{
		ID:        node.Generate(),
		OrderID:   orderID,
		Provider:  "creem",
		UserID:    userID,
		PlanType:  "monthly",
		Amount:    990,
		Currency:  "CNY",
		Status:    paymentdomain.StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestInsertPaymentIsInsertIfAbsent(t *testing.T) {
	conn, node := setup(t)
	r := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	inserted, err := r.InsertPayment(ctx, conn, pending(node, "order_1", "user-1", now))
	if err != nil || !inserted {
		t.Fatalf("expected insert, got %v (%v)", inserted, err)
	}
	inserted, err = r.InsertPayment(ctx, conn, pending(node, "order_1", "user-1", now))
	if err != nil || inserted {
		t.Fatalf("expected duplicate order to be skipped, got %v (%v)", inserted, err)
	}
}

func TestFindByOrderRefMatchesProviderOrderID(t *testing.T) {
	conn, node := setup(t)
	r := Provide()
	ctx := context.Background()
	p := pending(node, "order_1", "user-1", time.Now().UTC())
	providerID := "ch_1"
	p.ProviderOrderID = &providerID
	if _, err := r.InsertPayment(ctx, conn, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for _, ref := range []string{"order_1", "ch_1"} {
		found, err := r.FindByOrderRef(ctx, conn, ref)
		if err != nil || found == nil || found.ID != p.ID {
			t.Fatalf("ref %q: expected payment, got %+v (%v)", ref, found, err)
		}
	}
	missing, err := r.FindByOrderRef(ctx, conn, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected no match, got %+v (%v)", missing, err)
	}
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	conn, node := setup(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := pending(node, "order_1", "user-1", now)
	if _, err := r.InsertPayment(ctx, conn, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	method := "card"
	if ok, err := r.MarkCompleted(ctx, conn, p.ID, &method, now, now); err != nil || !ok {
		t.Fatalf("pending -> completed: %v (%v)", ok, err)
	}
	if ok, _ := r.MarkCompleted(ctx, conn, p.ID, nil, now, now); ok {
		t.Fatalf("completed -> completed must not apply twice")
	}
	if ok, _ := r.MarkProviderFailed(ctx, conn, p.ID, now); ok {
		t.Fatalf("completed -> provider failed must be rejected")
	}
	if ok, err := r.Compensate(ctx, conn, p.ID, now); err != nil || !ok {
		t.Fatalf("compensation: %v (%v)", ok, err)
	}
	if ok, err := r.MarkCompleted(ctx, conn, p.ID, nil, now, now); err != nil || !ok {
		t.Fatalf("activation_failed -> completed: %v (%v)", ok, err)
	}
	got, _ := r.FindByID(ctx, conn, p.ID)
	if got.FailureReason != nil || got.PaymentMethod == nil || *got.PaymentMethod != "card" {
		t.Fatalf("unexpected payment after retry %+v", got)
	}
	refundedAt := now.Add(48 * time.Hour)
	if ok, err := r.MarkRefunded(ctx, conn, p.ID, refundedAt); err != nil || !ok {
		t.Fatalf("completed -> refunded: %v (%v)", ok, err)
	}
	if ok, _ := r.MarkCompleted(ctx, conn, p.ID, nil, now, now); ok {
		t.Fatalf("refunded must be terminal")
	}
	got, _ = r.FindByID(ctx, conn, p.ID)
	if !got.UpdatedAt.Equal(refundedAt) {
		t.Fatalf("expected updated_at %v from the caller's clock, got %v", refundedAt, got.UpdatedAt)
	}
}

func TestProviderFailureIsTerminalForSuccess(t *testing.T) {
	conn, node := setup(t)
	r := Provide()
	ctx := context.Background()
	now := time.Now().UTC()
	p := pending(node, "order_1", "user-1", now)
	_, _ = r.InsertPayment(ctx, conn, p)

	if ok, err := r.MarkProviderFailed(ctx, conn, p.ID, now); err != nil || !ok {
		t.Fatalf("pending -> failed: %v (%v)", ok, err)
	}
	if ok, _ := r.MarkCompleted(ctx, conn, p.ID, nil, now, now); ok {
		t.Fatalf("provider failure must not complete")
	}
}

func TestUserQueries(t *testing.T) {
	conn, node := setup(t)
	r := Provide()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	_, _ = r.InsertPayment(ctx, conn, pending(node, "order_old", "user-1", base.Add(-time.Hour)))
	_, _ = r.InsertPayment(ctx, conn, pending(node, "order_new", "user-1", base))
	_, _ = r.InsertPayment(ctx, conn, pending(node, "order_other", "user-2", base))

	pendingRows, err := r.ListPendingByUser(ctx, conn, "user-1", 5)
	if err != nil || len(pendingRows) != 2 || pendingRows[0].OrderID != "order_new" {
		t.Fatalf("unexpected pending rows %+v (%v)", pendingRows, err)
	}
	latest, err := r.LatestByUserSince(ctx, conn, "user-1", base.Add(-10*time.Minute))
	if err != nil || latest == nil || latest.OrderID != "order_new" {
		t.Fatalf("unexpected latest %+v (%v)", latest, err)
	}
	none, _ := r.LatestByUserSince(ctx, conn, "user-1", base.Add(time.Minute))
	if none != nil {
		t.Fatalf("expected nothing after window, got %+v", none)
	}
	recent, _ := r.ListRecent(ctx, conn, 2)
	if len(recent) != 2 {
		t.Fatalf("expected limit to apply, got %d rows", len(recent))
	}
}

func TestEventLog(t *testing.T) {
	conn, node := setup(t)
	r := Provide()
	ctx := context.Background()
	record := &paymentdomain.EventRecord{
		ID:         node.Generate(),
		Provider:   "creem",
		EventKey:   "evt_1",
		EventType:  "checkout.completed",
		Kind:       string(paymentdomain.EventPaymentSucceeded),
		Payload:    datatypes.JSON(`{"id":"evt_1"}`),
		ReceivedAt: time.Now().UTC(),
	}
	inserted, err := r.InsertEvent(ctx, conn, record)
	if err != nil || !inserted {
		t.Fatalf("insert event: %v (%v)", inserted, err)
	}
	dup := *record
	dup.ID = node.Generate()
	if inserted, _ := r.InsertEvent(ctx, conn, &dup); inserted {
		t.Fatalf("duplicate event key must be skipped")
	}
	if err := r.MarkProcessed(ctx, conn, record.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	stored, err := r.FindEvent(ctx, conn, "creem", "evt_1")
	if err != nil || stored == nil || stored.ProcessedAt == nil {
		t.Fatalf("expected processed event, got %+v (%v)", stored, err)
	}
}
