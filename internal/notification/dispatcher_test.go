package notification

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/companion/internal/events"
	"github.com/smallbiznis/companion/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingMailer struct {
	sent []Receipt
	err  error
}

func (m *recordingMailer) SendReceipt(ctx context.Context, receipt Receipt) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, receipt)
	return nil
}

func setup(t *testing.T) (*gorm.DB, *events.Outbox) {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "outbox.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&events.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return conn, events.NewOutbox(conn, node)
}

func publishReceipt(t *testing.T, conn *gorm.DB, outbox *events.Outbox, orderID, email string) {
	t.Helper()
	payload := events.PaymentCompletedPayload{
		PaymentID: "1",
		OrderID:   orderID,
		UserID:    "user-1",
		Email:     email,
		PlanType:  "monthly",
		Amount:    990,
		Currency:  "CNY",
	}
	if err := outbox.PublishTx(context.Background(), conn, events.Event{
		Type:      events.EventPaymentCompleted,
		Subject:   orderID,
		Payload:   payload.ToMap(),
		DedupeKey: events.EventPaymentCompleted + ":" + orderID,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestDispatcherSendsReceiptsOnce(t *testing.T) {
	conn, outbox := setup(t)
	publishReceipt(t, conn, outbox, "order_1", "a@example.com")
	publishReceipt(t, conn, outbox, "order_1", "a@example.com")

	mailer := &recordingMailer{}
	d := NewDispatcher(Params{Log: zap.NewNop(), Outbox: outbox, Mailer: mailer})

	sent, err := d.RunOnce(context.Background())
	if err != nil || sent != 1 {
		t.Fatalf("expected one receipt, got %d (%v)", sent, err)
	}
	if mailer.sent[0].FormattedAmount() != "9.90 CNY" {
		t.Fatalf("unexpected amount %q", mailer.sent[0].FormattedAmount())
	}
	sent, _ = d.RunOnce(context.Background())
	if sent != 0 {
		t.Fatalf("published receipts must not be resent, got %d", sent)
	}
}

func TestDispatcherSchedulesRetryOnFailure(t *testing.T) {
	conn, outbox := setup(t)
	publishReceipt(t, conn, outbox, "order_1", "a@example.com")

	mailer := &recordingMailer{err: errors.New("resend unavailable")}
	d := NewDispatcher(Params{Log: zap.NewNop(), Outbox: outbox, Mailer: mailer})
	if sent, err := d.RunOnce(context.Background()); err != nil || sent != 0 {
		t.Fatalf("expected failed send, got %d (%v)", sent, err)
	}

	var row events.OutboxEvent
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.PublishedAt != nil || row.LastError == nil || !strings.Contains(*row.LastError, "resend unavailable") {
		t.Fatalf("expected pending row with error, got %+v", row)
	}
	if sent, _ := d.RunOnce(context.Background()); sent != 0 {
		t.Fatalf("retry must wait for the backoff")
	}
}

func TestDispatcherSkipsMissingRecipient(t *testing.T) {
	conn, outbox := setup(t)
	publishReceipt(t, conn, outbox, "order_1", "")

	mailer := &recordingMailer{}
	d := NewDispatcher(Params{Log: zap.NewNop(), Outbox: outbox, Mailer: mailer})
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("expected no mail without recipient")
	}
	var row events.OutboxEvent
	_ = conn.First(&row).Error
	if row.PublishedAt == nil {
		t.Fatalf("skipped receipt must be settled")
	}
}

func TestRetryAfterDoublesAndCaps(t *testing.T) {
	d := NewDispatcher(Params{Log: zap.NewNop()})
	if got := d.retryAfter(1); got != d.cfg.RetryBase {
		t.Fatalf("first retry = %v", got)
	}
	if got := d.retryAfter(3); got != 4*d.cfg.RetryBase {
		t.Fatalf("third retry = %v", got)
	}
	if got := d.retryAfter(20); got.Hours() != 1 {
		t.Fatalf("retry must cap at an hour, got %v", got)
	}
}

func TestReceiptRendering(t *testing.T) {
	r := Receipt{OrderID: "order_<1>", PlanType: "lifetime", Amount: 9900, Currency: "cny"}
	if r.FormattedAmount() != "99.00 CNY" {
		t.Fatalf("unexpected amount %q", r.FormattedAmount())
	}
	if !strings.Contains(r.HTML(), "order_&lt;1&gt;") {
		t.Fatalf("order id must be escaped: %s", r.HTML())
	}
	if !strings.Contains(r.Subject(), "Lifetime") {
		t.Fatalf("unexpected subject %q", r.Subject())
	}
}
