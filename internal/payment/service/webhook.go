package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/companion/internal/audit/domain"
	"github.com/smallbiznis/companion/internal/auditcontext"
	"github.com/smallbiznis/companion/internal/entitlement"
	"github.com/smallbiznis/companion/internal/events"
	"github.com/smallbiznis/companion/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestWebhook authenticates, records and applies one processor delivery.
// A delivery is marked processed only after it was applied, so an error
// response lets the processor retry.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.WebhookResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = s.providerName
	}
	if provider != s.providerName {
		return nil, paymentdomain.ErrProviderNotFound
	}
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeProvider), provider)

	if err := s.provider.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		s.writeAuditLog(ctx, "payment.webhook_rejected", nil, map[string]any{
			"provider":    provider,
			"reason":      err.Error(),
			"payload_len": len(payload),
		})
		s.metrics.IncWebhookOutcome("unknown", "rejected")
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := s.provider.Parse(ctx, payload)
	if err != nil {
		s.metrics.IncWebhookOutcome("unknown", "invalid")
		return nil, err
	}

	now := s.clock.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:         s.genID.Generate(),
		Provider:   provider,
		EventKey:   event.ProviderEventID,
		EventType:  event.Type,
		Kind:       string(event.Kind),
		OrderRef:   firstRef(event),
		Payload:    datatypes.JSON(payload),
		ReceivedAt: now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, event.ProviderEventID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.metrics.IncWebhookOutcome(string(event.Kind), paymentdomain.OutcomeAlreadyProcessed)
			return &paymentdomain.WebhookResult{
				Outcome: paymentdomain.OutcomeAlreadyProcessed,
				Message: "event already processed",
			}, nil
		}
	}

	result, err := s.processEvent(ctx, event)
	if err != nil {
		s.metrics.IncWebhookOutcome(string(event.Kind), "error")
		return nil, err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now().UTC()); err != nil {
		return nil, err
	}
	s.metrics.IncWebhookOutcome(string(event.Kind), result.Outcome)
	return result, nil
}

func (s *Service) processEvent(ctx context.Context, event *paymentdomain.PaymentEvent) (result *paymentdomain.WebhookResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "payment.webhook.apply",
		attribute.String("payment.event_kind", string(event.Kind)),
		attribute.String("payment.event_type", event.Type),
		attribute.String("payment.order_ref", firstRef(event)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	switch event.Kind {
	case paymentdomain.EventPaymentSucceeded:
		payment, err := s.matchPayment(ctx, event)
		if err != nil {
			return nil, err
		}
		paidAt := s.clock.Now().UTC()
		if event.PaidAt != nil {
			paidAt = *event.PaidAt
		}
		return s.completePayment(ctx, payment, optionalString(event.PaymentMethod), paidAt, event.CustomerEmail)
	case paymentdomain.EventPaymentFailed:
		return s.failPayment(ctx, event)
	case paymentdomain.EventPaymentRefunded:
		return s.refundPayment(ctx, event)
	default:
		s.log.Info("ignoring unrecognized payment event", zap.String("event_type", event.Type))
		return ignored("event type not handled"), nil
	}
}

// matchPayment finds the order an event refers to. Without an order
// reference it falls back to the user's pending payment, and only when there
// is exactly one.
func (s *Service) matchPayment(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.Payment, error) {
	for _, ref := range event.OrderRefs() {
		payment, err := s.repo.FindByOrderRef(ctx, s.db, ref)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}

	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	pending, err := s.repo.ListPendingByUser(ctx, s.db, userID, 2)
	if err != nil {
		return nil, err
	}
	switch len(pending) {
	case 0:
		return nil, paymentdomain.ErrPaymentNotFound
	case 1:
		return &pending[0], nil
	default:
		s.log.Warn("webhook matches several pending payments",
			zap.String("user_id", userID),
			zap.String("event_type", event.Type),
		)
		return nil, paymentdomain.ErrAmbiguousPayment
	}
}

// completePayment moves the payment to completed and applies its plan. The
// receipt is queued in the same transaction as the status change. When
// activation fails the payment is compensated back to failed and the error is
// returned so the delivery is retried; the queued receipt stays because the
// charge itself stands.
func (s *Service) completePayment(ctx context.Context, payment *paymentdomain.Payment, method *string, paidAt time.Time, email string) (*paymentdomain.WebhookResult, error) {
	if email == "" && s.users != nil {
		if user, err := s.users.FindUser(ctx, payment.UserID); err == nil {
			email = user.Email
		}
	}
	receipt := events.PaymentCompletedPayload{
		PaymentID: payment.ID.String(),
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Email:     email,
		PlanType:  payment.PlanType,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		PaidAt:    paidAt.UTC().Format(time.RFC3339),
	}

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkCompleted(ctx, tx, payment.ID, method, paidAt, s.clock.Now().UTC())
		if err != nil || !ok {
			return err
		}
		applied = true
		if s.outbox == nil {
			return nil
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:      events.EventPaymentCompleted,
			Subject:   payment.OrderID,
			Payload:   receipt.ToMap(),
			DedupeKey: events.EventPaymentCompleted + ":" + payment.OrderID,
		})
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		current, err := s.repo.FindByID(ctx, s.db, payment.ID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == paymentdomain.StatusCompleted {
			return &paymentdomain.WebhookResult{Outcome: paymentdomain.OutcomeAlreadyProcessed, Message: "payment already completed"}, nil
		}
		s.log.Warn("payment cannot be completed from its current status",
			zap.String("order_id", payment.OrderID),
			zap.String("status", statusOf(current)),
		)
		return ignored("payment is not completable"), nil
	}

	if _, err := s.entitlements.Activate(ctx, entitlement.ActivateRequest{
		UserID:    payment.UserID,
		PlanType:  payment.PlanType,
		OrderID:   payment.OrderID,
		ProductID: payment.ProductID,
	}); err != nil {
		if _, cerr := s.repo.Compensate(ctx, s.db, payment.ID, s.clock.Now().UTC()); cerr != nil {
			s.log.Error("payment compensation failed", zap.String("order_id", payment.OrderID), zap.Error(cerr))
		}
		s.log.Error("entitlement activation failed after payment",
			zap.String("order_id", payment.OrderID),
			zap.String("user_id", payment.UserID),
			zap.Error(err),
		)
		s.writeAuditLog(ctx, "payment.activation_failed", payment, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrActivationFailed, err)
	}

	s.writeAuditLog(ctx, "payment.completed", payment, nil)
	s.log.Info("payment completed",
		zap.String("order_id", payment.OrderID),
		zap.String("plan_type", payment.PlanType),
	)
	return &paymentdomain.WebhookResult{Outcome: paymentdomain.OutcomeProcessed, Message: "payment completed"}, nil
}

func (s *Service) failPayment(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.WebhookResult, error) {
	payment, err := s.findByRefs(ctx, event)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return ignored("no matching order"), nil
	}
	ok, err := s.repo.MarkProviderFailed(ctx, s.db, payment.ID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return ignored("payment is not pending"), nil
	}
	s.writeAuditLog(ctx, "payment.failed", payment, map[string]any{"event_type": event.Type})
	return &paymentdomain.WebhookResult{Outcome: paymentdomain.OutcomeProcessed, Message: "payment failed"}, nil
}

// refundPayment records the refund. The entitlement is left in place.
func (s *Service) refundPayment(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.WebhookResult, error) {
	payment, err := s.findByRefs(ctx, event)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return ignored("no matching order"), nil
	}
	ok, err := s.repo.MarkRefunded(ctx, s.db, payment.ID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return ignored("payment is not refundable"), nil
	}
	s.writeAuditLog(ctx, "payment.refunded", payment, nil)
	return &paymentdomain.WebhookResult{Outcome: paymentdomain.OutcomeProcessed, Message: "payment refunded"}, nil
}

func (s *Service) findByRefs(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.Payment, error) {
	for _, ref := range event.OrderRefs() {
		payment, err := s.repo.FindByOrderRef(ctx, s.db, ref)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	return nil, nil
}

func ignored(message string) *paymentdomain.WebhookResult {
	return &paymentdomain.WebhookResult{Outcome: paymentdomain.OutcomeIgnored, Message: message}
}

func firstRef(event *paymentdomain.PaymentEvent) string {
	if refs := event.OrderRefs(); len(refs) > 0 {
		return refs[0]
	}
	return ""
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func statusOf(payment *paymentdomain.Payment) string {
	if payment == nil {
		return ""
	}
	return payment.Status
}
