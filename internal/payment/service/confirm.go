package service

import (
	"context"
	"strings"

	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"go.uber.org/zap"
)

// ConfirmPayment backs the success page. It resolves the caller's payment by
// order id, else the most recent one inside the confirm window, else the
// latest pending one. A pending payment is completed only when the processor
// reports the checkout paid.
func (s *Service) ConfirmPayment(ctx context.Context, userID, orderID string) (*paymentdomain.Payment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, paymentdomain.ErrUnauthorized
	}

	payment, err := s.resolveForConfirm(ctx, userID, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if payment.Status != paymentdomain.StatusPending || payment.ProviderOrderID == nil {
		return payment, nil
	}

	session, err := s.provider.GetCheckout(ctx, *payment.ProviderOrderID)
	if err != nil {
		s.log.Warn("checkout status lookup failed", zap.String("order_id", payment.OrderID), zap.Error(err))
		return payment, nil
	}
	if !session.Paid {
		return payment, nil
	}

	if _, err := s.completePayment(ctx, payment, nil, s.clock.Now().UTC(), ""); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, payment.ID)
}

func (s *Service) resolveForConfirm(ctx context.Context, userID, orderID string) (*paymentdomain.Payment, error) {
	if orderID != "" {
		payment, err := s.repo.FindByOrderRef(ctx, s.db, orderID)
		if err != nil {
			return nil, err
		}
		if payment != nil && payment.UserID != userID {
			return nil, paymentdomain.ErrPaymentNotFound
		}
		return payment, nil
	}

	since := s.clock.Now().UTC().Add(-s.confirmWindow)
	payment, err := s.repo.LatestByUserSince(ctx, s.db, userID, since)
	if err != nil || payment != nil {
		return payment, err
	}
	pending, err := s.repo.ListPendingByUser(ctx, s.db, userID, 1)
	if err != nil || len(pending) == 0 {
		return nil, err
	}
	return &pending[0], nil
}
