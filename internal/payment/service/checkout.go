package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/companion/internal/auth"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"go.uber.org/zap"
)

// InitiateCheckout opens a processor checkout for a registered user and
// records it as a pending payment.
func (s *Service) InitiateCheckout(ctx context.Context, req paymentdomain.InitiateCheckoutRequest) (*paymentdomain.InitiateCheckoutResult, error) {
	productID := strings.TrimSpace(req.ProductID)
	userID := strings.TrimSpace(req.UserID)
	if productID == "" || userID == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	if bearer := strings.TrimSpace(req.BearerUserID); bearer != "" && bearer != userID {
		return nil, paymentdomain.ErrUnauthorized
	}

	user, err := s.users.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, paymentdomain.ErrUnauthorized
		}
		return nil, err
	}

	product, known := s.catalog.Lookup(productID)
	if !known {
		s.log.Warn("checkout for unknown product, recording as free",
			zap.String("product_id", productID),
			zap.String("user_id", userID),
		)
	}

	orderID := "order_" + strings.ToLower(ulid.Make().String())
	session, err := s.provider.CreateCheckout(ctx, paymentdomain.CheckoutRequest{
		OrderID:    orderID,
		ProductID:  productID,
		UserID:     userID,
		Email:      user.Email,
		SuccessURL: s.appURL + "/payment/success?order_id=" + url.QueryEscape(orderID),
	})
	if err != nil {
		s.log.Error("checkout session creation failed",
			zap.String("order_id", orderID),
			zap.String("provider", s.providerName),
			zap.Error(err),
		)
		return nil, paymentdomain.ErrProviderUnavailable
	}

	now := s.clock.Now().UTC()
	providerOrderID := session.ID
	payment := &paymentdomain.Payment{
		ID:              s.genID.Generate(),
		OrderID:         orderID,
		ProviderOrderID: &providerOrderID,
		Provider:        s.providerName,
		UserID:          userID,
		ProductID:       productID,
		PlanType:        product.PlanType,
		Amount:          product.Amount,
		Currency:        product.Currency,
		Status:          paymentdomain.StatusPending,
		CheckoutURL:     session.URL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inserted, err := s.repo.InsertPayment(ctx, s.db, payment)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindByOrderRef(ctx, s.db, providerOrderID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, paymentdomain.ErrInvalidRequest
		}
		payment = existing
	}

	s.writeAuditLog(ctx, "payment.checkout_created", payment, map[string]any{"session_id": session.ID})
	s.log.Info("checkout created",
		zap.String("order_id", payment.OrderID),
		zap.String("plan_type", payment.PlanType),
		zap.String("user_id", userID),
	)

	return &paymentdomain.InitiateCheckoutResult{
		CheckoutURL: session.URL,
		OrderID:     payment.OrderID,
		PaymentID:   payment.ID.String(),
		SessionID:   session.ID,
	}, nil
}
