package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrProviderUnavailable   = errors.New("provider_unavailable")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidRequest        = errors.New("invalid_payment_request")
	ErrUnauthorized          = errors.New("payment_unauthorized")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrAmbiguousPayment      = errors.New("payment_ambiguous")
	ErrActivationFailed      = errors.New("activation_failed")
)

type InitiateCheckoutRequest struct {
	ProductID string
	UserID    string
	// BearerUserID is the authenticated caller, when the request carried a
	// credential. It must match UserID.
	BearerUserID string
}

type InitiateCheckoutResult struct {
	CheckoutURL string `json:"checkoutUrl"`
	OrderID     string `json:"orderId"`
	PaymentID   string `json:"paymentId"`
	SessionID   string `json:"sessionId"`
}

// WebhookResult is the acknowledgement for an accepted delivery.
type WebhookResult struct {
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

const (
	OutcomeProcessed        = "processed"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeIgnored          = "ignored"
)

type DebugFilter struct {
	OrderID string
	UserID  string
}

type Service interface {
	InitiateCheckout(ctx context.Context, req InitiateCheckoutRequest) (*InitiateCheckoutResult, error)
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*WebhookResult, error)
	ConfirmPayment(ctx context.Context, userID, orderID string) (*Payment, error)
	ListPayments(ctx context.Context, userID string) ([]Payment, error)
	DebugListPayments(ctx context.Context, filter DebugFilter) ([]Payment, error)
}
