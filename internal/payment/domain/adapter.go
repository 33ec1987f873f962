package domain

import (
	"context"
	"net/http"
)

// PaymentAdapter authenticates and decodes provider webhooks.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type CheckoutRequest struct {
	OrderID    string
	ProductID  string
	UserID     string
	Email      string
	SuccessURL string
}

type CheckoutSession struct {
	ID     string
	URL    string
	Status string
	Paid   bool
}

// CheckoutProvider creates and inspects hosted checkout sessions.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckout(ctx context.Context, checkoutID string) (*CheckoutSession, error)
}

// Provider is everything the payment service needs from a processor.
type Provider interface {
	PaymentAdapter
	CheckoutProvider
}

type AdapterConfig struct {
	Provider      string
	APIBaseURL    string
	APIKey        string
	WebhookSecret string
	HTTPClient    *http.Client
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(config AdapterConfig) (Provider, error)
}
