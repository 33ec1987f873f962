// Package creem implements the Creem hosted-checkout processor.
package creem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
)

const (
	ProviderName   = "creem"
	defaultBaseURL = "https://api.creem.io"
	maxErrorBody   = 4 << 10
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Provider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		secret:  strings.TrimSpace(cfg.WebhookSecret),
		client:  client,
	}, nil
}

type Adapter struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
}

// APIError carries the processor's status. The body is kept for server-side
// logs only.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("creem: unexpected status %d", e.StatusCode)
}

type checkoutRequest struct {
	ProductID  string            `json:"product_id"`
	RequestID  string            `json:"request_id,omitempty"`
	SuccessURL string            `json:"success_url,omitempty"`
	Customer   *checkoutCustomer `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type checkoutCustomer struct {
	Email string `json:"email"`
}

type checkoutResponse struct {
	ID          string `json:"id"`
	CheckoutID  string `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`
	URL         string `json:"url"`
	Status      string `json:"status"`
	Order       *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"order,omitempty"`
}

func (r checkoutResponse) session() *paymentdomain.CheckoutSession {
	id := r.ID
	if id == "" {
		id = r.CheckoutID
	}
	link := r.CheckoutURL
	if link == "" {
		link = r.URL
	}
	paid := strings.EqualFold(r.Status, "completed")
	if r.Order != nil && strings.EqualFold(r.Order.Status, "paid") {
		paid = true
	}
	return &paymentdomain.CheckoutSession{ID: id, URL: link, Status: strings.ToLower(r.Status), Paid: paid}
}

func (a *Adapter) CreateCheckout(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	if strings.TrimSpace(req.ProductID) == "" || strings.TrimSpace(req.OrderID) == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	body := checkoutRequest{
		ProductID:  req.ProductID,
		RequestID:  req.UserID,
		SuccessURL: req.SuccessURL,
		Metadata:   map[string]string{"user_id": req.UserID, "order_id": req.OrderID},
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		body.Customer = &checkoutCustomer{Email: email}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var resp checkoutResponse
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/v1/checkouts", encoded, &resp); err != nil {
		return nil, err
	}
	session := resp.session()
	if session.ID == "" || session.URL == "" {
		return nil, paymentdomain.ErrProviderUnavailable
	}
	return session, nil
}

func (a *Adapter) GetCheckout(ctx context.Context, checkoutID string) (*paymentdomain.CheckoutSession, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	endpoint := a.baseURL + "/v1/checkouts?checkout_id=" + url.QueryEscape(checkoutID)
	var resp checkoutResponse
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	session := resp.session()
	if session.ID == "" {
		session.ID = checkoutID
	}
	return session, nil
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if a.apiKey == "" {
		return paymentdomain.ErrInvalidConfig
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
