package creem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
)

var eventKinds = map[string]paymentdomain.EventKind{
	"payment.completed":          paymentdomain.EventPaymentSucceeded,
	"payment.succeeded":          paymentdomain.EventPaymentSucceeded,
	"order.paid":                 paymentdomain.EventPaymentSucceeded,
	"checkout.completed":         paymentdomain.EventPaymentSucceeded,
	"checkout.session.completed": paymentdomain.EventPaymentSucceeded,
	"payment.failed":             paymentdomain.EventPaymentFailed,
	"order.cancelled":            paymentdomain.EventPaymentFailed,
	"checkout.failed":            paymentdomain.EventPaymentFailed,
	"payment.refunded":           paymentdomain.EventPaymentRefunded,
	"refund.created":             paymentdomain.EventPaymentRefunded,
}

// Parse decodes a delivery. Unknown or missing event types parse to
// EventUnrecognized; only a body that is not a JSON object fails.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil || body == nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	// A missing type leaves the event unrecognized.
	eventType := firstString(body, "event_type", "type", "eventType")

	data, wrapped := body, false
	for _, key := range []string{"data", "object"} {
		if nested, ok := body[key].(map[string]any); ok {
			data, wrapped = nested, true
			break
		}
	}
	metadata, _ := data["metadata"].(map[string]any)

	event := &paymentdomain.PaymentEvent{
		Provider:      ProviderName,
		Type:          eventType,
		Kind:          paymentdomain.EventUnrecognized,
		OrderRef:      firstString(data, "order_id", "orderId", "checkout_id", "id"),
		LocalOrderID:  firstString(metadata, "order_id"),
		UserID:        firstString(data, "customer_id", "user_id", "request_id"),
		ProductID:     firstString(data, "product_id"),
		CustomerEmail: firstString(data, "customer_email", "email"),
		PaymentMethod: firstString(data, "payment_method"),
		Currency:      strings.ToUpper(firstString(data, "currency")),
	}
	if kind, ok := eventKinds[strings.ToLower(eventType)]; ok {
		event.Kind = kind
	}
	if event.UserID == "" {
		event.UserID = firstString(metadata, "user_id")
	}
	if event.ProductID == "" {
		if product, ok := data["product"].(map[string]any); ok {
			event.ProductID = firstString(product, "id")
		}
	}
	if customer, ok := data["customer"].(map[string]any); ok && event.CustomerEmail == "" {
		event.CustomerEmail = firstString(customer, "email")
	}
	if amount, ok := firstInt(data, "amount"); ok {
		event.Amount = &amount
	}
	if paidAt, ok := firstTime(data, "paid_at", "created_at"); ok {
		event.PaidAt = &paidAt
	}

	if wrapped {
		event.ProviderEventID = firstString(body, "id", "event_id")
	}
	if event.ProviderEventID == "" {
		sum := sha256.Sum256(payload)
		event.ProviderEventID = "sha256:" + hex.EncodeToString(sum[:])
	}
	return event, nil
}

func firstString(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			if v == math.Trunc(v) {
				return int64(v), true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func firstTime(m map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
				return t.UTC(), true
			}
		case float64:
			if v > 1e12 {
				return time.UnixMilli(int64(v)).UTC(), true
			}
			if v > 0 {
				return time.Unix(int64(v), 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}
