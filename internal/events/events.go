package events

import "strconv"

// EventPaymentCompleted is the outbox event type drained by the receipt
// dispatcher.
const EventPaymentCompleted = "payment_completed"

// PaymentCompletedPayload carries what the receipt mailer needs without a
// second lookup.
type PaymentCompletedPayload struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	PlanType  string `json:"plan_type"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p PaymentCompletedPayload) ToMap() map[string]any {
	payload := map[string]any{
		"payment_id": p.PaymentID,
		"order_id":   p.OrderID,
		"user_id":    p.UserID,
		"plan_type":  p.PlanType,
		"amount":     strconv.FormatInt(p.Amount, 10),
		"currency":   p.Currency,
	}
	if p.Email != "" {
		payload["email"] = p.Email
	}
	if p.PaidAt != "" {
		payload["paid_at"] = p.PaidAt
	}
	return payload
}

// PaymentCompletedFromMap reverses ToMap for outbox consumers.
func PaymentCompletedFromMap(m map[string]any) PaymentCompletedPayload {
	str := func(key string) string {
		value, _ := m[key].(string)
		return value
	}
	amount, _ := strconv.ParseInt(str("amount"), 10, 64)
	return PaymentCompletedPayload{
		PaymentID: str("payment_id"),
		OrderID:   str("order_id"),
		UserID:    str("user_id"),
		Email:     str("email"),
		PlanType:  str("plan_type"),
		Amount:    amount,
		Currency:  str("currency"),
		PaidAt:    str("paid_at"),
	}
}
