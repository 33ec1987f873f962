package domain

import "time"

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventPaymentRefunded  EventKind = "payment_refunded"
	EventUnrecognized     EventKind = "unrecognized"
)

// PaymentEvent is a provider webhook normalized into one of the event kinds.
// Fields other than Kind and Type are optional.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	Kind            EventKind

	OrderRef      string
	LocalOrderID  string
	UserID        string
	ProductID     string
	CustomerEmail string
	PaymentMethod string
	Amount        *int64
	Currency      string
	PaidAt        *time.Time
}

// OrderRefs lists the identifiers the event can be matched by, most specific
// first.
func (e *PaymentEvent) OrderRefs() []string {
	refs := make([]string, 0, 2)
	if e.LocalOrderID != "" {
		refs = append(refs, e.LocalOrderID)
	}
	if e.OrderRef != "" && e.OrderRef != e.LocalOrderID {
		refs = append(refs, e.OrderRef)
	}
	return refs
}
