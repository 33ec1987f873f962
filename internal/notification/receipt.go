package notification

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/companion/internal/events"
)

// Receipt is the content of a payment confirmation email.
type Receipt struct {
	Email    string
	OrderID  string
	PlanType string
	Amount   int64
	Currency string
	PaidAt   string
}

func ReceiptFromPayload(p events.PaymentCompletedPayload) Receipt {
	return Receipt{
		Email:    p.Email,
		OrderID:  p.OrderID,
		PlanType: p.PlanType,
		Amount:   p.Amount,
		Currency: p.Currency,
		PaidAt:   p.PaidAt,
	}
}

// FormattedAmount renders minor units, e.g. 990 CNY as "9.90 CNY".
func (r Receipt) FormattedAmount() string {
	value := decimal.New(r.Amount, -2).StringFixed(2)
	if r.Currency == "" {
		return value
	}
	return value + " " + strings.ToUpper(r.Currency)
}

func (r Receipt) planLabel() string {
	switch r.PlanType {
	case "monthly":
		return "Monthly membership"
	case "lifetime":
		return "Lifetime membership"
	default:
		return "Purchase"
	}
}

func (r Receipt) Subject() string {
	return "Your receipt for " + r.planLabel()
}

func (r Receipt) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your purchase.\n\n")
	fmt.Fprintf(&b, "Plan: %s\n", r.planLabel())
	fmt.Fprintf(&b, "Amount: %s\n", r.FormattedAmount())
	fmt.Fprintf(&b, "Order: %s\n", r.OrderID)
	if r.PaidAt != "" {
		fmt.Fprintf(&b, "Paid at: %s\n", r.PaidAt)
	}
	return b.String()
}

func (r Receipt) HTML() string {
	rows := [][2]string{
		{"Plan", r.planLabel()},
		{"Amount", r.FormattedAmount()},
		{"Order", r.OrderID},
	}
	if r.PaidAt != "" {
		rows = append(rows, [2]string{"Paid at", r.PaidAt})
	}
	var b strings.Builder
	b.WriteString(`<div style="font-family:sans-serif;max-width:480px;margin:0 auto">`)
	b.WriteString(`<h2>Thank you for your purchase</h2><table cellpadding="6">`)
	for _, row := range rows {
		fmt.Fprintf(&b, `<tr><td style="color:#666">%s</td><td>%s</td></tr>`, html.EscapeString(row[0]), html.EscapeString(row[1]))
	}
	b.WriteString(`</table></div>`)
	return b.String()
}
