// Package notification delivers payment receipts queued in the outbox.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/resendlabs/resend-go"
	"go.uber.org/zap"
)

var ErrMissingRecipient = errors.New("missing_recipient")

// Mailer sends one rendered receipt.
type Mailer interface {
	SendReceipt(ctx context.Context, receipt Receipt) error
}

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client    *resend.Client
	fromEmail string
	fromName  string
}

func NewResendMailer(apiKey, fromEmail, fromName string) *ResendMailer {
	if fromEmail == "" {
		fromEmail = "noreply@companion.local"
	}
	if fromName == "" {
		fromName = "Companion"
	}
	return &ResendMailer{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (m *ResendMailer) SendReceipt(ctx context.Context, receipt Receipt) error {
	to := strings.TrimSpace(receipt.Email)
	if to == "" {
		return ErrMissingRecipient
	}
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail),
		To:      []string{to},
		Subject: receipt.Subject(),
		Html:    receipt.HTML(),
		Text:    receipt.Text(),
	}
	if _, err := m.client.Emails.Send(params); err != nil {
		return fmt.Errorf("failed to send receipt via Resend: %w", err)
	}
	return nil
}

// LogMailer only logs receipts. It is used when no email provider is
// configured.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log.Named("notification.mailer")}
}

func (m *LogMailer) SendReceipt(ctx context.Context, receipt Receipt) error {
	m.log.Info("receipt not sent, no email provider configured",
		zap.String("order_id", receipt.OrderID),
		zap.String("amount", receipt.FormattedAmount()),
	)
	return nil
}
