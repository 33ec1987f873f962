package notification

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/companion/internal/events"
	"github.com/smallbiznis/companion/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const workerName = "receipt_dispatcher"

type Params struct {
	fx.In

	Log     *zap.Logger
	Outbox  *events.Outbox
	Mailer  Mailer
	Metrics *metrics.DomainMetrics `optional:"true"`
	Config  Config                 `optional:"true"`
}

// Dispatcher drains payment_completed events from the outbox into the mailer.
type Dispatcher struct {
	log     *zap.Logger
	outbox  *events.Outbox
	mailer  Mailer
	metrics *metrics.DomainMetrics
	cfg     Config
}

func NewDispatcher(p Params) *Dispatcher {
	return &Dispatcher{
		log:     p.Log.Named("notification.dispatcher"),
		outbox:  p.Outbox,
		mailer:  p.Mailer,
		metrics: p.Metrics,
		cfg:     p.Config.withDefaults(),
	}
}

func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil {
			d.log.Warn("receipt dispatch run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sends one batch and returns how many receipts went out.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if d.outbox == nil || d.mailer == nil {
		return 0, errors.New("receipt_dispatcher_unavailable")
	}
	claimed, err := d.outbox.Claim(ctx, events.EventPaymentCompleted, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range claimed {
		receipt := ReceiptFromPayload(events.PaymentCompletedFromMap(event.Payload))
		if receipt.Email == "" {
			d.log.Info("skipping receipt without recipient", zap.String("order_id", receipt.OrderID))
			d.metrics.AddWorkerProcessed(workerName, "skipped", 1)
			if err := d.outbox.MarkPublished(ctx, event.ID); err != nil {
				return sent, err
			}
			continue
		}

		if err := d.mailer.SendReceipt(ctx, receipt); err != nil {
			if event.Attempts >= d.cfg.MaxAttempts {
				d.log.Error("giving up on receipt",
					zap.String("order_id", receipt.OrderID),
					zap.Int("attempts", event.Attempts),
					zap.Error(err),
				)
				d.metrics.AddWorkerProcessed(workerName, "abandoned", 1)
				if err := d.outbox.MarkPublished(ctx, event.ID); err != nil {
					return sent, err
				}
				continue
			}
			d.log.Warn("receipt send failed", zap.String("order_id", receipt.OrderID), zap.Error(err))
			d.metrics.AddWorkerProcessed(workerName, "failed", 1)
			if err := d.outbox.MarkFailed(ctx, event.ID, err, d.retryAfter(event.Attempts)); err != nil {
				return sent, err
			}
			continue
		}

		if err := d.outbox.MarkPublished(ctx, event.ID); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		d.metrics.AddWorkerProcessed(workerName, "sent", sent)
	}
	return sent, nil
}

func (d *Dispatcher) retryAfter(attempts int) time.Duration {
	delay := d.cfg.RetryBase
	for i := 1; i < attempts && delay < time.Hour; i++ {
		delay *= 2
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
