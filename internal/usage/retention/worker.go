package retention

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/events"
	"github.com/smallbiznis/companion/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"github.com/smallbiznis/companion/internal/usage/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Counters *repository.SQLCounterStore
	Guests   *repository.SQLGuestRegistry
	Outbox   *events.Outbox         `optional:"true"`
	Metrics  *metrics.DomainMetrics `optional:"true"`
	Config   Config                 `optional:"true"`
}

// Worker prunes counters, idle guest rows and delivered outbox events past
// the retention window.
type Worker struct {
	log      *zap.Logger
	clock    clock.Clock
	counters *repository.SQLCounterStore
	guests   *repository.SQLGuestRegistry
	outbox   *events.Outbox
	metrics  *metrics.DomainMetrics
	cfg      Config
	location *time.Location
}

func NewWorker(p Params) *Worker {
	cfg := p.Config.withDefaults()
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Worker{
		log:      p.Log.Named("usage.retention"),
		clock:    clk,
		counters: p.Counters,
		guests:   p.Guests,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
		cfg:      cfg,
		location: loc,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("usage retention run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce deletes expired rows and returns how many were removed.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	if w.counters == nil || w.guests == nil {
		return 0, errors.New("retention_worker_unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := w.clock.Now().AddDate(0, 0, -w.cfg.RetentionDays)
	counters, err := w.counters.DeleteBefore(ctx, cutoff.In(w.location).Format(usagedomain.DayLayout))
	if err != nil {
		w.metrics.AddWorkerProcessed("usage_retention", "error", 1)
		return 0, err
	}
	guests, err := w.guests.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		w.metrics.AddWorkerProcessed("usage_retention", "error", 1)
		return counters, err
	}

	var published int64
	if w.outbox != nil {
		published, err = w.outbox.DeletePublishedBefore(ctx, cutoff)
		if err != nil {
			w.metrics.AddWorkerProcessed("usage_retention", "error", 1)
			return counters + guests, err
		}
	}

	total := counters + guests + published
	if total > 0 {
		w.log.Info("usage retention pruned rows",
			zap.Int64("counters", counters),
			zap.Int64("guest_devices", guests),
			zap.Int64("outbox_events", published),
		)
	}
	w.metrics.AddWorkerProcessed("usage_retention", "deleted", int(total))
	return total, nil
}
