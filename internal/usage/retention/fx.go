package retention

import (
	"context"

	"github.com/smallbiznis/companion/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.retention",
	fx.Provide(configFromApp),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func configFromApp(cfg config.Config) Config {
	return Config{
		RetentionDays: cfg.Usage.RetentionDays,
		PollInterval:  cfg.Usage.RetentionPoll,
		Timezone:      cfg.Usage.Timezone,
	}
}

func runWorker(lc fx.Lifecycle, worker *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
