package notification

import (
	"context"
	"strings"

	"github.com/smallbiznis/companion/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(configFromApp),
	fx.Provide(newMailer),
	fx.Provide(NewDispatcher),
	fx.Invoke(runDispatcher),
)

func configFromApp(cfg config.Config) Config {
	return Config{
		PollInterval: cfg.Email.PollInterval,
		BatchSize:    cfg.Email.BatchSize,
	}
}

func newMailer(cfg config.Config, log *zap.Logger) Mailer {
	key := strings.TrimSpace(cfg.Email.ResendAPIKey)
	if key == "" {
		return NewLogMailer(log)
	}
	return NewResendMailer(key, cfg.Email.From, cfg.Email.FromName)
}

func runDispatcher(lc fx.Lifecycle, dispatcher *Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go dispatcher.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
