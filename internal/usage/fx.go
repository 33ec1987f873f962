package usage

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/usage/counter/redisstore"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"github.com/smallbiznis/companion/internal/usage/repository"
	"github.com/smallbiznis/companion/internal/usage/retention"
	"github.com/smallbiznis/companion/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usage",
	fx.Provide(repository.NewSQLCounterStore),
	fx.Provide(repository.NewSQLGuestRegistry),
	fx.Provide(func(r *repository.SQLGuestRegistry) usagedomain.GuestRegistry { return r }),
	fx.Provide(newCounterStore),
	fx.Provide(service.NewService),
	retention.Module,
)

func newCounterStore(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, sql *repository.SQLCounterStore) (usagedomain.CounterStore, error) {
	if !strings.EqualFold(cfg.Usage.CounterStore, "redis") {
		return sql, nil
	}
	client, err := redisstore.Connect(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Named("usage").Info("using redis counter store")
	// Counters for a day stay readable through the following day.
	return redisstore.New(client, 48*time.Hour), nil
}
