package migration

import (
	"context"

	"github.com/smallbiznis/companion/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates on start when database.auto_migrate is set.
var Module = fx.Module("migration",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, conn *gorm.DB, log *zap.Logger) {
		if !cfg.Database.AutoMigrate {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Run(ctx, conn, log)
			},
		})
	}),
)
