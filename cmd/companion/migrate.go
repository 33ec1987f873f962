package main

import (
	"fmt"

	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/migration"
	"github.com/smallbiznis/companion/internal/observability/logger"
	"github.com/smallbiznis/companion/pkg/db"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(logger.Config{
				ServiceName: cfg.AppName,
				Environment: cfg.Environment,
				Level:       cfg.Observability.LogLevel,
			})
			if err != nil {
				return err
			}
			defer log.Sync()

			conn, err := db.Open(db.Config{
				Driver:          cfg.Database.Driver,
				DSN:             cfg.Database.DSN,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			return migration.Run(cmd.Context(), conn, log)
		},
	}
}
