package main

import (
	"github.com/smallbiznis/companion/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Long: `Run the HTTP API, the usage retention worker and the receipt dispatcher.

Configuration comes from .env, the YAML file named by COMPANION_CONFIG and
COMPANION_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application := fx.New(app.Modules())
			if err := application.Err(); err != nil {
				return err
			}
			application.Run()
			return nil
		},
	}
}
