// Package app assembles the API process from the feature modules.
package app

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/companion/internal/audit"
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/chat"
	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/entitlement"
	"github.com/smallbiznis/companion/internal/events"
	"github.com/smallbiznis/companion/internal/migration"
	"github.com/smallbiznis/companion/internal/notification"
	"github.com/smallbiznis/companion/internal/observability"
	"github.com/smallbiznis/companion/internal/payment"
	"github.com/smallbiznis/companion/internal/server"
	"github.com/smallbiznis/companion/internal/speech"
	"github.com/smallbiznis/companion/internal/usage"
	"github.com/smallbiznis/companion/pkg/db"
	"go.uber.org/fx"
)

// Modules wires the API. The migration module comes before the workers so
// the schema exists before their first poll.
func Modules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		auth.Module,
		audit.Module,
		events.Module,
		entitlement.Module,
		usage.Module,
		payment.Module,
		notification.Module,
		chat.Module,
		speech.Module,

		server.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
