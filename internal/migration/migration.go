// Package migration creates and evolves the relational schema.
package migration

import (
	"context"
	"fmt"

	auditdomain "github.com/smallbiznis/companion/internal/audit/domain"
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/entitlement"
	"github.com/smallbiznis/companion/internal/events"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every persisted table in dependency order.
func Models() []any {
	return []any{
		&auth.User{},
		&entitlement.Profile{},
		&entitlement.Grant{},
		&usagedomain.UsageCounter{},
		&usagedomain.GuestDevice{},
		&paymentdomain.Payment{},
		&paymentdomain.EventRecord{},
		&events.OutboxEvent{},
		&auditdomain.AuditLog{},
	}
}

// Run applies the schema. AutoMigrate only adds tables, columns and indexes,
// so running it on every start is safe.
func Run(ctx context.Context, conn *gorm.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	for _, model := range Models() {
		if err := conn.WithContext(ctx).AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	log.Named("migration").Info("schema up to date", zap.Int("tables", len(Models())))
	return nil
}
