package payment

import (
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/entitlement"
	"github.com/smallbiznis/companion/internal/payment/adapters"
	"github.com/smallbiznis/companion/internal/payment/adapters/creem"
	"github.com/smallbiznis/companion/internal/payment/repository"
	"github.com/smallbiznis/companion/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(creem.NewFactory())
	}),
	fx.Provide(func(s *entitlement.Service) service.Activator { return s }),
	fx.Provide(func(d *auth.Directory) service.UserDirectory { return d }),
	fx.Provide(service.NewService),
)
