package entitlement

import (
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) usagedomain.PlanResolver { return s }),
)
