package audit

import (
	"github.com/smallbiznis/companion/internal/audit/repository"
	"github.com/smallbiznis/companion/internal/audit/service"
	"go.uber.org/fx"
)

// Module records payment state changes. Handlers and workers reach it through
// auditdomain.Service.
var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
